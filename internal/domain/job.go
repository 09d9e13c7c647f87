package domain

import (
	"strings"
	"time"
)

// JobType enumerates supported render job categories.
type JobType string

const (
	JobTypeText2Img              JobType = "text2img"
	JobTypeImg2Img               JobType = "img2img"
	JobTypeDepthMap              JobType = "depth-map"
	JobTypeControlNet            JobType = "controlnet"
	JobTypeUpscale               JobType = "upscale"
	JobTypeVRReconstruct         JobType = "vr_reconstruct"
	JobTypeFloorplanGenerate     JobType = "floorplan_generate"
	JobTypeProductInsertion      JobType = "product_insertion"
	JobTypeMoodboardSpace        JobType = "moodboard_space"
	JobTypeSketchRealtimeSession JobType = "sketch_realtime_session"
)

var knownJobTypes = map[JobType]struct{}{
	JobTypeText2Img:              {},
	JobTypeImg2Img:               {},
	JobTypeDepthMap:              {},
	JobTypeControlNet:            {},
	JobTypeUpscale:               {},
	JobTypeVRReconstruct:         {},
	JobTypeFloorplanGenerate:     {},
	JobTypeProductInsertion:      {},
	JobTypeMoodboardSpace:        {},
	JobTypeSketchRealtimeSession: {},
}

// ParseJobType normalizes raw input and reports whether it names a known job type.
func ParseJobType(raw string) (JobType, bool) {
	t := JobType(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownJobTypes[t]
	return t, ok
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPlanned            JobStatus = "planned"
	JobStatusDispatchedSkeleton JobStatus = "dispatched-skeleton"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCompletedSkeleton  JobStatus = "completed-skeleton"
)

// Revisitable reports whether a record in this status may still be dispatched.
// An empty status belongs to a folder whose record was never written.
func (s JobStatus) Revisitable() bool {
	switch s {
	case "", JobStatusPlanned, JobStatusDispatchedSkeleton:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the status is a successful terminal state.
func (s JobStatus) Succeeded() bool {
	return s == JobStatusCompleted || s == JobStatusCompletedSkeleton
}

// ModeSkeleton marks records produced by the placeholder path.
const ModeSkeleton = "skeleton-no-inference"

// RealMode returns the mode recorded after a successful engine run.
func RealMode(engine string) string {
	return "real-" + engine
}

// RealErrorMode returns the mode recorded after the engine failed.
func RealErrorMode(engine string) string {
	return "real-" + engine + "-error"
}

// DefaultPlannedOutput is the artifact name used when a job does not name one.
const DefaultPlannedOutput = "output.png"

// JobRecord is the persisted state of one job; it lives in the job folder as meta.json.
type JobRecord struct {
	JobID         string     `json:"job_id"`
	JobType       JobType    `json:"job_type"`
	Status        JobStatus  `json:"status"`
	Mode          string     `json:"mode,omitempty"`
	Parameters    Parameters `json:"parameters"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	PlannedOutput string     `json:"planned_output"`
	OutputImage   string     `json:"output_image,omitempty"`
	Error         string     `json:"error,omitempty"`
	JobFolder     string     `json:"job_folder"`
	Revision      int64      `json:"revision"`
}

// JobSummary is the condensed view returned by job listings.
type JobSummary struct {
	JobID         string     `json:"job_id"`
	JobType       JobType    `json:"job_type"`
	Status        JobStatus  `json:"status"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	PlannedOutput string     `json:"planned_output"`
	OutputImage   string     `json:"output_image,omitempty"`
}

// Summary condenses the record for listings.
func (r JobRecord) Summary() JobSummary {
	return JobSummary{
		JobID:         r.JobID,
		JobType:       r.JobType,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		PlannedOutput: r.PlannedOutput,
		OutputImage:   r.OutputImage,
	}
}

// ArtifactName returns the file name the job promises to produce.
func (r JobRecord) ArtifactName() string {
	if name := strings.TrimSpace(r.PlannedOutput); name != "" {
		return name
	}
	return DefaultPlannedOutput
}

// Stamp returns a pointer to t truncated to microseconds in UTC, the precision kept on disk.
func Stamp(t time.Time) *time.Time {
	ts := t.UTC().Truncate(time.Microsecond)
	return &ts
}
