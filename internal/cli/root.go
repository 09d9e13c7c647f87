// Package cli implements studioctl, a command-line client for the planner
// and renderer services.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultPlannerURL  = "http://localhost:8000"
	defaultRendererURL = "http://localhost:8001"
)

type rootOptions struct {
	plannerURL  string
	rendererURL string
	timeout     time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.plannerURL, o.rendererURL, o.timeout)
}

// NewRootCommand builds the studioctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "studioctl",
		Short: "Create, inspect and complete render jobs",
		Long: `studioctl talks to a running planner (job creation and queries) and
renderer (manual completion). URLs default to STUDIO_PLANNER_URL and
STUDIO_RENDERER_URL when set.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.plannerURL, "planner-url", envOr("STUDIO_PLANNER_URL", defaultPlannerURL), "planner base URL")
	root.PersistentFlags().StringVar(&opts.rendererURL, "renderer-url", envOr("STUDIO_RENDERER_URL", defaultRendererURL), "renderer base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 11*time.Minute, "HTTP timeout; dispatch waits for the render")

	root.AddCommand(
		newCreateCommand(opts),
		newListCommand(opts),
		newGetCommand(opts),
		newImageCommand(opts),
		newArchiveCommand(opts),
		newRedispatchCommand(opts),
		newCompleteCommand(opts),
		newPresetsCommand(opts),
		newEngineKeyCommand(),
	)
	return root
}

// Execute runs studioctl and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// printJSON pretty-prints a JSON response. Non-JSON data is written as-is.
func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, werr := w.Write(data)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// printResponse prints the body of any response, including failed ones, and
// returns the request error.
func printResponse(w io.Writer, data []byte, err error) error {
	var apiErr *apiError
	if err != nil && !errors.As(err, &apiErr) {
		return err
	}
	if len(data) > 0 {
		if perr := printJSON(w, data); perr != nil {
			return perr
		}
	}
	return err
}

// parseParams turns key=value pairs into a parameter bag. Values that parse
// as JSON keep their type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must look like key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
			continue
		}
		out[key] = value
	}
	return out, nil
}
