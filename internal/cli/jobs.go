package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		pairs      []string
		paramsFile string
	)
	cmd := &cobra.Command{
		Use:   "create <job_type>",
		Short: "Plan a job and dispatch it to the renderer",
		Example: `  studioctl create text2img -p prompt="a sunlit loft" -p width=768 -p style_preset=japandi
  studioctl create text2img --params-file job.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if paramsFile != "" {
				data, err := os.ReadFile(paramsFile)
				if err != nil {
					return fmt.Errorf("read params file: %w", err)
				}
				if err := json.Unmarshal(data, &params); err != nil {
					return fmt.Errorf("parse params file: %w", err)
				}
			}
			flagParams, err := parseParams(pairs)
			if err != nil {
				return err
			}
			for k, v := range flagParams {
				params[k] = v
			}
			body := map[string]any{"job_type": args[0], "parameters": params}
			data, _, err := opts.client().planner(cmd.Context(), http.MethodPost, "/api/jobs", body)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "job parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "JSON file holding the parameter object")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [date]",
		Short: "List the jobs of a day (default today, UTC)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC().Format("2006-01-02")
			if len(args) == 1 {
				date = args[0]
			}
			data, _, err := opts.client().planner(cmd.Context(), http.MethodGet, "/api/jobs/"+url.PathEscape(date), nil)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <date> <job_id>",
		Short: "Show a job record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			data, _, err := opts.client().planner(cmd.Context(), http.MethodGet, path, nil)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
}

func newImageCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "image <date> <job_id>",
		Short: "Download a job artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1]) + "/image"
			data, _, err := opts.client().planner(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return printResponse(cmd.ErrOrStderr(), data, err)
			}
			if output == "" {
				output = args[1] + ".png"
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default <job_id>.png)")
	return cmd
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "archive <date>",
		Short: "Download every record and artifact of a day as a zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _, err := opts.client().planner(cmd.Context(), http.MethodGet, "/api/jobs/"+url.PathEscape(args[0])+"/archive", nil)
			if err != nil {
				return printResponse(cmd.ErrOrStderr(), data, err)
			}
			if output == "" {
				output = "jobs-" + args[0] + ".zip"
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default jobs-<date>.zip)")
	return cmd
}

func newRedispatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redispatch <job_folder>",
		Short: "Dispatch an existing job folder again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"job_folder": args[0]}
			data, _, err := opts.client().planner(cmd.Context(), http.MethodPost, "/api/jobs/redispatch", body)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
}

func newCompleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <job_folder>",
		Short: "Finish a job on the renderer with the placeholder artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"job_folder": args[0]}
			data, _, err := opts.client().renderer(cmd.Context(), http.MethodPost, "/api/render/complete-skeleton", body)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
}

func newPresetsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets [kind]",
		Short: "List preset kinds, or the presets of one kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/presets"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			data, _, err := opts.client().planner(cmd.Context(), http.MethodGet, path, nil)
			return printResponse(cmd.OutOrStdout(), data, err)
		},
	}
}
