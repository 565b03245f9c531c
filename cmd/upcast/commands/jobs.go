package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/upcast/upcast/coordinator"
	"github.com/upcast/upcast/version"
)

// NewSubmitCommand submits a job manifest to a running engine.
func NewSubmitCommand() *cobra.Command {
	var (
		addr string
		file string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var req coordinator.SubmitRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parse manifest %s: %w", file, err)
			}
			if errs := req.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid manifest: %v", errs)
			}

			var out map[string]any
			if err := newAPIClient(addr).postJSON("/jobs", &req, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	addrFlag(cmd, &addr)
	cmd.Flags().StringVarP(&file, "file", "f", "", "job manifest file (JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewStatusCommand prints a job's status and per-account progress.
func NewStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newAPIClient(addr).getJSON("/jobs/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	addrFlag(cmd, &addr)
	return cmd
}

// NewLogsCommand streams a job's log, following until the job is terminal.
func NewLogsCommand() *cobra.Command {
	var (
		addr   string
		offset int
	)

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Stream a job's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/jobs/%s/log?offset=%d", args[0], offset)
			return newAPIClient(addr).stream(path, os.Stdout)
		},
	}

	addrFlag(cmd, &addr)
	cmd.Flags().IntVar(&offset, "offset", 0, "start from this line")
	return cmd
}

// NewCancelCommand cancels a running job.
func NewCancelCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newAPIClient(addr).postJSON("/jobs/"+args[0]+"/cancel", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	addrFlag(cmd, &addr)
	return cmd
}

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersionInfo().String())
		},
	}
}
