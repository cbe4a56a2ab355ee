package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect backup-then-migrate runs",
	}

	cmd.AddCommand(
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunWaitCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req StartRunRequest
	var wait bool
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Trigger a new run (backup, then migration)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.StartRun(cmd.Context(), req)
			if err != nil {
				return err
			}
			out.Notice("Run started: %s", run.ID)

			if !wait {
				return out.Run(run)
			}
			return waitAndPrint(cmd.Context(), client, out, run.ID, interval, timeout)
		},
	}

	cmd.Flags().StringVar(&req.Database, "database", "", "Database to back up (service default if empty)")
	cmd.Flags().StringVar(&req.RequestedBy, "requested-by", "", "Who triggered the run")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Maximum time to wait")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run state and step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return out.Run(run)
		},
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return out.Runs(runs)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state (START, BACKING_UP, MIGRATING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunWaitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait ID",
		Short: "Wait until a run finishes; exits non-zero if it failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitAndPrint(cmd.Context(), clientFn(), outputFn(), args[0], interval, timeout)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Maximum time to wait")

	return cmd
}

func waitAndPrint(ctx context.Context, client *Client, out *Output, id string, interval, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run, err := client.WaitRun(ctx, id, interval)
	if err != nil {
		return err
	}

	if err := out.Run(run); err != nil {
		return err
	}
	if run.State == "FAILED" {
		return fmt.Errorf("%w: %s at %s: %s", ErrRunFailed, run.ErrorCode, run.FailedStep, run.Error)
	}
	return nil
}
