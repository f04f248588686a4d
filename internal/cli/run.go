package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seatwatch/internal/agent"
	"seatwatch/internal/app"
)

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			runErr := a.Err()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
			defer stopCancel()
			_ = a.Stop(stopCtx)
			return runErr
		},
	}
}

func onceCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit",
		Long: `Run exactly one observe/detect/persist/notify cycle without sleeping.
Exits non-zero when the cycle failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.RunOnce(ctx)
			out := cmd.OutOrStdout()
			switch {
			case res.Aborted:
				return errors.New("interrupted")
			case res.Outcome == agent.OutcomeFailed:
				return fmt.Errorf("cycle failed: %w", res.Err)
			}
			fmt.Fprintf(out, "%d item(s) observed in %s\n", res.Items, res.Duration.Round(time.Millisecond))
			if res.Decision.Empty() {
				fmt.Fprintln(out, "no changes")
			} else {
				fmt.Fprintln(out, res.Decision.Message())
			}
			if res.NotifyErr != nil {
				fmt.Fprintf(out, "notification failed: %v\n", res.NotifyErr)
			}
			if res.SaveErr != nil {
				return fmt.Errorf("save: %w", res.SaveErr)
			}
			return nil
		},
	}
}
