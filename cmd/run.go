// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/observability"
	"github.com/demodrive-ai/demodrive/internal/service"
)

var (
	runProjectID   string
	runFailFast    bool
	runNoRecovery  bool
	runMaxRetries  int
	runStepTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Execute a recorded walkthrough plan in a browser session.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project", "default", "project the session belongs to")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "abort the session on the first failed step")
	runCmd.Flags().BoolVar(&runNoRecovery, "no-recovery", false, "disable vision-guided recovery")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1, "override max retries per step (-1 keeps the configured default)")
	runCmd.Flags().DurationVar(&runStepTimeout, "step-timeout", 0, "override per-step timeout (0 keeps the configured default)")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	planID := args[0]
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	components, err := service.Build(ctx, &appCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer shutdownCancel()
		components.Shutdown(shutdownCtx)
	}()

	sess, err := components.Engine.CreateSession(ctx, runProjectID, planID, sessionOverride())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if components.Streamer != nil {
		components.Streamer.Follow(sess.ID, sess)
	}

	done, err := components.Engine.Start(ctx, sess)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// First signal requests a graceful stop; a second one tears the run down.
	for running := true; running; {
		select {
		case <-done:
			running = false
		case sig := <-sigCh:
			logger.Warn("Signal received, stopping session.", zap.String("signal", sig.String()))
			if _, err := components.Engine.Stop(ctx, sess.ID); err != nil {
				logger.Error("Graceful stop failed, cancelling run.", zap.Error(err))
				cancel()
			}
			select {
			case <-done:
			case <-sigCh:
				cancel()
				<-done
			}
			running = false
		}
	}

	snap := sess.Snapshot()
	components.Archive(ctx, snap, sess.Events())
	printSummary(cmd, snap)

	if snap.State == schemas.SessionFailed {
		return fmt.Errorf("session %s failed: %s", snap.ID, snap.Error)
	}
	return nil
}

// sessionOverride maps the run flags onto a per-session config override.
// Returns nil when every flag is at its default so the engine keeps the
// configured defaults untouched.
func sessionOverride() *schemas.SessionConfig {
	if !runFailFast && !runNoRecovery && runMaxRetries < 0 && runStepTimeout == 0 {
		return nil
	}
	override := service.SessionDefaults(&appCfg)
	if runFailFast {
		override.FailFast = true
	}
	if runNoRecovery {
		override.EnableRecovery = false
	}
	if runMaxRetries >= 0 {
		override.MaxRetriesPerStep = runMaxRetries
	}
	if runStepTimeout > 0 {
		override.StepTimeout = runStepTimeout
	}
	return &override
}

func printSummary(cmd *cobra.Command, snap schemas.SessionSnapshot) {
	completed, failed, skipped := 0, 0, 0
	for _, step := range snap.Steps {
		switch step.Status {
		case schemas.StepCompleted:
			completed++
		case schemas.StepFailed:
			failed++
		case schemas.StepSkipped:
			skipped++
		}
	}
	cmd.Printf("session %s finished: state=%s steps=%d completed=%d failed=%d skipped=%d\n",
		snap.ID, snap.State, snap.TotalSteps, completed, failed, skipped)
}
