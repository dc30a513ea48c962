package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"linkvault/internal/app"
	"linkvault/internal/models"
	"linkvault/internal/monitor"
	"linkvault/internal/workers"
)

var (
	sweepTier   string
	sweepType   string
	sweepInline bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run an integrity sweep now",
	Long: `Select archived links whose last integrity check is older than their
plan's cadence and schedule a check for each. With --inline the checks run
in this process instead of on the queue.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepTier, "tier", "", "only sweep this plan tier")
	sweepCmd.Flags().StringVar(&sweepType, "type", "", "only run this check type (liveness or content_diff)")
	sweepCmd.Flags().BoolVar(&sweepInline, "inline", false, "run checks here instead of enqueueing them")
	rootCmd.AddCommand(sweepCmd)
}

// inlineChecks runs each check as it is scheduled.
type inlineChecks struct {
	m      *monitor.Monitor
	failed int
}

func (c *inlineChecks) EnqueueCheck(ctx context.Context, linkID uint, checkType string) error {
	chk, err := c.m.Run(ctx, linkID, checkType)
	if err != nil {
		c.failed++
		return err
	}
	printInfo("  link %d %s: %s", linkID, checkType, chk.Status)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	if sweepType != "" && sweepType != models.CheckLiveness && sweepType != models.CheckContentDiff {
		return fmt.Errorf("unknown check type %q", sweepType)
	}

	return withApp(cmd.Context(), func(a *app.App) error {
		var enq monitor.Enqueuer = a.Queue
		inline := &inlineChecks{m: a.Monitor}
		if sweepInline {
			enq = inline
		} else if _, err := workers.NewRiverClient(a.Pool, a.WorkerConfig(), a.WorkerDeps()); err != nil {
			return fmt.Errorf("create river client: %w", err)
		}

		printHeader("Integrity sweep")
		total := 0
		for _, s := range workers.SweepSchedule() {
			if (sweepTier != "" && s.Tier != sweepTier) || (sweepType != "" && s.CheckType != sweepType) {
				continue
			}
			n, err := a.Monitor.Sweep(cmd.Context(), s.Tier, s.CheckType, time.Now(), enq)
			if err != nil {
				return err
			}
			printInfo("%-13s %-13s %d scheduled", s.Tier, s.CheckType, n)
			total += n
		}
		printInfo("%d checks scheduled", total)
		if inline.failed > 0 {
			printWarning("%d checks failed, see the log", inline.failed)
		}
		return nil
	})
}
