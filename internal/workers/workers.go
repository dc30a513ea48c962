// Package workers runs captures and integrity checks on River queues.
package workers

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"gorm.io/gorm"

	"linkvault/internal/models"
	"linkvault/internal/monitor"
	"linkvault/internal/plans"
	"linkvault/internal/service"
)

const (
	SweepInterval   = time.Minute
	CleanupInterval = time.Hour
)

// Config sizes the worker pools.
type Config struct {
	ArchiveWorkers int
	CheckWorkers   int
	SweepInterval  time.Duration
	CleanupAge     time.Duration
}

// Deps are the components the workers drive.
type Deps struct {
	DB      *gorm.DB
	Service *service.Service
	Monitor *monitor.Monitor
	Queue   *RiverQueueManager
}

// NewWorkers registers every job kind.
func NewWorkers(d Deps) *river.Workers {
	w := river.NewWorkers()
	river.AddWorker(w, NewArchiveWorker(d.Service))
	river.AddWorker(w, NewLivenessCheckWorker(d.Monitor))
	river.AddWorker(w, NewContentCheckWorker(d.Monitor))
	river.AddWorker(w, NewIntegritySweepWorker(d.Monitor, d.Queue))
	river.AddWorker(w, NewCleanupWorker(d.DB, d.Service.Store()))
	return w
}

// SweepSchedule lists one sweep per tier and check type that tier monitors.
func SweepSchedule() []IntegritySweepArgs {
	var out []IntegritySweepArgs
	for _, tier := range plans.Tiers() {
		for _, checkType := range []string{models.CheckLiveness, models.CheckContentDiff} {
			if _, ok := plans.For(tier).Cadence(checkType); ok {
				out = append(out, IntegritySweepArgs{Tier: tier, CheckType: checkType})
			}
		}
	}
	return out
}

// PeriodicJobs is the recurring schedule: the integrity sweeps and the
// capture cleanup.
func PeriodicJobs(cfg Config) []*river.PeriodicJob {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = SweepInterval
	}
	var jobs []*river.PeriodicJob
	for _, args := range SweepSchedule() {
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &river.InsertOpts{Queue: QueueChecks, Tags: []string{"sweep", args.Tier}}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	jobs = append(jobs, river.NewPeriodicJob(
		river.PeriodicInterval(CleanupInterval),
		func() (river.JobArgs, *river.InsertOpts) {
			return CaptureCleanupArgs{OlderThan: cfg.CleanupAge}, nil
		},
		nil,
	))
	return jobs
}

// NewRiverClient builds the River client over the shared pool and attaches
// it to d.Queue.
func NewRiverClient(pool *pgxpool.Pool, cfg Config, d Deps) (*river.Client[pgx.Tx], error) {
	if cfg.ArchiveWorkers <= 0 {
		cfg.ArchiveWorkers = 5
	}
	if cfg.CheckWorkers <= 0 {
		cfg.CheckWorkers = 20
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
			QueueArchive:       {MaxWorkers: cfg.ArchiveWorkers},
			QueueChecks:        {MaxWorkers: cfg.CheckWorkers},
		},
		Workers:      NewWorkers(d),
		PeriodicJobs: PeriodicJobs(cfg),
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	d.Queue.RiverClient = client
	return client, nil
}
