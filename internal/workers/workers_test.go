package workers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkvault/internal/archivers"
	"linkvault/internal/models"
	"linkvault/internal/monitor"
	"linkvault/internal/pipeline"
	"linkvault/internal/service"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "workers.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func makeJob[T river.JobArgs](args T) *river.Job[T] {
	return &river.Job[T]{JobRow: &rivertype.JobRow{ID: 1, Attempt: 1, MaxAttempts: 1}, Args: args}
}

func createLink(t *testing.T, db *gorm.DB, plan, status, url string) models.Link {
	t.Helper()
	account := models.Account{Email: url + "@example.com", Plan: plan}
	if err := db.Create(&account).Error; err != nil {
		t.Fatal(err)
	}
	link := models.Link{Shortcode: utils.GenerateShortcode(8), URL: url, AccountID: account.ID, Method: archivers.MethodSingleFile, Status: status}
	if err := db.Create(&link).Error; err != nil {
		t.Fatal(err)
	}
	return link
}

type staticBackend struct{}

func (staticBackend) Name() string { return archivers.MethodSingleFile }

func (staticBackend) Capture(ctx context.Context, req archivers.Request) (*archivers.Result, error) {
	primary := filepath.Join(req.Dir, archivers.PrimaryFile)
	return &archivers.Result{PrimaryPath: primary}, os.WriteFile(primary, []byte("<p>queued</p>"), 0644)
}

type countingEnqueuer struct {
	checks map[uint]string
}

func (c *countingEnqueuer) EnqueueCheck(ctx context.Context, linkID uint, checkType string) error {
	c.checks[linkID] = checkType
	return nil
}

func TestSweepSchedule(t *testing.T) {
	schedule := SweepSchedule()
	if len(schedule) != 5 {
		t.Fatalf("expected 5 sweeps, got %d: %v", len(schedule), schedule)
	}
	for _, s := range schedule {
		if s.Tier == models.PlanFree && s.CheckType == models.CheckContentDiff {
			t.Error("free tier has no content monitoring")
		}
	}
	if jobs := PeriodicJobs(Config{}); len(jobs) != len(schedule)+1 {
		t.Errorf("expected sweeps plus cleanup, got %d jobs", len(jobs))
	}
}

func TestCheckArgs(t *testing.T) {
	args, err := CheckArgs(7, models.CheckLiveness)
	if err != nil || args.Kind() != "liveness_check" {
		t.Errorf("unexpected liveness args %v %v", args, err)
	}
	args, err = CheckArgs(7, models.CheckContentDiff)
	if err != nil || args.Kind() != "content_check" {
		t.Errorf("unexpected content args %v %v", args, err)
	}
	if _, err := CheckArgs(7, "ping"); err == nil {
		t.Error("unknown check type should fail")
	}
}

func TestQueueManagerWithoutClient(t *testing.T) {
	q := NewRiverQueueManager(nil)
	if err := q.EnqueueCheck(context.Background(), 1, models.CheckLiveness); err == nil {
		t.Error("expected error without client")
	}
	if err := q.EnqueueArchive(context.Background(), 1, ""); err == nil {
		t.Error("expected error without client")
	}
}

func TestArchiveWorker(t *testing.T) {
	db := openTestDB(t)
	p := pipeline.New(storage.NewArchiveStore(t.TempDir()), archivers.NewRegistry(staticBackend{}), nil,
		pipeline.Options{Retry: utils.RetryConfig{BackoffType: utils.FixedBackoff, InitialDelay: time.Millisecond}})
	w := NewArchiveWorker(service.New(db, p))
	link := createLink(t, db, models.PlanProfessional, models.LinkPending, "https://example.com/queued")

	if err := w.Work(context.Background(), makeJob(ArchiveJobArgs{LinkID: link.ID})); err != nil {
		t.Fatal(err)
	}
	var stored models.Link
	db.First(&stored, link.ID)
	if stored.Status != models.LinkArchived || stored.StorageKey == "" {
		t.Errorf("queued capture should archive the link, got %+v", stored)
	}

	err := w.Work(context.Background(), makeJob(ArchiveJobArgs{LinkID: 9999}))
	if !errors.Is(err, service.ErrLinkNotFound) {
		t.Errorf("missing link should cancel the job, got %v", err)
	}
}

func TestCheckWorkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>live</p>"))
	}))
	defer srv.Close()

	db := openTestDB(t)
	m := monitor.New(db, storage.NewArchiveStore(t.TempDir()), monitor.Config{CheckTimeout: time.Second})
	link := createLink(t, db, models.PlanSovereign, models.LinkArchived, srv.URL+"/live")

	if err := NewLivenessCheckWorker(m).Work(context.Background(), makeJob(LivenessCheckArgs{LinkID: link.ID})); err != nil {
		t.Fatal(err)
	}
	var check models.IntegrityCheck
	if err := db.Where("link_id = ? AND check_type = ?", link.ID, models.CheckLiveness).First(&check).Error; err != nil {
		t.Fatal(err)
	}
	if check.Status != models.StatusOK {
		t.Errorf("expected ok liveness, got %s", check.Status)
	}

	err := NewContentCheckWorker(m).Work(context.Background(), makeJob(ContentCheckArgs{LinkID: link.ID}))
	if !errors.Is(err, monitor.ErrNoSnapshot) {
		t.Errorf("content check without snapshot should cancel, got %v", err)
	}
}

func TestIntegritySweepWorker(t *testing.T) {
	db := openTestDB(t)
	m := monitor.New(db, storage.NewArchiveStore(t.TempDir()), monitor.Config{})
	due := createLink(t, db, models.PlanSovereign, models.LinkArchived, "https://example.com/due")
	createLink(t, db, models.PlanSovereign, models.LinkPending, "https://example.com/pending")

	enq := &countingEnqueuer{checks: map[uint]string{}}
	w := NewIntegritySweepWorker(m, enq)
	if err := w.Work(context.Background(), makeJob(IntegritySweepArgs{Tier: models.PlanSovereign, CheckType: models.CheckLiveness})); err != nil {
		t.Fatal(err)
	}
	if len(enq.checks) != 1 || enq.checks[due.ID] != models.CheckLiveness {
		t.Errorf("only the archived link is due, got %v", enq.checks)
	}
}

func TestCleanupWorker(t *testing.T) {
	db := openTestDB(t)
	store := storage.NewArchiveStore(t.TempDir())
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	stale, err := store.Begin("https://example.com/crashed", old)
	if err != nil {
		t.Fatal(err)
	}
	os.Chtimes(stale.Dir, old, old)

	stuck := createLink(t, db, models.PlanFree, models.LinkPending, "https://example.com/stuck")
	db.Model(&models.Link{}).Where("id = ?", stuck.ID).UpdateColumn("updated_at", old)
	fresh := createLink(t, db, models.PlanFree, models.LinkPending, "https://example.com/fresh")

	w := NewCleanupWorker(db, store)
	if err := w.RunCleanup(context.Background(), 0, now); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(stale.Dir); !os.IsNotExist(err) {
		t.Error("stale pending directory should be removed")
	}
	var got models.Link
	db.First(&got, stuck.ID)
	if got.Status != models.LinkFailed {
		t.Errorf("stuck link should be failed, got %s", got.Status)
	}
	db.First(&got, fresh.ID)
	if got.Status != models.LinkPending {
		t.Errorf("fresh link should stay pending, got %s", got.Status)
	}
}
