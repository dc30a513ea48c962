package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkvault/internal/archivers"
	"linkvault/internal/models"
	"linkvault/internal/monitor"
	"linkvault/internal/pipeline"
	"linkvault/internal/plans"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

// pageBackend saves whatever the page variable holds at capture time.
type pageBackend struct {
	page *[]byte
}

func (b pageBackend) Name() string { return archivers.MethodSingleFile }

func (b pageBackend) Capture(ctx context.Context, req archivers.Request) (*archivers.Result, error) {
	primary := filepath.Join(req.Dir, archivers.PrimaryFile)
	if err := os.WriteFile(primary, *b.page, 0644); err != nil {
		return nil, err
	}
	return &archivers.Result{PrimaryPath: primary}, nil
}

type recordingQueue struct {
	linkIDs []uint
	err     error
}

func (q *recordingQueue) EnqueueArchive(ctx context.Context, linkID uint, requesterIP string) error {
	if q.err != nil {
		return q.err
	}
	q.linkIDs = append(q.linkIDs, linkID)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")), &gorm.Config{
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

func newService(t *testing.T, page *[]byte) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	p := pipeline.New(
		storage.NewArchiveStore(t.TempDir()),
		archivers.NewRegistry(pageBackend{page: page}),
		nil,
		pipeline.Options{Retry: utils.RetryConfig{BackoffType: utils.FixedBackoff, InitialDelay: time.Millisecond}},
	)
	svc := New(db, p)
	svc.SetURLValidator(func(string) error { return nil })
	return svc, db
}

func createAccount(t *testing.T, db *gorm.DB, plan string) models.Account {
	t.Helper()
	account := models.Account{Email: plan + "@example.com", Plan: plan}
	if err := db.Create(&account).Error; err != nil {
		t.Fatal(err)
	}
	return account
}

func TestArchiveDuplicateAndDrift(t *testing.T) {
	original := "<html><body><p>alpha beta gamma delta epsilon zeta eta theta iota kappa</p></body></html>"
	page := []byte(original)
	live := original
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(live))
	}))
	defer srv.Close()

	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanProfessional)
	ctx := context.Background()
	url := srv.URL + "/article"

	first, res, err := svc.CreateArchive(ctx, utils.ArchiveRequest{URL: url, AccountID: account.ID}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != pipeline.OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}

	var stored models.Link
	db.First(&stored, first.ID)
	if stored.Status != models.LinkArchived || stored.StorageKey == "" || stored.Checksum == "" {
		t.Fatalf("link not persisted as archived: %+v", stored)
	}
	if stored.TrustTier != plans.TrustEnhanced || stored.TrustSource != pipeline.SourceServerCertified {
		t.Errorf("expected enhanced/server_certified trust, got %s/%s", stored.TrustTier, stored.TrustSource)
	}
	if stored.TrustMetadata["checksum_sha256"] != stored.Checksum {
		t.Errorf("trust metadata should carry the checksum, got %v", stored.TrustMetadata)
	}
	if stored.CaptureLog == "" {
		t.Error("capture log should be kept on the link")
	}
	if len(stored.Shortcode) != plans.For(models.PlanProfessional).MinIdentifierLength {
		t.Errorf("unexpected shortcode %q", stored.Shortcode)
	}

	second, res, err := svc.CreateArchive(ctx, utils.ArchiveRequest{URL: url, AccountID: account.ID, Method: archivers.MethodSingleFile}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Snapshot.WasDuplicate {
		t.Error("identical capture should collapse onto the first snapshot")
	}
	var dup models.Link
	db.First(&dup, second.ID)
	if dup.StorageKey != stored.StorageKey {
		t.Errorf("duplicate should share storage key %s, got %s", stored.StorageKey, dup.StorageKey)
	}
	snaps, _ := svc.Store().ListSnapshots(url)
	if len(snaps) != 1 {
		t.Errorf("expected one snapshot on disk, got %d", len(snaps))
	}

	latest, err := svc.GetLatestSnapshot(url)
	if err != nil || latest.StorageKey != stored.StorageKey {
		t.Errorf("latest snapshot mismatch: %v %v", latest, err)
	}

	live = "<html><body><p>alpha beta gamma delta epsilon zeta eta one two three</p></body></html>"
	m := monitor.New(db, svc.Store(), monitor.Config{CheckTimeout: time.Second})
	check, err := m.Run(ctx, first.ID, models.CheckContentDiff)
	if err != nil {
		t.Fatal(err)
	}
	if check.Status != models.StatusMajorChanges {
		t.Errorf("30%% changed words should be major, got %s", check.Status)
	}
	if check.Similarity == nil || math.Abs(*check.Similarity-0.70) > 0.01 {
		t.Errorf("expected similarity near 0.70, got %v", check.Similarity)
	}

	checks, err := svc.ListIntegrityChecks(ctx, stored.Shortcode, models.CheckContentDiff, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 1 || checks[0].ID != check.ID {
		t.Errorf("expected the recorded check, got %+v", checks)
	}
	checks, _ = svc.ListIntegrityChecks(ctx, stored.Shortcode, models.CheckLiveness, 10)
	if len(checks) != 0 {
		t.Errorf("no liveness checks were recorded, got %d", len(checks))
	}
}

func TestMonthlyQuota(t *testing.T) {
	page := []byte("<p>q</p>")
	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanFree)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	limit := int(plans.For(models.PlanFree).MonthlyCreationLimit)
	for i := 0; i < limit; i++ {
		if _, err := svc.CreateLink(ctx, utils.ArchiveRequest{URL: "https://example.com/q", AccountID: account.ID}); err != nil {
			t.Fatalf("link %d: %v", i, err)
		}
	}
	_, err := svc.CreateLink(ctx, utils.ArchiveRequest{URL: "https://example.com/q", AccountID: account.ID})
	if !errors.Is(err, pipeline.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if pipeline.OutcomeOf(err) != pipeline.OutcomeRejected {
		t.Errorf("quota errors are rejections")
	}

	// links from last month no longer count
	db.Model(&models.Link{}).Where("account_id = ?", account.ID).Update("created_at", now.AddDate(0, -1, 0))
	if _, err := svc.CreateLink(ctx, utils.ArchiveRequest{URL: "https://example.com/q", AccountID: account.ID}); err != nil {
		t.Errorf("new month should reset the quota: %v", err)
	}
}

func TestCreateLinkValidation(t *testing.T) {
	page := []byte("x")
	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanProfessional)
	free := createAccount(t, db, models.PlanFree)
	ctx := context.Background()

	tests := []struct {
		name string
		req  utils.ArchiveRequest
	}{
		{"bad method", utils.ArchiveRequest{URL: "https://example.com", AccountID: account.ID, Method: "mhtml"}},
		{"missing url", utils.ArchiveRequest{AccountID: account.ID}},
		{"unknown account", utils.ArchiveRequest{URL: "https://example.com", AccountID: 999}},
		{"short custom shortcode", utils.ArchiveRequest{URL: "https://example.com", AccountID: account.ID, Shortcode: "abc"}},
		{"custom shortcode on free plan", utils.ArchiveRequest{URL: "https://example.com", AccountID: free.ID, Shortcode: "FreeLink9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateLink(ctx, tt.req); !errors.Is(err, pipeline.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	req := utils.ArchiveRequest{URL: "https://example.com", AccountID: account.ID, Shortcode: "MyLink7"}
	if _, err := svc.CreateLink(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateLink(ctx, req); !errors.Is(err, ErrShortcodeUsed) {
		t.Errorf("expected taken shortcode, got %v", err)
	}

	svc.SetURLValidator(utils.ValidateURL)
	if _, err := svc.CreateLink(ctx, utils.ArchiveRequest{URL: "http://127.0.0.1/admin", AccountID: account.ID}); !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("private targets should be rejected, got %v", err)
	}
}

func TestRejectedCaptureMarksLink(t *testing.T) {
	page := make([]byte, 6*1024*1024)
	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanFree)

	link, res, err := svc.CreateArchive(context.Background(), utils.ArchiveRequest{URL: "https://example.com/big", AccountID: account.ID}, "")
	if !errors.Is(err, pipeline.ErrSizeLimit) {
		t.Fatalf("expected size limit, got %v", err)
	}
	if res.Outcome != pipeline.OutcomeRejected {
		t.Errorf("expected rejected, got %s", res.Outcome)
	}
	var stored models.Link
	db.First(&stored, link.ID)
	if stored.Status != models.LinkRejected || stored.StorageKey != "" {
		t.Errorf("rejected link should keep no snapshot, got %+v", stored)
	}
}

func TestEnqueueArchive(t *testing.T) {
	page := []byte("x")
	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanSovereign)
	ctx := context.Background()

	q := &recordingQueue{}
	link, err := svc.EnqueueArchive(ctx, utils.ArchiveRequest{URL: "https://example.com/q", AccountID: account.ID}, "203.0.113.9", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.linkIDs) != 1 || q.linkIDs[0] != link.ID || link.Status != models.LinkPending {
		t.Errorf("link should be queued pending, got %v %s", q.linkIDs, link.Status)
	}

	q.err = errors.New("queue down")
	if _, err := svc.EnqueueArchive(ctx, utils.ArchiveRequest{URL: "https://example.com/r", AccountID: account.ID}, "", q); err == nil {
		t.Fatal("expected enqueue error")
	}
	var failed int64
	db.Model(&models.Link{}).Where("status = ?", models.LinkFailed).Count(&failed)
	if failed != 1 {
		t.Errorf("unqueued link should be failed, got %d", failed)
	}
}

func TestVerifyLink(t *testing.T) {
	page := []byte("<p>verify</p>")
	svc, db := newService(t, &page)
	account := createAccount(t, db, models.PlanSovereign)
	ctx := context.Background()

	link, _, err := svc.CreateArchive(ctx, utils.ArchiveRequest{URL: "https://example.com/v", AccountID: account.ID}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := svc.VerifyLink(ctx, link.Shortcode); err != nil || !ok {
		t.Fatalf("fresh snapshot should verify: %v %v", ok, err)
	}

	snap, _ := svc.GetLatestSnapshot(link.URL)
	os.WriteFile(snap.PrimaryPath(), []byte("<p>tampered</p>"), 0644)
	if _, ok, err := svc.VerifyLink(ctx, link.Shortcode); err != nil || ok {
		t.Errorf("tampered snapshot should not verify: %v %v", ok, err)
	}

	if _, _, err := svc.VerifyLink(ctx, "nope"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
