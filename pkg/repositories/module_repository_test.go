//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/testhelpers"
)

type moduleTestContext struct {
	t    *testing.T
	db   *testhelpers.PlatformDB
	repo ModuleRepository
}

// setupModuleTest resets rows for one test solution and seeds its registry
// entry for the foreign key.
func setupModuleTest(t *testing.T, solutionName string) *moduleTestContext {
	platformDB := testhelpers.GetPlatformDB(t)
	tc := &moduleTestContext{
		t:    t,
		db:   platformDB,
		repo: NewModuleRepository(platformDB.DB),
	}
	tc.cleanupSolutionModules(solutionName)
	ensureTestSolution(t, platformDB, solutionName)
	return tc
}

func (tc *moduleTestContext) cleanupSolutionModules(solutionName string) {
	tc.t.Helper()
	_, err := tc.db.DB.Exec(context.Background(),
		"DELETE FROM forge_generated_modules WHERE solution_name = $1", solutionName)
	if err != nil {
		tc.t.Fatalf("failed to clean up modules for %s: %v", solutionName, err)
	}
}

func testGeneratedModule(solutionName, moduleName string) *models.GeneratedModule {
	return &models.GeneratedModule{
		SolutionName:  solutionName,
		ModuleName:    moduleName,
		Version:       "1.0.0",
		Specification: json.RawMessage(`{"name":"` + moduleName + `","models":[]}`),
	}
}

func TestModuleRepository_Create_Roundtrip(t *testing.T) {
	tc := setupModuleTest(t, "modtest_roundtrip")
	ctx := context.Background()

	module := testGeneratedModule("modtest_roundtrip", "rental_ext")
	if err := tc.repo.Create(ctx, module); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if module.Status != models.GenerationStatusPending {
		t.Errorf("expected default pending status, got %s", module.Status)
	}

	retrieved, err := tc.repo.Get(ctx, module.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.ModuleName != "rental_ext" || retrieved.Version != "1.0.0" {
		t.Errorf("unexpected module %s@%s", retrieved.ModuleName, retrieved.Version)
	}

	var spec struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(retrieved.Specification, &spec); err != nil {
		t.Fatalf("failed to unmarshal stored specification: %v", err)
	}
	if spec.Name != "rental_ext" {
		t.Errorf("expected specification snapshot preserved, got name %q", spec.Name)
	}
}

func TestModuleRepository_Lifecycle_CompleteIsTerminal(t *testing.T) {
	tc := setupModuleTest(t, "modtest_lifecycle")
	ctx := context.Background()

	module := testGeneratedModule("modtest_lifecycle", "rental_ext")
	if err := tc.repo.Create(ctx, module); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := tc.repo.UpdateStatus(ctx, module.ID, models.GenerationStatusGenerating); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	manifest := []string{"__manifest__.py", "models/rental_unit.py"}
	if err := tc.repo.Complete(ctx, module.ID, manifest, "/var/lib/forge/rental_ext-abc123.zip", "abc123"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	retrieved, err := tc.repo.Get(ctx, module.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.Status != models.GenerationStatusCompleted {
		t.Errorf("expected completed, got %s", retrieved.Status)
	}
	if len(retrieved.FileManifest) != 2 || retrieved.FileManifest[0] != "__manifest__.py" {
		t.Errorf("unexpected file manifest %v", retrieved.FileManifest)
	}
	if retrieved.ContentHash != "abc123" {
		t.Errorf("expected content hash abc123, got %q", retrieved.ContentHash)
	}

	// Terminal rows never change again.
	err = tc.repo.UpdateStatus(ctx, module.ID, models.GenerationStatusFailed)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating terminal row, got %v", err)
	}
	err = tc.repo.MarkFailed(ctx, module.ID, "late failure")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound failing terminal row, got %v", err)
	}
}

func TestModuleRepository_MarkFailed(t *testing.T) {
	tc := setupModuleTest(t, "modtest_failed")
	ctx := context.Background()

	module := testGeneratedModule("modtest_failed", "rental_ext")
	if err := tc.repo.Create(ctx, module); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tc.repo.MarkFailed(ctx, module.ID, "validation rejected spec"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	retrieved, err := tc.repo.Get(ctx, module.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.Status != models.GenerationStatusFailed {
		t.Errorf("expected failed status, got %s", retrieved.Status)
	}
	if retrieved.ErrorDetail == nil || *retrieved.ErrorDetail != "validation rejected spec" {
		t.Errorf("unexpected error detail %v", retrieved.ErrorDetail)
	}

	err = tc.repo.Complete(ctx, module.ID, nil, "", "")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound completing failed row, got %v", err)
	}
}

func TestModuleRepository_GetLatest(t *testing.T) {
	tc := setupModuleTest(t, "modtest_latest")
	ctx := context.Background()

	first := testGeneratedModule("modtest_latest", "rental_ext")
	first.Version = "1.0.0"
	if err := tc.repo.Create(ctx, first); err != nil {
		t.Fatalf("Create first failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second := testGeneratedModule("modtest_latest", "rental_ext")
	second.Version = "1.1.0"
	if err := tc.repo.Create(ctx, second); err != nil {
		t.Fatalf("Create second failed: %v", err)
	}

	latest, err := tc.repo.GetLatest(ctx, "modtest_latest", "rental_ext")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.Version != "1.1.0" {
		t.Errorf("expected latest version 1.1.0, got %s", latest.Version)
	}

	_, err = tc.repo.GetLatest(ctx, "modtest_latest", "no_such_module")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestModuleRepository_ListBySolution(t *testing.T) {
	tc := setupModuleTest(t, "modtest_list")
	ctx := context.Background()

	for _, name := range []string{"rental_ext", "rental_reports", "rental_billing"} {
		if err := tc.repo.Create(ctx, testGeneratedModule("modtest_list", name)); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	modules, err := tc.repo.ListBySolution(ctx, "modtest_list", 0)
	if err != nil {
		t.Fatalf("ListBySolution failed: %v", err)
	}
	if len(modules) != 3 {
		t.Fatalf("expected 3 modules, got %d", len(modules))
	}
	// Newest first
	if modules[0].ModuleName != "rental_billing" {
		t.Errorf("expected rental_billing first, got %s", modules[0].ModuleName)
	}

	limited, err := tc.repo.ListBySolution(ctx, "modtest_list", 2)
	if err != nil {
		t.Fatalf("ListBySolution with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit of 2, got %d", len(limited))
	}
}

func TestModuleRepository_ListLatestCompleted(t *testing.T) {
	tc := setupModuleTest(t, "modtest_restore")
	ctx := context.Background()

	// Two completed versions of rental_ext, one completed rental_reports,
	// and a failed attempt that must not surface.
	old := testGeneratedModule("modtest_restore", "rental_ext")
	old.Version = "1.0.0"
	if err := tc.repo.Create(ctx, old); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tc.repo.Complete(ctx, old.ID, []string{"__manifest__.py"}, "/tmp/a.zip", "hash-old"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	newer := testGeneratedModule("modtest_restore", "rental_ext")
	newer.Version = "1.1.0"
	if err := tc.repo.Create(ctx, newer); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tc.repo.Complete(ctx, newer.ID, []string{"__manifest__.py"}, "/tmp/b.zip", "hash-new"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	reports := testGeneratedModule("modtest_restore", "rental_reports")
	if err := tc.repo.Create(ctx, reports); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tc.repo.Complete(ctx, reports.ID, []string{"__manifest__.py"}, "/tmp/c.zip", "hash-rep"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	failed := testGeneratedModule("modtest_restore", "rental_broken")
	if err := tc.repo.Create(ctx, failed); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := tc.repo.MarkFailed(ctx, failed.ID, "validation rejected spec"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	completed, err := tc.repo.ListLatestCompleted(ctx)
	if err != nil {
		t.Fatalf("ListLatestCompleted failed: %v", err)
	}

	byModule := make(map[string]*models.GeneratedModule)
	for _, m := range completed {
		if m.SolutionName == "modtest_restore" {
			byModule[m.ModuleName] = m
		}
	}
	if len(byModule) != 2 {
		t.Fatalf("expected 2 modules for solution, got %d", len(byModule))
	}
	if got := byModule["rental_ext"]; got == nil || got.Version != "1.1.0" {
		t.Errorf("expected newest rental_ext 1.1.0, got %+v", got)
	}
	if byModule["rental_reports"] == nil {
		t.Error("expected rental_reports in restore set")
	}
	if byModule["rental_broken"] != nil {
		t.Error("failed attempts must not surface in restore set")
	}
}
