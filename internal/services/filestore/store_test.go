package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"pubpipe/internal/services/filestore"
	"pubpipe/internal/testsupport"
)

func TestLocalPromoteAndDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, closeFn, err := filestore.NewConfiguredService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewConfiguredService: %v", err)
	}
	defer closeFn()
	local, ok := svc.(*filestore.LocalService)
	if !ok {
		t.Fatalf("expected local service, got %T", svc)
	}

	id := uuid.New()
	testsupport.WriteFile(t, filepath.Join(local.StagingPath(id), "data", "absence.csv"), "year,rate\n2024,6.1\n")
	testsupport.WriteFile(t, filepath.Join(local.StagingPath(id), "guidance.txt"), "notes")

	ctx := context.Background()
	n, err := svc.Promote(ctx, id)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files promoted, got %d", n)
	}
	if got := testsupport.ReadFile(t, filepath.Join(local.PublicPath(id), "data", "absence.csv")); got != "year,rate\n2024,6.1\n" {
		t.Fatalf("unexpected public content %q", got)
	}

	if n, err := svc.Promote(ctx, id); err != nil || n != 2 {
		t.Fatalf("second Promote: n=%d err=%v", n, err)
	}

	if err := svc.DeleteVersion(ctx, id); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if _, err := os.Stat(local.PublicPath(id)); !os.IsNotExist(err) {
		t.Fatalf("expected public directory removed, got %v", err)
	}
	if err := svc.DeleteVersion(ctx, id); err != nil {
		t.Fatalf("DeleteVersion of a missing version: %v", err)
	}
}

func TestLocalPromoteWithoutStagedFiles(t *testing.T) {
	dir := t.TempDir()
	svc := filestore.NewLocalService(filepath.Join(dir, "staging"), filepath.Join(dir, "public"))
	n, err := svc.Promote(context.Background(), uuid.New())
	if err != nil || n != 0 {
		t.Fatalf("expected empty promotion, got n=%d err=%v", n, err)
	}
}
