package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"termsync/internal/infra/persistence/postgres/testutil"
	"termsync/pkg/domain"
)

func TestNewStoreAppliesDDLAndUsesNumberedPlaceholders(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	defer restore()

	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected open args %s %s", gotDriver, gotDSN)
	}
	if len(conn.Execs) == 0 || !strings.Contains(strings.ToUpper(conn.Execs[0]), "CREATE TABLE IF NOT EXISTS SYNDICATION_IMPORT") {
		t.Fatalf("expected ddl first, got %v", conn.Execs)
	}

	if err := store.Upsert(ctx, domain.ImportStatus{Terminology: "hl7", RequestedVersion: "6.2.0", ActualVersion: "6.2.0", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	last := conn.Execs[len(conn.Execs)-1]
	if !strings.Contains(last, "$6") || strings.Contains(last, "?") {
		t.Fatalf("expected $n placeholders, got %s", last)
	}
	if err := store.Upsert(ctx, domain.ImportStatus{Terminology: "hl7", RequestedVersion: "latest", Status: domain.StatusFailed, ErrorMessage: "download failed"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "hl7")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ActualVersion != "6.2.0" || got.Status != domain.StatusFailed || got.ErrorMessage != "download failed" {
		t.Fatalf("unexpected row %+v", got)
	}
	if _, ok, err := store.Get(ctx, "loinc"); err != nil || ok {
		t.Fatalf("expected missing loinc, ok=%v err=%v", ok, err)
	}
	if err := store.Upsert(ctx, domain.ImportStatus{Terminology: "atc", RequestedVersion: "latest", Status: domain.StatusRunning}); err != nil {
		t.Fatalf("upsert atc: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Terminology != "atc" || list[1].Terminology != "hl7" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example/db"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example/db"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestUpsertPropagatesExecError(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailExec = true
	if err := store.Upsert(context.Background(), domain.ImportStatus{Terminology: "hl7", Status: domain.StatusRunning}); err == nil {
		t.Fatalf("expected exec error")
	}
}

// TestLiveStore runs against a real server when TERMSYNC_TEST_POSTGRES_DSN is set.
func TestLiveStore(t *testing.T) {
	dsn := os.Getenv("TERMSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TERMSYNC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	name := "live-test-terminology"
	if err := store.Upsert(ctx, domain.ImportStatus{Terminology: name, RequestedVersion: "1", ActualVersion: "1", Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, domain.ImportStatus{Terminology: name, RequestedVersion: "2", Status: domain.StatusRunning}); err != nil {
		t.Fatalf("upsert running: %v", err)
	}
	got, ok, err := store.Get(ctx, name)
	if err != nil || !ok || got.ActualVersion != "1" {
		t.Fatalf("unexpected live row %+v ok=%v err=%v", got, ok, err)
	}
}
