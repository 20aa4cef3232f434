package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

func TestSourceListsVersionsInOrder(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}

	next, err := src.Next(first)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected version 2, got %d", next)
	}

	if _, err := src.Next(next); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no version after %d, got %v", next, err)
	}
}

func TestEveryVersionHasUpAndDown(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	for _, version := range []uint{1, 2} {
		checkReadable(t, src.ReadUp, version)
		checkReadable(t, src.ReadDown, version)
	}
}

func checkReadable(t *testing.T, read func(uint) (io.ReadCloser, string, error), version uint) {
	t.Helper()
	r, ident, err := read(version)
	if err != nil {
		t.Fatalf("read version %d: %v", version, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body %s: %v", ident, err)
	}
	if len(body) == 0 {
		t.Fatalf("migration %s is empty", ident)
	}
}

func TestApplyIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	version, err := Apply(context.Background(), db)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected schema version 2, got %d", version)
	}

	// Second run is a no-op.
	if _, err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply again: %v", err)
	}
}
