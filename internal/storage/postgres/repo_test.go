package postgres

import (
	"context"
	"strings"
	"testing"

	"gymsync/internal/storage"
)

// The factory must hand every storage-level knob to the repository,
// ManageIndexes included; it controls index suspension during Replace.
func TestFactoryPassesConfigThrough(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var got Config
	newRepository = func(_ context.Context, cfg Config) (*Repository, func(), error) {
		got = cfg
		return &Repository{cfg: cfg}, func() {}, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{
		Kind:          "postgres",
		DSN:           "postgres://sync@db/leden",
		Schema:        "public",
		ManageIndexes: true,
	})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer repo.Close()

	if got.DSN != "postgres://sync@db/leden" || got.Schema != "public" {
		t.Errorf("config = %+v", got)
	}
	if !got.ManageIndexes {
		t.Error("ManageIndexes was dropped on the way to the repository")
	}
}

func TestDropIndexSQLQuotesIdentifiers(t *testing.T) {
	t.Parallel()

	got := dropIndexSQL("public", `ix_leden_"datum`)
	want := `DROP INDEX "public"."ix_leden_""datum"`
	if got != want {
		t.Errorf("dropIndexSQL() = %s, want %s", got, want)
	}
}

func TestSecondaryIndexQueryExclusions(t *testing.T) {
	t.Parallel()

	// Primary key and constraint-backed indexes must survive the refill.
	for _, clause := range []string{"NOT x.indisprimary", "c.conindexid = x.indexrelid"} {
		if !strings.Contains(secondaryIndexQuery, clause) {
			t.Errorf("index query lost clause %q", clause)
		}
	}
}
