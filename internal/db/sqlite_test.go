package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Fantasim/minerstake/internal/models"
)

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "audit", "minerstake.sqlite")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close()

	if err := d.RecordAction(context.Background(), models.ActionRequest{
		ID:    "first",
		Kind:  models.ActionSell,
		State: models.StateSubmitted,
	}); err != nil {
		t.Fatalf("RecordAction() on fresh database error = %v", err)
	}
}

func TestActionsSchema(t *testing.T) {
	d := setupTestDB(t)

	rows, err := d.Conn().Query("PRAGMA table_info(actions)")
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			t.Fatal(err)
		}
		columns[name] = notNull == 1
		if name == "id" && pk != 1 {
			t.Error("id should be the primary key")
		}
	}

	want := map[string]bool{
		"id": false, "account": true, "kind": true, "target": true, "token_id": true,
		"amount": true, "state": true, "tx_hash": true, "error": true,
		"submitted_at": true, "completed_at": false, "updated_at": true,
	}
	for name, notNull := range want {
		got, ok := columns[name]
		if !ok {
			t.Errorf("column %q missing", name)
			continue
		}
		if name != "id" && got != notNull {
			t.Errorf("column %q NOT NULL = %v, want %v", name, got, notNull)
		}
	}

	for _, index := range []string{"idx_actions_submitted_at", "idx_actions_state"} {
		var name string
		err := d.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", index, err)
		}
	}
}

func TestOpen_ReopenKeepsActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minerstake.sqlite")
	ctx := context.Background()

	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RecordAction(ctx, models.ActionRequest{ID: "kept", Kind: models.ActionClaim, TokenID: 7, State: models.StateConfirmed}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer d.Close()

	var versions int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions); err != nil {
		t.Fatal(err)
	}
	if versions != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", versions)
	}

	row, err := d.GetAction(ctx, "kept")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Target != "token:7" {
		t.Errorf("row = %+v, want target token:7", row)
	}
}
