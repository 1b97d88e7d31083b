package db

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRecordAction_InsertThenUpdate(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	req := models.ActionRequest{
		ID:          "a-1",
		Account:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Kind:        models.ActionClaim,
		TokenID:     7,
		State:       models.StateSubmitted,
		TxHash:      common.HexToHash("0xabc"),
		SubmittedAt: submitted,
	}
	if err := d.RecordAction(ctx, req); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}

	got, err := d.GetAction(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAction() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected row")
	}
	if got.Target != "token:7" {
		t.Errorf("Target = %s, want token:7", got.Target)
	}
	if got.State != "submitted" {
		t.Errorf("State = %s, want submitted", got.State)
	}
	if got.Account != req.Account.Hex() {
		t.Errorf("Account = %s, want %s", got.Account, req.Account.Hex())
	}
	if got.SubmittedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("SubmittedAt = %s", got.SubmittedAt)
	}
	if got.CompletedAt != "" {
		t.Errorf("CompletedAt = %q, want empty", got.CompletedAt)
	}

	req.State = models.StateFailed
	req.Error = "transaction reverted"
	req.CompletedAt = submitted.Add(time.Minute)
	if err := d.RecordAction(ctx, req); err != nil {
		t.Fatalf("RecordAction() update error = %v", err)
	}

	got, err = d.GetAction(ctx, "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "failed" || got.Error != "transaction reverted" {
		t.Errorf("after update = %+v", got)
	}
	if got.CompletedAt != "2026-03-01T12:01:00Z" {
		t.Errorf("CompletedAt = %s", got.CompletedAt)
	}

	_, total, err := d.ListActions(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1 (upsert)", total)
	}
}

func TestGetAction_Unknown(t *testing.T) {
	d := setupTestDB(t)

	got, err := d.GetAction(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetAction() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListActions_NewestFirstPaginated(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		req := models.ActionRequest{
			ID:          string(rune('a' + i)),
			Kind:        models.ActionSell,
			Amount:      big.NewInt(int64(100 * (i + 1))),
			State:       models.StateConfirmed,
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := d.RecordAction(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	rows, total, err := d.ListActions(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListActions() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2", len(rows))
	}
	if rows[0].ID != "e" || rows[1].ID != "d" {
		t.Errorf("order = %s,%s, want e,d", rows[0].ID, rows[1].ID)
	}
	if rows[0].Amount != "500" || rows[0].Target != "sell" {
		t.Errorf("row = %+v", rows[0])
	}

	rows, _, err = d.ListActions(ctx, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "a" {
		t.Errorf("last page = %+v", rows)
	}
}
