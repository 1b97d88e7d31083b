package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

// ActionRow is one audit log entry.
type ActionRow struct {
	ID          string `json:"id"`
	Account     string `json:"account,omitempty"`
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	TokenID     uint64 `json:"tokenId,omitempty"`
	Amount      string `json:"amount,omitempty"`
	State       string `json:"state"`
	TxHash      string `json:"txHash,omitempty"`
	Error       string `json:"error,omitempty"`
	SubmittedAt string `json:"submittedAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// RecordAction inserts req or updates the existing row with the same id.
func (d *DB) RecordAction(ctx context.Context, req models.ActionRequest) error {
	var amount string
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	var txHash string
	if req.TxHash != (common.Hash{}) {
		txHash = req.TxHash.Hex()
	}
	var account string
	if req.Account != (common.Address{}) {
		account = req.Account.Hex()
	}
	var completedAt sql.NullString
	if !req.CompletedAt.IsZero() {
		completedAt = sql.NullString{String: req.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	submittedAt := req.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO actions (id, account, kind, target, token_id, amount, state, tx_hash, error, submitted_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   tx_hash = excluded.tx_hash,
		   error = excluded.error,
		   completed_at = excluded.completed_at,
		   updated_at = datetime('now')`,
		req.ID,
		account,
		string(req.Kind),
		req.Target(),
		int64(req.TokenID),
		amount,
		string(req.State),
		txHash,
		req.Error,
		submittedAt.UTC().Format(time.RFC3339),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("record action %s: %w", req.ID, err)
	}

	slog.Debug("action recorded",
		"id", req.ID,
		"kind", req.Kind,
		"state", req.State,
	)
	return nil
}

// ListActions returns actions newest first, with the total row count.
func (d *DB) ListActions(ctx context.Context, page, pageSize int) ([]ActionRow, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = config.ActionLogPageSize
	}

	var total int64
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, account, kind, target, token_id, amount, state, tx_hash, error, submitted_at, completed_at
		 FROM actions ORDER BY submitted_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := make([]ActionRow, 0)
	for rows.Next() {
		row, err := scanAction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate actions: %w", err)
	}
	return out, total, nil
}

// GetAction returns one action, or nil when id is unknown.
func (d *DB) GetAction(ctx context.Context, id string) (*ActionRow, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, account, kind, target, token_id, amount, state, tx_hash, error, submitted_at, completed_at
		 FROM actions WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanAction(rows)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func scanAction(rows *sql.Rows) (ActionRow, error) {
	var row ActionRow
	var tokenID int64
	var completedAt sql.NullString
	if err := rows.Scan(
		&row.ID, &row.Account, &row.Kind, &row.Target, &tokenID, &row.Amount,
		&row.State, &row.TxHash, &row.Error, &row.SubmittedAt, &completedAt,
	); err != nil {
		return ActionRow{}, fmt.Errorf("scan action: %w", err)
	}
	row.TokenID = uint64(tokenID)
	if completedAt.Valid {
		row.CompletedAt = completedAt.String
	}
	return row, nil
}
