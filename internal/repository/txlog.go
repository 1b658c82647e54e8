package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/walletbridge-go/internal/model"
)

// TransactionLogEntry is one appended relay outcome. Session state is never
// persisted; this table exists for operator diagnostics only.
type TransactionLogEntry struct {
	ID          int64          `db:"id"`
	TxID        string         `db:"tx_id"`
	UserID      string         `db:"user_id"`
	SessionID   string         `db:"session_id"`
	Description string         `db:"description"`
	Status      model.TxStatus `db:"status"`
	TxHash      sql.NullString `db:"tx_hash"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
}

type InsertTransactionLogParams struct {
	TxID        string
	UserID      string
	SessionID   string
	Description string
	Status      model.TxStatus
	TxHash      string
	Error       string
}

type TransactionLogRepository interface {
	Insert(ctx context.Context, params InsertTransactionLogParams) error
	ListByUser(ctx context.Context, userID string, limit int) ([]TransactionLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type txLogDB interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type txLogRepo struct {
	db txLogDB
}

func NewTransactionLogRepository(db *sqlx.DB) TransactionLogRepository {
	return &txLogRepo{db: db}
}

func (r *txLogRepo) Insert(ctx context.Context, params InsertTransactionLogParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transaction_log (tx_id, user_id, session_id, description, status, tx_hash, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NOW())
	`, params.TxID, params.UserID, params.SessionID, params.Description, params.Status, params.TxHash, params.Error)
	return err
}

func (r *txLogRepo) ListByUser(ctx context.Context, userID string, limit int) ([]TransactionLogEntry, error) {
	entries := []TransactionLogEntry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM transaction_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *txLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM transaction_log WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
