package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/okian/lootbox/internal/domain/model"
)

const ledgerColumns = `spin_id, customer_id, box_id, box_name, prize_ref, prize_title, debit,
	credits_before, credits_after, status, order_id, last_error, attempts, created_at, updated_at`

// PostgresStore keeps the ledger in a Postgres table so failed fulfillments
// survive a restart.
type PostgresStore struct {
	db   *sqlx.DB
	opts storeOptions
}

// OpenPostgres connects with dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}
	return NewPostgresStore(db, opts...), nil
}

func NewPostgresStore(db *sqlx.DB, opts ...Option) *PostgresStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{db: db, opts: o}
}

// Migrate creates the ledger table and its failed-entry index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	spin_id        TEXT PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	box_id         TEXT NOT NULL,
	box_name       TEXT NOT NULL DEFAULT '',
	prize_ref      TEXT NOT NULL,
	prize_title    TEXT NOT NULL DEFAULT '',
	debit          BIGINT NOT NULL,
	credits_before BIGINT NOT NULL,
	credits_after  BIGINT NOT NULL,
	status         TEXT NOT NULL,
	order_id       TEXT NOT NULL DEFAULT '',
	last_error     TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_failed_idx ON %[1]s (status, attempts, created_at);`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Record(ctx context.Context, entry model.LedgerEntry) error {
	if entry.SpinID == "" {
		return fmt.Errorf("%w: empty spin id", ErrInvalidEntry)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.opts.now()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s)
	VALUES (:spin_id, :customer_id, :box_id, :box_name, :prize_ref, :prize_title, :debit,
		:credits_before, :credits_after, :status, :order_id, :last_error, :attempts, :created_at, :updated_at)
	ON CONFLICT (spin_id) DO NOTHING`, s.opts.table, ledgerColumns)

	res, err := s.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, entry.SpinID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, spinID string) (model.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE spin_id = $1`, ledgerColumns, s.opts.table)

	var e model.LedgerEntry
	if err := s.db.GetContext(ctx, &e, query, spinID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, spinID)
		}
		return model.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) MarkFulfilled(ctx context.Context, spinID, orderID string) error {
	query := fmt.Sprintf(`UPDATE %s
	SET status = $2, order_id = $3, last_error = '', attempts = attempts + 1, updated_at = $4
	WHERE spin_id = $1`, s.opts.table)
	return s.exec(ctx, spinID, query, spinID, model.LedgerFulfilled, orderID, s.opts.now())
}

func (s *PostgresStore) MarkFailed(ctx context.Context, spinID, lastError string) error {
	query := fmt.Sprintf(`UPDATE %s
	SET status = $2, last_error = $3, attempts = attempts + 1, updated_at = $4
	WHERE spin_id = $1`, s.opts.table)
	return s.exec(ctx, spinID, query, spinID, model.LedgerFailed, lastError, s.opts.now())
}

func (s *PostgresStore) exec(ctx context.Context, spinID, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, spinID)
	}
	return nil
}

func (s *PostgresStore) ListFailed(ctx context.Context, maxAttempts, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE status = $1 AND attempts < $2
	ORDER BY created_at ASC, spin_id ASC
	LIMIT $3`, ledgerColumns, s.opts.table)

	var out []model.LedgerEntry
	if err := s.db.SelectContext(ctx, &out, query, model.LedgerFailed, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("list failed ledger entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.queryTimeout)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.opts.table)); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}
