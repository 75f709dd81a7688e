package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// LedgerStore is the Postgres BalanceStore of the balance service.
type LedgerStore struct {
	Db *pgxpool.Pool
}

func NewLedgerStore(ctx context.Context, connString string) (*LedgerStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &LedgerStore{Db: pool}, nil
}

func (s *LedgerStore) Close() {
	s.Db.Close()
}

const balanceColumns = "id, payer_id, available, reserved, created_at, updated_at"

const entryColumns = "id, balance_id, payer_id, amount, commission, kind, payment_id, status, message, created_at"

func (s *LedgerStore) WithBalance(ctx context.Context, payer string, create bool, fn func(tx BalanceTx) error) error {
	// Read committed: after waiting on the row lock, later statements see
	// whatever the previous holder committed.
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if create {
		now := time.Now().UTC()
		_, err = tx.Exec(ctx,
			`INSERT INTO balances (id, payer_id, available, reserved, created_at, updated_at)
			 VALUES ($1, $2, 0, 0, $3, $3) ON CONFLICT (payer_id) DO NOTHING`,
			uuid.New(), payer, now,
		)
		if err != nil {
			return fmt.Errorf("balance insert failed: %w", err)
		}
	}

	bal, err := scanBalance(tx.QueryRow(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE payer_id = $1 FOR UPDATE", payer))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrBalanceNotFound
		}
		return fmt.Errorf("lock acquisition failed: %w", err)
	}

	if err := fn(&pgBalanceTx{tx: tx, balance: bal}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, payer string) (domain.Balance, error) {
	bal, err := scanBalance(s.Db.QueryRow(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE payer_id = $1", payer))
	if errors.Is(err, pgx.ErrNoRows) {
		return bal, domain.ErrBalanceNotFound
	}
	return bal, err
}

// Entries returns the payer's transaction log, newest first.
func (s *LedgerStore) Entries(ctx context.Context, payer string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+entryColumns+" FROM transactions WHERE payer_id = $1 ORDER BY created_at DESC, id",
		payer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Transaction
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgBalanceTx struct {
	tx      pgx.Tx
	balance domain.Balance
}

func (t *pgBalanceTx) Balance() domain.Balance { return t.balance }

func (t *pgBalanceTx) Save(ctx context.Context, b domain.Balance) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE balances SET available = $1, reserved = $2, updated_at = $3 WHERE id = $4",
		b.Available, b.Reserved, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	t.balance = b
	return nil
}

func (t *pgBalanceTx) Append(ctx context.Context, e domain.Transaction) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO transactions ("+entryColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		e.ID, e.BalanceID, e.PayerID, e.Amount, e.Commission, string(e.Kind), e.PaymentID, string(e.Status), e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (t *pgBalanceTx) HoldEntry(ctx context.Context, paymentID uuid.UUID) (*domain.Transaction, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM transactions WHERE payment_id = $1 AND kind = 'HOLD'",
		paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hold lookup failed: %w", err)
	}
	return &e, nil
}

func scanBalance(row pgx.Row) (domain.Balance, error) {
	var b domain.Balance
	err := row.Scan(&b.ID, &b.PayerID, &b.Available, &b.Reserved, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func scanEntry(row pgx.Row) (domain.Transaction, error) {
	var (
		e      domain.Transaction
		kind   string
		status string
	)
	err := row.Scan(&e.ID, &e.BalanceID, &e.PayerID, &e.Amount, &e.Commission, &kind, &e.PaymentID, &status, &e.Message, &e.CreatedAt)
	e.Kind = domain.TxKind(kind)
	e.Status = domain.TxStatus(status)
	return e, err
}
