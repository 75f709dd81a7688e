package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// PaymentLedger is the MySQL PaymentStore of the payment service.
type PaymentLedger struct {
	DB *sql.DB
}

// OpenPaymentLedger opens and pings the database. parseTime is forced on
// because timestamps are scanned into time.Time.
func OpenPaymentLedger(ctx context.Context, dsn string) (*PaymentLedger, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse payment dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PaymentLedger{DB: db}, nil
}

func (l *PaymentLedger) Close() error { return l.DB.Close() }

const paymentColumns = "id, amount, status, callback_url, payer_id, publish_attempts, created_at, updated_at, created_by, updated_by"

func (l *PaymentLedger) Insert(ctx context.Context, p domain.Payment) error {
	_, err := l.DB.ExecContext(ctx, `
INSERT INTO payments
  (`+paymentColumns+`)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(),
		p.Amount,
		string(p.Status),
		p.CallbackURL,
		p.PayerID,
		p.PublishAttempts,
		p.CreatedAt,
		p.UpdatedAt,
		p.CreatedBy,
		p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (l *PaymentLedger) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	p, err := scanPayment(l.DB.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return p, domain.ErrPaymentNotFound
	}
	return p, err
}

func (l *PaymentLedger) Transition(ctx context.Context, id uuid.UUID, to domain.PaymentStatus, actor string, at time.Time) (domain.Payment, bool, error) {
	query, args, err := transitionStatement(id, to, actor, at)
	if err != nil {
		return domain.Payment{}, false, err
	}
	res, err := l.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("transition payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Payment{}, false, err
	}

	p, err := l.Get(ctx, id)
	return p, n == 1, err
}

func (l *PaymentLedger) RecordPublish(ctx context.Context, id uuid.UUID, attempts int, actor string, at time.Time) (bool, error) {
	res, err := l.DB.ExecContext(ctx, `
UPDATE payments SET publish_attempts = publish_attempts + 1, updated_at = ?, updated_by = ?
WHERE id = ? AND status = 'CREATED' AND publish_attempts = ?`,
		at, actor, id.String(), attempts)
	if err != nil {
		return false, fmt.Errorf("record publish: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (l *PaymentLedger) ListStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]domain.Payment, error) {
	rows, err := l.DB.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	err := row.Scan(&p.ID, &p.Amount, &status, &p.CallbackURL, &p.PayerID, &p.PublishAttempts,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy)
	p.Status = domain.PaymentStatus(status)
	return p, err
}

// transitionStatement builds the compare-and-set UPDATE moving a payment to
// `to` from any status that may precede it.
func transitionStatement(id uuid.UUID, to domain.PaymentStatus, actor string, at time.Time) (string, []any, error) {
	from := domain.SourcesOf(to)
	if len(from) == 0 {
		return "", nil, fmt.Errorf("no transition leads to %s", to)
	}

	args := []any{string(to), at, actor, id.String()}
	for _, s := range from {
		args = append(args, string(s))
	}
	query := `UPDATE payments SET status = ?, updated_at = ?, updated_by = ?
		 WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	return query, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
