package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresLedger is a Ledger persisted in PostgreSQL. Balances are NUMERIC(20,0) so the
// full uint64 range fits; every batch runs in one transaction.
type PostgresLedger struct {
	db *sql.DB
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger opens the database and creates the ledger tables if needed.
func NewPostgresLedger(ctx context.Context, config *PostgresConfig) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	ledger := &PostgresLedger{db: db}
	if err := ledger.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return ledger, nil
}

func (l *PostgresLedger) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS asset_balances (
		account VARCHAR(256) NOT NULL,
		asset VARCHAR(256) NOT NULL,
		amount NUMERIC(20, 0) NOT NULL CHECK (amount >= 0 AND amount <= 18446744073709551615),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (account, asset)
	);

	CREATE TABLE IF NOT EXISTS asset_transfers (
		id BIGSERIAL PRIMARY KEY,
		from_account VARCHAR(256) NOT NULL,
		to_account VARCHAR(256) NOT NULL,
		asset VARCHAR(256) NOT NULL,
		amount NUMERIC(20, 0) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_from ON asset_transfers(from_account);
	CREATE INDEX IF NOT EXISTS idx_transfers_to ON asset_transfers(to_account);
	`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

// Mint credits amount of asset to account.
func (l *PostgresLedger) Mint(ctx context.Context, account, asset string, amount uint64) error {
	_, err := l.db.ExecContext(ctx, creditQuery, account, asset, strconv.FormatUint(amount, 10))
	if isCheckViolation(err) {
		return fmt.Errorf("%w: mint %d %s to %s: balance overflow", ErrInvalidTransfer, amount, asset, account)
	}
	if err != nil {
		return fmt.Errorf("mint %d %s to %s: %w", amount, asset, account, err)
	}
	return nil
}

const (
	debitQuery = `
	UPDATE asset_balances SET amount = amount - $3::numeric, updated_at = NOW()
	WHERE account = $1 AND asset = $2 AND amount >= $3::numeric
	`

	creditQuery = `
	INSERT INTO asset_balances (account, asset, amount, updated_at)
	VALUES ($1, $2, $3::numeric, NOW())
	ON CONFLICT (account, asset) DO UPDATE SET
		amount = asset_balances.amount + EXCLUDED.amount,
		updated_at = NOW()
	`

	journalQuery = `
	INSERT INTO asset_transfers (from_account, to_account, asset, amount)
	VALUES ($1, $2, $3, $4::numeric)
	`
)

// Apply implements Ledger. The batch runs in one transaction and rolls back on any failure.
func (l *PostgresLedger) Apply(ctx context.Context, transfers ...Transfer) (err error) {
	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		amount := strconv.FormatUint(t.Amount, 10)

		res, err := tx.ExecContext(ctx, debitQuery, t.From, t.Asset, amount)
		if err != nil {
			return fmt.Errorf("debit %s: %w", t, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("debit %s: %w", t, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, t)
		}

		if _, err := tx.ExecContext(ctx, creditQuery, t.To, t.Asset, amount); err != nil {
			if isCheckViolation(err) {
				return fmt.Errorf("%w: %s: destination balance overflow", ErrInvalidTransfer, t)
			}
			return fmt.Errorf("credit %s: %w", t, err)
		}
		if _, err := tx.ExecContext(ctx, journalQuery, t.From, t.To, t.Asset, amount); err != nil {
			return fmt.Errorf("journal %s: %w", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// BalanceOf implements Ledger.
func (l *PostgresLedger) BalanceOf(ctx context.Context, account, asset string) (uint64, error) {
	var amount string
	err := l.db.QueryRowContext(ctx,
		`SELECT amount::text FROM asset_balances WHERE account = $1 AND asset = $2`,
		account, asset).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}

	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", amount, err)
	}
	return v, nil
}

// isCheckViolation reports whether err is a CHECK constraint failure (SQLSTATE 23514).
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
