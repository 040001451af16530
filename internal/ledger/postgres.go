package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// DBTX is the pgx surface the Postgres backend needs. *pgxpool.Pool
// satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the ledger backend selected when DATABASE_URL is set.
type PostgresStore struct {
	db     DBTX
	grant  int
	logger zerolog.Logger
}

// NewPostgres constructs the backend. Init must run once before use.
func NewPostgres(db DBTX, grant int, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, grant: grant, logger: logger}
}

// Init creates the accounts table when it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
    user_id     BIGINT PRIMARY KEY,
    balance     INTEGER NOT NULL DEFAULT 0,
    username    TEXT NOT NULL DEFAULT '',
    first_name  TEXT NOT NULL DEFAULT '',
    video_count INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)
`)
	if err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, userID int64, profile Profile) (Account, error) {
	if err := s.ensure(ctx, userID, profile); err != nil {
		return Account{}, err
	}
	row := s.db.QueryRow(ctx, `
UPDATE accounts
SET username   = COALESCE(NULLIF($2, ''), username),
    first_name = COALESCE(NULLIF($3, ''), first_name),
    updated_at = now()
WHERE user_id = $1
RETURNING balance, username, first_name, video_count
`, userID, profile.Username, profile.FirstName)

	account := Account{UserID: userID}
	if err := row.Scan(&account.Balance, &account.Username, &account.FirstName, &account.VideoCount); err != nil {
		return Account{}, fmt.Errorf("ledger: load account %d: %w", userID, err)
	}
	return account, nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID int64) (int, error) {
	account, err := s.Account(ctx, userID, Profile{})
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *PostgresStore) AddTokens(ctx context.Context, userID int64, amount int, profile Profile) (int, error) {
	if err := s.ensure(ctx, userID, profile); err != nil {
		return 0, err
	}
	row := s.db.QueryRow(ctx, `
UPDATE accounts
SET balance    = balance + $2,
    username   = COALESCE(NULLIF($3, ''), username),
    first_name = COALESCE(NULLIF($4, ''), first_name),
    updated_at = now()
WHERE user_id = $1
RETURNING balance
`, userID, amount, profile.Username, profile.FirstName)

	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: add tokens for %d: %w", userID, err)
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int("amount", amount).
		Int("balance", balance).
		Msg("ledger: tokens added")
	return balance, nil
}

// SpendTokens debits atomically: the conditional update matches only when
// the balance covers the amount, so a losing concurrent spender gets no row
// back instead of driving the balance negative.
func (s *PostgresStore) SpendTokens(ctx context.Context, userID int64, amount int) (bool, error) {
	if err := s.ensure(ctx, userID, Profile{}); err != nil {
		return false, err
	}
	row := s.db.QueryRow(ctx, `
UPDATE accounts
SET balance = balance - $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING balance
`, userID, amount)

	var balance int
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ledger: spend tokens for %d: %w", userID, err)
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int("amount", amount).
		Int("balance", balance).
		Msg("ledger: tokens spent")
	return true, nil
}

func (s *PostgresStore) IncrementVideoCount(ctx context.Context, userID int64) error {
	if err := s.ensure(ctx, userID, Profile{}); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
UPDATE accounts
SET video_count = video_count + 1, updated_at = now()
WHERE user_id = $1
`, userID)
	if err != nil {
		return fmt.Errorf("ledger: increment videos for %d: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	row := s.db.QueryRow(ctx, `
SELECT count(*),
       COALESCE(sum(balance), 0),
       COALESCE(sum(video_count), 0)
FROM accounts
`)
	var totals Totals
	if err := row.Scan(&totals.Users, &totals.Tokens, &totals.Videos); err != nil {
		return Totals{}, fmt.Errorf("ledger: totals: %w", err)
	}
	return totals, nil
}

// ensure inserts the account with the initial grant if the user is new. A
// data-modifying CTE cannot be read back in the same statement, so creation
// and the follow-up mutation are separate round trips.
func (s *PostgresStore) ensure(ctx context.Context, userID int64, profile Profile) error {
	tag, err := s.db.Exec(ctx, `
INSERT INTO accounts (user_id, balance, username, first_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO NOTHING
`, userID, s.grant, profile.Username, profile.FirstName)
	if err != nil {
		return fmt.Errorf("ledger: ensure account %d: %w", userID, err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info().
			Int64("user_id", userID).
			Int("grant", s.grant).
			Msg("ledger: account created")
	}
	return nil
}
