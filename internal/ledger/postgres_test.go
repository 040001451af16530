package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// simpleRow adapts a scan func into a pgx.Row. A nil scan func reports
// pgx.ErrNoRows, which is how the fake models a conditional UPDATE that
// matched nothing.
type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type memAccount struct {
	balance    int
	username   string
	firstName  string
	videoCount int
}

// memDB implements DBTX against a map, dispatching on the statement shapes
// PostgresStore issues.
type memDB struct {
	accounts map[int64]*memAccount
	inited   bool
}

func newMemDB() *memDB {
	return &memDB{accounts: make(map[int64]*memAccount)}
}

func (db *memDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "CREATE TABLE"):
		db.inited = true
		return pgconn.NewCommandTag("CREATE TABLE"), nil

	case strings.Contains(sql, "ON CONFLICT (user_id) DO NOTHING"):
		id := args[0].(int64)
		if _, ok := db.accounts[id]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		db.accounts[id] = &memAccount{
			balance:   args[1].(int),
			username:  args[2].(string),
			firstName: args[3].(string),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.Contains(sql, "video_count = video_count + 1"):
		acct, ok := db.accounts[args[0].(int64)]
		if !ok {
			return pgconn.CommandTag{}, fmt.Errorf("no account %v", args[0])
		}
		acct.videoCount++
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
}

func (db *memDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "RETURNING balance, username, first_name, video_count"):
		acct, ok := db.accounts[args[0].(int64)]
		if !ok {
			return simpleRow{}
		}
		applyProfile(acct, args[1].(string), args[2].(string))
		return simpleRow{scan: func(dest ...any) error {
			*dest[0].(*int) = acct.balance
			*dest[1].(*string) = acct.username
			*dest[2].(*string) = acct.firstName
			*dest[3].(*int) = acct.videoCount
			return nil
		}}

	case strings.Contains(sql, "balance    = balance + $2"):
		acct, ok := db.accounts[args[0].(int64)]
		if !ok {
			return simpleRow{}
		}
		acct.balance += args[1].(int)
		applyProfile(acct, args[2].(string), args[3].(string))
		balance := acct.balance
		return simpleRow{scan: func(dest ...any) error {
			*dest[0].(*int) = balance
			return nil
		}}

	case strings.Contains(sql, "balance = balance - $2"):
		acct, ok := db.accounts[args[0].(int64)]
		amount := args[1].(int)
		if !ok || acct.balance < amount {
			return simpleRow{}
		}
		acct.balance -= amount
		balance := acct.balance
		return simpleRow{scan: func(dest ...any) error {
			*dest[0].(*int) = balance
			return nil
		}}

	case strings.Contains(sql, "SELECT count(*)"):
		var users, tokens, videos int
		for _, acct := range db.accounts {
			users++
			tokens += acct.balance
			videos += acct.videoCount
		}
		return simpleRow{scan: func(dest ...any) error {
			*dest[0].(*int) = users
			*dest[1].(*int) = tokens
			*dest[2].(*int) = videos
			return nil
		}}
	}
	return simpleRow{scan: func(dest ...any) error {
		return fmt.Errorf("unexpected query: %s", sql)
	}}
}

func applyProfile(acct *memAccount, username, firstName string) {
	if username != "" {
		acct.username = username
	}
	if firstName != "" {
		acct.firstName = firstName
	}
}

func newPostgresStore(db DBTX) *PostgresStore {
	return NewPostgres(db, 10, zerolog.Nop())
}

func TestPostgresInitCreatesSchema(t *testing.T) {
	db := newMemDB()
	if err := newPostgresStore(db).Init(context.Background()); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if !db.inited {
		t.Error("Init issued no CREATE TABLE")
	}
}

func TestPostgresAccountGrantsOnce(t *testing.T) {
	store := newPostgresStore(newMemDB())
	ctx := context.Background()

	account, err := store.Account(ctx, 42, Profile{Username: "ada", FirstName: "Ada"})
	if err != nil {
		t.Fatalf("Account returned error: %v", err)
	}
	if account.Balance != 10 {
		t.Errorf("initial balance = %d, want grant 10", account.Balance)
	}
	if account.Username != "ada" || account.FirstName != "Ada" {
		t.Errorf("profile = %q/%q", account.Username, account.FirstName)
	}

	again, err := store.Account(ctx, 42, Profile{})
	if err != nil {
		t.Fatalf("second Account returned error: %v", err)
	}
	if again.Balance != 10 {
		t.Errorf("balance after revisit = %d, grant applied twice", again.Balance)
	}
	if again.Username != "ada" {
		t.Errorf("empty profile overwrote username: %q", again.Username)
	}
}

func TestPostgresAddTokens(t *testing.T) {
	store := newPostgresStore(newMemDB())
	ctx := context.Background()

	balance, err := store.AddTokens(ctx, 7, 5, Profile{Username: "bob"})
	if err != nil {
		t.Fatalf("AddTokens returned error: %v", err)
	}
	if balance != 15 {
		t.Errorf("balance = %d, want 15", balance)
	}
}

func TestPostgresSpendTokens(t *testing.T) {
	store := newPostgresStore(newMemDB())
	ctx := context.Background()

	spent, err := store.SpendTokens(ctx, 7, 4)
	if err != nil {
		t.Fatalf("SpendTokens returned error: %v", err)
	}
	if !spent {
		t.Fatal("spend within balance refused")
	}
	if balance, _ := store.Balance(ctx, 7); balance != 6 {
		t.Errorf("balance = %d, want 6", balance)
	}

	spent, err = store.SpendTokens(ctx, 7, 100)
	if err != nil {
		t.Fatalf("over-spend returned error: %v", err)
	}
	if spent {
		t.Error("spend beyond balance succeeded")
	}
	if balance, _ := store.Balance(ctx, 7); balance != 6 {
		t.Errorf("balance after refused spend = %d, want 6", balance)
	}
}

func TestPostgresTotals(t *testing.T) {
	store := newPostgresStore(newMemDB())
	ctx := context.Background()

	if _, err := store.Account(ctx, 1, Profile{}); err != nil {
		t.Fatalf("Account returned error: %v", err)
	}
	if _, err := store.AddTokens(ctx, 2, 5, Profile{}); err != nil {
		t.Fatalf("AddTokens returned error: %v", err)
	}
	if err := store.IncrementVideoCount(ctx, 1); err != nil {
		t.Fatalf("IncrementVideoCount returned error: %v", err)
	}

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals returned error: %v", err)
	}
	if totals.Users != 2 {
		t.Errorf("users = %d, want 2", totals.Users)
	}
	if totals.Tokens != 25 {
		t.Errorf("tokens = %d, want 25", totals.Tokens)
	}
	if totals.Videos != 1 {
		t.Errorf("videos = %d, want 1", totals.Videos)
	}
}
