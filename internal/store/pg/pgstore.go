// Package pg backs the gateway's stores with Postgres. One Store serves
// users, rules, credits and the audit log; rule matching itself stays in
// the rules package so both backends share the same semantics.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/ids"
	"cmdgate.io/internal/ledger"
	"cmdgate.io/internal/rules"
)

type Store struct {
	db *sql.DB
}

var (
	_ auth.UserStore = (*Store)(nil)
	_ ledger.Service = (*Store)(nil)
	_ rules.Store    = (*RuleStore)(nil)
	_ audit.Log      = (*AuditLog)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection, mainly for tests.
func NewFromDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- users ---

func (s *Store) FindByAPIKey(ctx context.Context, apiKey string) (*auth.User, error) {
	if apiKey == "" {
		return nil, auth.ErrUnauthorized
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, role, api_key, created_at from users where api_key=$1
	`, apiKey))
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, role, api_key, created_at from users where id=$1
	`, id))
}

func (s *Store) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser inserts a user with an opening credit balance if the username
// is not taken yet. Existing users keep their current key and balance, so
// boot-time seeding stays idempotent.
func (s *Store) EnsureUser(ctx context.Context, username, apiKey, role string, credits int64) (*auth.User, error) {
	id := ids.New()
	row := s.db.QueryRowContext(ctx, `
		insert into users(id, username, role, api_key, credits)
		values ($1,$2,$3,$4,$5)
		on conflict (username) do update set username = users.username
		returning id, username, role, api_key, created_at
	`, id, username, role, apiKey, credits)
	return s.scanUser(row)
}

// --- rules ---

// RuleStore is the rules.Store facet of the database.
type RuleStore struct {
	s *Store
}

func (s *Store) Rules() *RuleStore { return &RuleStore{s: s} }

func (rs *RuleStore) Add(ctx context.Context, pattern string, action rules.Action, testString string) (rules.Rule, error) {
	if _, err := rules.Compile(pattern); err != nil {
		return rules.Rule{}, err
	}

	// Serializable so two concurrent adds cannot both pass the duplicate
	// and shadow checks against the same snapshot.
	tx, err := rs.s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return rules.Rule{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := loadRules(ctx, tx)
	if err != nil {
		return rules.Rule{}, err
	}
	for _, r := range existing {
		if r.Pattern == pattern {
			return rules.Rule{}, &rules.DuplicateRuleError{RuleID: r.ID, Action: r.Action}
		}
	}
	if testString != "" {
		if err := rules.CheckConflict(existing, pattern, action, testString); err != nil {
			return rules.Rule{}, err
		}
	}

	var r rules.Rule
	r.Pattern = pattern
	r.Action = action
	err = tx.QueryRowContext(ctx, `
		insert into rules(pattern, action) values ($1,$2)
		returning id, created_at
	`, pattern, string(action)).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return rules.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return rules.Rule{}, err
	}
	return r, nil
}

func (rs *RuleStore) List(ctx context.Context) ([]rules.Rule, error) {
	return loadRules(ctx, rs.s.db)
}

func (rs *RuleStore) Delete(ctx context.Context, id int64) error {
	// Deleting an absent rule is a no-op, matching the in-memory store.
	_, err := rs.s.db.ExecContext(ctx, `delete from rules where id=$1`, id)
	return err
}

func (rs *RuleStore) Evaluate(ctx context.Context, commandText string) (rules.Outcome, error) {
	all, err := loadRules(ctx, rs.s.db)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Match(all, commandText)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRules(ctx context.Context, q querier) ([]rules.Rule, error) {
	rows, err := q.QueryContext(ctx, `
		select id, pattern, action, created_at from rules order by id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var action string
		if err := rows.Scan(&r.ID, &r.Pattern, &action, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Action = rules.Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- credits ---

func (s *Store) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		update users set credits = credits - $2
		where id=$1 and credits >= $2
		returning credits
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either no such user or not enough credits; one more read decides.
		bal, berr := s.Balance(ctx, userID)
		if berr != nil {
			return 0, berr
		}
		return bal, ledger.ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		update users set credits = credits + $2 where id=$1 returning credits
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `select credits from users where id=$1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// --- audit log ---

// AuditLog is the audit.Log facet of the database.
type AuditLog struct {
	s *Store
}

func (s *Store) Audit() *AuditLog { return &AuditLog{s: s} }

func (l *AuditLog) Append(ctx context.Context, e *audit.Entry) error {
	e.ID = ids.New()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var bal sql.NullInt64
	if e.ResultingBalance != nil {
		bal = sql.NullInt64{Int64: *e.ResultingBalance, Valid: true}
	}
	return l.s.db.QueryRowContext(ctx, `
		insert into audit_logs(id, user_id, username, role, command_text, status, resulting_balance, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8) returning sequence
	`, e.ID, e.UserID, e.Username, e.Role, e.CommandText, string(e.Status), bal, e.CreatedAt).Scan(&e.Sequence)
}

func (l *AuditLog) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	query := `
		select id, sequence, user_id, username, role, command_text, status, resulting_balance, created_at
		from audit_logs
	`
	var args []any
	switch q.Filter {
	case audit.FilterExecuted:
		query += ` where status = $1`
		args = append(args, string(audit.StatusExecuted))
	case audit.FilterRejectedAny:
		query += ` where status in ($1, $2)`
		args = append(args, string(audit.StatusRejected), string(audit.StatusRejectedNoCredits))
	}
	if q.Order == audit.OrderOldestFirst {
		query += ` order by sequence asc`
	} else {
		query += ` order by sequence desc`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` limit $` + strconv.Itoa(len(args))
	}

	rows, err := l.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var status string
		var bal sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Sequence, &e.UserID, &e.Username, &e.Role, &e.CommandText, &status, &bal, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = audit.Status(status)
		if bal.Valid {
			v := bal.Int64
			e.ResultingBalance = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
