package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence surface the HTTP handlers talk to.
type Store interface {
	Create(ctx context.Context, nu NewUser) error
	Authenticate(ctx context.Context, userID, password string) (bool, error)
	Get(ctx context.Context, userID string) (*User, error)
	Exists(ctx context.Context, userID string) (bool, error)
	Update(ctx context.Context, userID string, upd Update) error
	Delete(ctx context.Context, userID string) error
}

const pgUniqueViolation = "23505"

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *PGStore) Create(ctx context.Context, nu NewUser) error {
	hash, err := HashPassword(nu.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (
			user_id, password_hash, location, todoist_api_token,
			google_oauth_credentials_path, gmail_credentials_file, calendar_credentials_file
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		NormalizeID(nu.UserID), hash, nu.Location, nu.TodoistAPIToken,
		nu.GoogleOAuthCredentials, nu.GmailCredentialsFile, nu.CalendarCredentialsFile,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Authenticate checks a password. An unknown user yields false, not an
// error, so callers cannot distinguish a missing account from a bad password.
func (s *PGStore) Authenticate(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE user_id = $1`,
		NormalizeID(userID),
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select user: %w", err)
	}
	return CheckPassword(password, hash), nil
}

func (s *PGStore) Get(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, location, todoist_api_token,
		       google_oauth_credentials_path, gmail_credentials_file, calendar_credentials_file,
		       created_at, updated_at
		FROM users WHERE user_id = $1`,
		NormalizeID(userID),
	).Scan(
		&u.UserID, &u.Location, &u.TodoistAPIToken,
		&u.GoogleOAuthCredentials, &u.GmailCredentialsFile, &u.CalendarCredentialsFile,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (s *PGStore) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM users WHERE user_id = $1`,
		NormalizeID(userID),
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select user: %w", err)
	}
	return true, nil
}

func (s *PGStore) Update(ctx context.Context, userID string, upd Update) error {
	set, args, err := buildUpdate(upd)
	if err != nil {
		return err
	}
	args = append(args, NormalizeID(userID))

	query := fmt.Sprintf(
		`UPDATE users SET %s, updated_at = now() WHERE user_id = $%d`,
		strings.Join(set, ", "), len(args),
	)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE user_id = $1`,
		NormalizeID(userID),
	)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildUpdate assembles the SET clauses for the fields present in upd. The
// placeholder numbering starts at $1 and the caller appends the user id as
// the final argument.
func buildUpdate(upd Update) ([]string, []any, error) {
	var set []string
	var args []any

	add := func(column string, value string) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("hash password: %w", err)
		}
		add("password_hash", hash)
	}
	if upd.Location != nil {
		add("location", *upd.Location)
	}
	if upd.TodoistAPIToken != nil {
		add("todoist_api_token", *upd.TodoistAPIToken)
	}
	if upd.GoogleOAuthCredentials != nil {
		add("google_oauth_credentials_path", *upd.GoogleOAuthCredentials)
	}
	if upd.GmailCredentialsFile != nil {
		add("gmail_credentials_file", *upd.GmailCredentialsFile)
	}
	if upd.CalendarCredentialsFile != nil {
		add("calendar_credentials_file", *upd.CalendarCredentialsFile)
	}

	if len(set) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}
	return set, args, nil
}
