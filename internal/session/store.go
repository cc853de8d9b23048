package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a credential or session record does not
// exist.
var ErrNotFound = errors.New("session: not found")

// Store persists Credentials and session Records in the companion
// `sessions`/`credentials` tables of spec.md §6.1, via sqlx the way the
// teacher's internal/membership uses database/sql directly — sqlx here
// only adds struct-scanning convenience, never a second query language.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an existing *sql.DB for session storage.
func NewStore(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// InsertCredential stores a freshly hashed credential.
func (s *Store) InsertCredential(ctx context.Context, c Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, email, password_hash, salt)
		VALUES ($1, $2, $3, $4)
	`, c.UserID, c.Email, c.PasswordHash, c.Salt)
	return err
}

// CredentialByEmail looks up a credential by email.
func (s *Store) CredentialByEmail(ctx context.Context, email string) (Credential, error) {
	var c Credential
	err := s.db.GetContext(ctx, &c, `
		SELECT user_id, email, password_hash, salt
		FROM credentials WHERE email = $1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	return c, err
}

// CreateSession inserts a new session record, valid until expiresAt.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time, data []byte) (Record, error) {
	rec := Record{
		ID:         uuid.New(),
		UserID:     &userID,
		CreatedAt:  time.Now().UTC(),
		LastSeenAt: time.Now().UTC(),
		ExpiresAt:  expiresAt,
		Data:       data,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, rec.CreatedAt, rec.LastSeenAt, rec.ExpiresAt, rec.Data)
	return rec, err
}

// Touch advances a session's last_seen_at to now, returning ErrNotFound if
// the session has expired or never existed.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_seen_at = now()
		WHERE id = $1 AND expires_at > now()
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a still-live session record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, user_id, created_at, last_seen_at, expires_at, data
		FROM sessions WHERE id = $1 AND expires_at > now()
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}
