// Package session is the peripheral OAuth/session-storage collaborator of
// spec.md §6.1: the companion `sessions` table and the principal that
// authenticates a command-intake or SSE-connect call. It never touches
// pkg/eventstore directly: Handler.Middleware resolves the Principal into
// the request context before the rest of the request runs, the way the
// teacher's internal/membership resolves a Member.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Principal is a resolved session identity, read back by HTTP handlers via
// PrincipalFromContext (cmd/ironstar logs it against each command issued).
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// Record is one row of the `sessions` table named in spec.md §6.1:
// sessions(id, user_id?, created_at, last_seen_at, expires_at, data).
type Record struct {
	ID         uuid.UUID  `db:"id"`
	UserID     *uuid.UUID `db:"user_id"`
	CreatedAt  time.Time  `db:"created_at"`
	LastSeenAt time.Time  `db:"last_seen_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	Data       []byte     `db:"data"`
}

// Credential mirrors the teacher's membership.Credential: a salted Argon2id
// hash kept alongside the user identity, not inside the event log (a
// password hash is not an event payload spec.md's Decider ever needs to
// see).
type Credential struct {
	UserID       uuid.UUID `db:"user_id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}
