package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrRateLimited mirrors the teacher's membership rate limiter error.
var ErrRateLimited = errors.New("session: rate limit exceeded")

// ErrInvalidCredentials is returned by Authenticate on a bad email/password
// pair, deliberately not distinguishing "no such user" from "wrong
// password".
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// claims is the JWT payload issued as a session bearer token.
type claims struct {
	jwt.RegisteredClaims
	SessionID uuid.UUID `json:"sid"`
}

// Service registers users, authenticates them, and issues/verifies JWT
// session tokens. Grounded on the teacher's internal/membership service,
// generalized from "library member" to a transport-agnostic principal and
// carrying a signed bearer token. Verify still touches the session row on
// every call, so an expired or missing session rejects the token.
type Service struct {
	store       *Store
	signingKey  []byte
	ttl         time.Duration
	rateLimiter *rate.Limiter
}

// NewService wires a Service. signingKey signs/verifies issued JWTs; ttl is
// both the session record's lifetime and the JWT's expiry.
func NewService(store *Store, signingKey string, ttl time.Duration, requestsPerMinute int) *Service {
	return &Service{
		store:      store,
		signingKey: []byte(signingKey),
		ttl:        ttl,
		// rate.Every(time.Minute/n) matches the teacher's "n per minute"
		// framing rather than a flat requests-per-second budget.
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
	}
}

// Register hashes password, stores the credential, and returns the new
// user id. Does not itself start a session (the caller typically chains
// into Authenticate or issues a token directly).
func (s *Service) Register(ctx context.Context, email, password string) (uuid.UUID, error) {
	if !s.rateLimiter.Allow() {
		return uuid.Nil, ErrRateLimited
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return uuid.Nil, err
	}

	userID := uuid.New()
	if err := s.store.InsertCredential(ctx, Credential{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		Salt:         salt,
	}); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// Authenticate verifies email/password, opens a session record, and
// returns a signed bearer token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (token string, principal Principal, err error) {
	if !s.rateLimiter.Allow() {
		return "", Principal{}, ErrRateLimited
	}

	cred, err := s.store.CredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", Principal{}, ErrInvalidCredentials
		}
		return "", Principal{}, err
	}

	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return "", Principal{}, err
	}
	if !ok {
		return "", Principal{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	rec, err := s.store.CreateSession(ctx, cred.UserID, now.Add(s.ttl), nil)
	if err != nil {
		return "", Principal{}, err
	}

	signed, err := s.sign(rec.ID, cred.UserID, now)
	if err != nil {
		return "", Principal{}, err
	}
	return signed, Principal{UserID: cred.UserID, Email: cred.Email}, nil
}

func (s *Service) sign(sessionID, userID uuid.UUID, issuedAt time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.signingKey)
}

// Verify parses and validates a bearer token, touches the underlying
// session's last_seen_at, and returns the resolved Principal.
func (s *Service) Verify(ctx context.Context, token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidCredentials
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}

	if err := s.store.Touch(ctx, c.SessionID); err != nil {
		return Principal{}, err
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: userID}, nil
}
