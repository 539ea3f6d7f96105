package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brendan612/latchkey/internal/util"
	"github.com/brendan612/latchkey/internal/uuid"
)

const (
	tokenIssuer = "latchkey-gateway"

	defaultSessionTTL = 12 * time.Hour
	defaultStreamTTL  = 2 * time.Minute
)

// sessionClaims are the signed claims of a session token. The vault content
// key never appears in any token.
type sessionClaims struct {
	OrgID     string `json:"org"`
	SessionID string `json:"sid"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// streamClaims are the signed claims of a stream token: scoped to a single
// vault and signed with a different secret than session tokens, so one can
// never be replayed as the other.
type streamClaims struct {
	OrgID     string `json:"org"`
	VaultID   string `json:"vid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// tokenSigner issues and verifies session and stream tokens. Both signing
// secrets are HKDF-derived from one root secret with distinct info strings.
type tokenSigner struct {
	sessionSecret []byte
	streamSecret  []byte
	sessionTTL    time.Duration
	streamTTL     time.Duration
}

func newTokenSigner(rootSecret []byte) (*tokenSigner, error) {
	if len(rootSecret) == 0 {
		return nil, errors.New("token root secret must not be empty")
	}
	sessionSecret, err := util.HKDF(rootSecret, nil, []byte("latchkey/session-token/v1"))
	if err != nil {
		return nil, err
	}
	streamSecret, err := util.HKDF(rootSecret, nil, []byte("latchkey/stream-token/v1"))
	if err != nil {
		return nil, err
	}
	return &tokenSigner{
		sessionSecret: sessionSecret,
		streamSecret:  streamSecret,
		sessionTTL:    defaultSessionTTL,
		streamTTL:     defaultStreamTTL,
	}, nil
}

// issueSession mints a session token for a subject within an org.
func (s *tokenSigner) issueSession(subject, orgID string, role Role, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.sessionTTL)
	claims := sessionClaims{
		OrgID:     orgID,
		SessionID: uuid.New(),
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, exp, nil
}

// verifySession parses and validates a session token.
func (s *tokenSigner) verifySession(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	if err := s.verify(token, claims, s.sessionSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.OrgID == "" {
		return nil, errors.New("session token missing subject or org")
	}
	return claims, nil
}

// issueStream mints a short-lived token scoped to one vault.
func (s *tokenSigner) issueStream(subject, orgID, vaultID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.streamTTL)
	claims := streamClaims{
		OrgID:     orgID,
		VaultID:   vaultID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.streamSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing stream token: %w", err)
	}
	return signed, exp, nil
}

// verifyStream parses and validates a stream token against the vault it
// must be scoped to.
func (s *tokenSigner) verifyStream(token, vaultID string) (*streamClaims, error) {
	claims := &streamClaims{}
	if err := s.verify(token, claims, s.streamSecret); err != nil {
		return nil, err
	}
	if claims.VaultID != vaultID {
		return nil, errors.New("stream token is scoped to a different vault")
	}
	return claims, nil
}

func (s *tokenSigner) verify(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}
