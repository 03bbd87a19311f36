// Package identity resolves the caller of a syncd request to a guest or an
// authenticated user.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"reelsync/pkg/domain"
)

const (
	GuestHeader   = "X-Guest-Id"
	GuestPrefix   = "guest_"
	defaultIssuer = "reelsync-auth"
	defaultAud    = "reelsync-api"
	defaultLeeway = 30 * time.Second
	minSecretLen  = 32
)

var (
	ErrNoCredentials = errors.New("no credentials")
	ErrInvalidGuest  = errors.New("invalid guest id")
	ErrInvalidToken  = errors.New("invalid token")
	ErrRevokedToken  = errors.New("token revoked")
)

// Identity is the resolved caller.
type Identity struct {
	ID   string
	Kind domain.IdentityKind
}

// Config configures token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
	Clock    clockwork.Clock
	// Revoker rejects tokens presented to logout. Nil disables revocation.
	Revoker Revoker
}

// Resolver verifies HS256 bearer tokens and guest headers.
type Resolver struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	clock    clockwork.Clock
	revoker  Revoker
}

// NewResolver validates cfg and builds a Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must have at least %d bytes", minSecretLen)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAud
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		clock:    clock,
		revoker:  cfg.Revoker,
	}, nil
}

// Resolve prefers a bearer token and falls back to the guest header.
func (r *Resolver) Resolve(req *http.Request) (Identity, error) {
	if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
		subject, err := r.VerifySubject(token)
		if err != nil {
			return Identity{}, err
		}
		if r.revoker != nil {
			revoked, err := r.revoker.IsRevoked(req.Context(), token)
			if err != nil {
				return Identity{}, fmt.Errorf("check revocation: %w", err)
			}
			if revoked {
				return Identity{}, ErrRevokedToken
			}
		}
		return Identity{ID: subject, Kind: domain.KindUser}, nil
	}
	guest := strings.TrimSpace(req.Header.Get(GuestHeader))
	if guest == "" {
		return Identity{}, ErrNoCredentials
	}
	if !ValidGuestID(guest) {
		return Identity{}, ErrInvalidGuest
	}
	return Identity{ID: guest, Kind: domain.KindGuest}, nil
}

// VerifySubject validates token and returns its subject.
func (r *Resolver) VerifySubject(token string) (string, error) {
	claims, err := r.verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Revoke rejects the bearer token of req until it expires. Requests without
// a bearer token are left alone.
func (r *Resolver) Revoke(req *http.Request) error {
	if r.revoker == nil {
		return nil
	}
	token, ok := bearerToken(req.Header.Get("Authorization"))
	if !ok {
		return nil
	}
	claims, err := r.verify(token)
	if err != nil {
		return err
	}
	return r.revoker.Revoke(req.Context(), token, claims.ExpiresAt.Time.Add(r.leeway))
}

func (r *Resolver) verify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
		jwt.WithTimeFunc(r.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims.Subject = strings.TrimSpace(claims.Subject)
	if claims.Subject == "" || strings.HasPrefix(claims.Subject, GuestPrefix) {
		return claims, fmt.Errorf("%w: unusable subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issue signs a token for subject. syncd only verifies tokens; Issue serves
// tests and local tooling.
func (r *Resolver) Issue(subject string, ttl time.Duration) (string, error) {
	now := r.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    r.issuer,
		Audience:  jwt.ClaimStrings{r.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// NewGuestID mints a guest identity.
func NewGuestID() string {
	return GuestPrefix + uuid.NewString()
}

// ValidGuestID reports whether id looks like a value from NewGuestID.
func ValidGuestID(id string) bool {
	rest, ok := strings.CutPrefix(id, GuestPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
