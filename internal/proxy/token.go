package proxy

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is how long an issued stream token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// StreamClaims is the signed payload of a stream token. The claims are
// self-sufficient: they carry the origin URL and format so a session can be
// rebuilt from a token alone after the registry entry has been evicted or the
// process restarted.
type StreamClaims struct {
	StreamID  string `json:"stream_id"`
	StreamURL string `json:"stream_url"`
	Format    Format `json:"format"`
	Live      bool   `json:"live"`
	jwt.RegisteredClaims
}

// Issuer creates and verifies stream tokens. It holds no session state;
// validity is a pure function of the token, the secret, and the clock.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with the given HMAC secret and TTL.
// An empty secret is replaced with a random per-process one, in which case
// tokens do not survive restarts. A non-positive ttl uses DefaultTokenTTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("token: cannot generate secret: " + err.Error())
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue mints a token for a fresh stream id scoped to the given origin URL.
// It returns the encoded token, the generated id, and the expiry time.
func (i *Issuer) Issue(streamURL string, format Format, live bool) (string, StreamID, time.Time, error) {
	id := StreamID(uuid.NewString())
	now := i.now()
	expiry := now.Add(i.ttl)

	claims := &StreamClaims{
		StreamID:  string(id),
		StreamURL: streamURL,
		Format:    format,
		Live:      live,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, id, expiry, nil
}

// Validate checks signature and expiry and returns the embedded claims.
// It returns ErrTokenExpired when the expiry has passed and ErrTokenInvalid
// for any other parse or signature failure.
func (i *Issuer) Validate(tokenString string) (*StreamClaims, error) {
	claims := &StreamClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.StreamID == "" || claims.StreamURL == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
