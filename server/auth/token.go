package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the payload carried inside a signed token.
type Claims struct {
	Subject   uuid.UUID `json:"sub"`
	Kind      TokenKind `json:"kind"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

// TokenIssuer issues and verifies HMAC-SHA256 signed bearer tokens. The
// token format is private to this package; nothing else parses one.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates an issuer with the given signing secret and token
// lifetimes.
func NewTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue signs a token of the given kind for userID.
func (i *TokenIssuer) Issue(userID uuid.UUID, kind TokenKind) (string, error) {
	ttl := i.accessTTL
	if kind == TokenRefresh {
		ttl = i.refreshTTL
	}
	now := i.now()
	claims := Claims{
		Subject:   userID,
		Kind:      kind,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", &Error{Type: ErrInvalidToken, Message: "encoding claims", Err: err}
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + i.sign(encoded), nil
}

// Pair issues an access and a refresh token for userID.
func (i *TokenIssuer) Pair(userID uuid.UUID) (access, refresh string, err error) {
	if access, err = i.Issue(userID, TokenAccess); err != nil {
		return "", "", err
	}
	if refresh, err = i.Issue(userID, TokenRefresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify checks the token's signature, expiry and kind, and returns its
// claims.
func (i *TokenIssuer) Verify(token string, kind TokenKind) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, &Error{Type: ErrInvalidToken, Message: "malformed token"}
	}
	if !hmac.Equal([]byte(i.sign(encoded)), []byte(sig)) {
		return nil, &Error{Type: ErrInvalidToken, Message: "signature mismatch"}
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Type: ErrInvalidToken, Message: "malformed payload", Err: err}
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &Error{Type: ErrInvalidToken, Message: "malformed claims", Err: err}
	}

	if claims.Kind != kind {
		return nil, &Error{Type: ErrInvalidToken, Message: "wrong token kind"}
	}
	if i.now().Unix() >= claims.ExpiresAt {
		return nil, &Error{Type: ErrExpiredToken, Message: "token expired"}
	}
	if claims.Subject == uuid.Nil {
		return nil, &Error{Type: ErrInvalidToken, Message: "missing subject"}
	}
	return &claims, nil
}

func (i *TokenIssuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// AccessTTL returns the configured access-token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }
