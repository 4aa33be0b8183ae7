package peer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a pairing token is missing or invalid.
var ErrUnauthorized = errors.New("peer is not authorized")

// Claims are carried by a pairing token.
// We add jwt.StandardClaims as an embedded type, to provide fields like
// expiry time and token id.
type Claims struct {
	Peer string `json:"peer"`
	jwt.StandardClaims
}

// IssueToken signs a pairing token for peer, valid for ttl.
func IssueToken(secret []byte, peer string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: no shared secret configured", ErrUnauthorized)
	}

	claims := &Claims{
		Peer: peer,
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Subject:   peer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a pairing token.
func VerifyToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !tkn.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrUnauthorized)
	}
	return claims, nil
}

// Authorize checks the bearer token of r. An empty secret disables the
// check.
func Authorize(secret []byte, r *http.Request) (*Claims, error) {
	if len(secret) == 0 {
		return nil, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return VerifyToken(secret, strings.TrimSpace(tokenString))
}
