package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// ParseToken validates an HS256 bearer token and returns the authenticated
// identity from its subject claim. An empty secret means authenticated
// identities are disabled: every token is rejected, since HS256 would
// otherwise verify tokens signed with the empty key.
func ParseToken(tokenString, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, fmt.Errorf("%w: token auth is not configured", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, ErrInvalidToken
	}

	return Authenticated(sub), nil
}

// FromRequest derives the client identity from the Authorization header.
// A missing header yields the anonymous identity; a present but invalid
// token is an error rather than a silent downgrade.
func FromRequest(r *http.Request, secret string) (Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Anonymous(), nil
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	return ParseToken(strings.TrimSpace(tokenString), secret)
}
