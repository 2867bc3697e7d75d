package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token provided")

type peerClaims struct {
	Participant string `json:"participant"`
	jwt.RegisteredClaims
}

// TokenIssuer signs the tokens that let a connection act as the representing
// peer of a participant.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *TokenIssuer) Issue(participant string) (string, error) {
	now := r.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, peerClaims{
		Participant: participant,
		RegisteredClaims: jwt.RegisteredClaims{
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	})

	return token.SignedString(r.secret)
}

// Parse returns the participant a token was issued for.
func (r *TokenIssuer) Parse(tokenString string) (string, error) {
	var claims peerClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(jwtToken *jwt.Token) (interface{}, error) {
		if _, ok := jwtToken.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected method: %s", jwtToken.Header["alg"])
		}

		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Participant == "" {
		return "", ErrInvalidToken
	}

	return claims.Participant, nil
}
