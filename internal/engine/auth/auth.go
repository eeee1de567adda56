// Package auth decides who may act for a participant and mints the bearer
// tokens the API accepts.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}

// Service holds the operator list from config. Operators may act on behalf of
// any participant and credit deposits.
type Service struct {
	Operators []string
}

func (s Service) IsOperator(actorID string) bool {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false
	}
	for _, op := range s.Operators {
		if strings.TrimSpace(op) == actorID {
			return true
		}
	}
	return false
}

// RequireActAs allows an actor to act as themselves, or as anyone when they are
// an operator.
func (s Service) RequireActAs(actorID, participantID string) error {
	if actorID != "" && actorID == participantID {
		return nil
	}
	if s.IsOperator(actorID) {
		return nil
	}
	return ForbiddenError{ActorID: actorID, Action: "act as " + participantID}
}

func (s Service) RequireOperator(actorID, action string) error {
	if s.IsOperator(actorID) {
		return nil
	}
	return ForbiddenError{ActorID: actorID, Action: action}
}

// IssueToken signs an HS256 token whose subject is the participant id.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "truelens",
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a token and returns its subject.
func ParseToken(secret, token string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}
