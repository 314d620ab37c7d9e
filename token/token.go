// Package token implements Token.
package token

import (
	"encoding/json"
	"time"
)

// Token holds a bearer token issued by the identity provider.
// A Token is never mutated after creation; a newer Token supersedes it.
type Token struct {
	Value    string    `json:"value"`
	Deadline time.Time `json:"deadline"`
}

// New creates a token valid until now+ttl.
func New(value string, now time.Time, ttl time.Duration) Token {
	return Token{Value: value, Deadline: now.Add(ttl)}
}

// NewTokenFromJSON creates token from json.
func NewTokenFromJSON(buf []byte) (Token, error) {
	var t Token
	err := json.Unmarshal(buf, &t)
	if err != nil {
		return t, err
	}
	return t, nil
}

// ExportJSON exports token as json.
func (t Token) ExportJSON() ([]byte, error) {
	return json.Marshal(t)
}

// IsValid checks whether token is valid at the given instant.
func (t Token) IsValid(now time.Time) bool {
	return t.Value != "" && now.Before(t.Deadline)
}

// Remain reports how long the token stays valid after now.
func (t Token) Remain(now time.Time) time.Duration {
	return t.Deadline.Sub(now)
}
