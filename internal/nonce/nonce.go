// Package nonce issues single-use tokens for the manual trigger routes.
// Each token is bound to an action and an item id so a token issued for
// staging one item cannot publish another.
package nonce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid is returned when a token is unknown, expired, already used or
// bound to a different action or item.
var ErrInvalid = errors.New("invalid or expired token")

type entry struct {
	action    string
	itemID    string
	expiresAt time.Time
}

// Service hands out single-use tokens and burns them on first use.
type Service struct {
	mu     sync.Mutex
	tokens map[string]entry
	ttl    time.Duration
	now    func() time.Time
}

func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{
		tokens: map[string]entry{},
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a token bound to the given action and item id.
func (s *Service) Issue(ctx context.Context, action string, itemID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	token := uuid.New().String()
	s.tokens[token] = entry{
		action:    action,
		itemID:    itemID,
		expiresAt: s.now().Add(s.ttl),
	}
	return token, nil
}

// Consume validates the token against the action and item id and burns it.
// A token is gone after the first Consume, valid or not the second time.
func (s *Service) Consume(ctx context.Context, token string, action string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return ErrInvalid
	}
	delete(s.tokens, token)

	if s.now().After(e.expiresAt) {
		return ErrInvalid
	}
	if e.action != action || e.itemID != itemID {
		return ErrInvalid
	}
	return nil
}

func (s *Service) pruneLocked() {
	now := s.now()
	for token, e := range s.tokens {
		if now.After(e.expiresAt) {
			delete(s.tokens, token)
		}
	}
}
