// Package balance reads and writes a customer's credit balance held as an
// integer attribute in the commerce backend.
package balance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/lootbox/internal/adapters/commerce"
)

const (
	DefaultNamespace = "custom"
	DefaultKey       = "credits_elyxyr"
)

// AttributeAPI is the subset of the commerce client the store needs.
type AttributeAPI interface {
	GetAttribute(ctx context.Context, customerID, namespace, key string) (commerce.Attribute, bool, error)
	PutAttribute(ctx context.Context, customerID string, attr commerce.Attribute) error
}

// Store maps balances onto (customerID, namespace, key) attributes. It does
// not retry and does not cache.
type Store struct {
	api       AttributeAPI
	namespace string
	key       string
}

// Option configures a Store.
type Option func(*Store)

// WithAttribute overrides the attribute coordinates. Blank values keep the
// defaults.
func WithAttribute(namespace, key string) Option {
	return func(s *Store) {
		if namespace != "" {
			s.namespace = namespace
		}
		if key != "" {
			s.key = key
		}
	}
}

func NewStore(api AttributeAPI, opts ...Option) *Store {
	s := &Store{api: api, namespace: DefaultNamespace, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance returns the stored balance. A missing record, a value that is
// not a decimal integer, or a negative value all read as 0.
func (s *Store) GetBalance(ctx context.Context, customerID string) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: empty customer id", ErrInvalidInput)
	}
	attr, ok, err := s.api.GetAttribute(ctx, customerID, s.namespace, s.key)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		return 0, nil
	}
	return parseCredits(attr.Value), nil
}

// SetBalance overwrites the stored balance. The record is updated in place
// when it exists and created otherwise.
func (s *Store) SetBalance(ctx context.Context, customerID string, value int64) error {
	if customerID == "" {
		return fmt.Errorf("%w: empty customer id", ErrInvalidInput)
	}
	if value < 0 {
		return fmt.Errorf("%w: negative balance %d", ErrInvalidInput, value)
	}

	attr, ok, err := s.api.GetAttribute(ctx, customerID, s.namespace, s.key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		attr = commerce.Attribute{Namespace: s.namespace, Key: s.key}
	}
	attr.Value = strconv.FormatInt(value, 10)
	attr.Type = commerce.AttributeTypeInteger

	if err := s.api.PutAttribute(ctx, customerID, attr); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func parseCredits(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
