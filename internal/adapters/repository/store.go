// Package repository persists the spin ledger: one entry per committed debit
// together with its fulfillment state.
package repository

import (
	"context"

	"github.com/okian/lootbox/internal/domain/model"
)

// Store provides read/write access to the ledger.
type Store interface {
	// Record inserts a new entry. Returns ErrDuplicate when the spin id is
	// already present.
	Record(ctx context.Context, entry model.LedgerEntry) error

	// Get returns the entry for spinID or ErrNotFound.
	Get(ctx context.Context, spinID string) (model.LedgerEntry, error)

	// MarkFulfilled stores the order id, clears the last error and counts
	// the attempt.
	MarkFulfilled(ctx context.Context, spinID, orderID string) error

	// MarkFailed stores the fulfillment error and counts the attempt.
	MarkFailed(ctx context.Context, spinID, lastError string) error

	// ListFailed returns up to limit failed entries with fewer than
	// maxAttempts attempts, oldest first.
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]model.LedgerEntry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}
