// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidBox is returned by LootBox.Validate.
var ErrInvalidBox = errors.New("invalid loot box")

// LootItem is one weighted prize option. PrizeRef is the external SKU
// (variant) identifier the fulfillment order is created for.
type LootItem struct {
	PrizeRef    string
	DisplayName string
	Weight      float64
}

// LootBox is a priced bundle of weighted prize options.
type LootBox struct {
	ID           string
	DisplayName  string
	PriceCredits int64
	Items        []LootItem
}

// Validate checks the static invariants of a box definition.
func (b LootBox) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidBox)
	}
	if b.PriceCredits < 0 {
		return fmt.Errorf("%w: box %q has negative price %d", ErrInvalidBox, b.ID, b.PriceCredits)
	}
	if len(b.Items) == 0 {
		return fmt.Errorf("%w: box %q has no items", ErrInvalidBox, b.ID)
	}
	for i, it := range b.Items {
		if strings.TrimSpace(it.PrizeRef) == "" {
			return fmt.Errorf("%w: box %q item %d has no prize reference", ErrInvalidBox, b.ID, i)
		}
		if !(it.Weight > 0) || math.IsInf(it.Weight, 0) {
			return fmt.Errorf("%w: box %q item %d has non-positive weight %v", ErrInvalidBox, b.ID, i, it.Weight)
		}
	}
	if math.IsInf(b.TotalWeight(), 0) {
		return fmt.Errorf("%w: box %q total weight overflows", ErrInvalidBox, b.ID)
	}
	return nil
}

// TotalWeight sums item weights.
func (b LootBox) TotalWeight() float64 {
	var total float64
	for _, it := range b.Items {
		total += it.Weight
	}
	return total
}

// DrawResult is the outcome of one weighted draw.
type DrawResult struct {
	ChosenItem LootItem
}

// SpinOutcome describes one spin call. It is returned to the caller and,
// once the debit has committed, mirrored into the ledger.
type SpinOutcome struct {
	SpinID             string
	CustomerID         string
	BoxID              string
	BoxName            string
	PriceCredits       int64
	CreditsBefore      int64
	CreditsAfter       int64
	ChosenItem         LootItem
	FulfillmentOrderID string
	FulfillmentError   string
	Replayed           bool
	CreatedAt          time.Time
}

// Fulfilled reports whether an order was created for the prize.
func (o SpinOutcome) Fulfilled() bool {
	return o.FulfillmentOrderID != ""
}

// LedgerStatus tracks the fulfillment state of a debited spin.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerFulfilled LedgerStatus = "fulfilled"
	LedgerFailed    LedgerStatus = "failed"
)

// LedgerEntry records a committed debit and its fulfillment state so a
// reconciler can retry failed orders without debiting again.
type LedgerEntry struct {
	SpinID        string       `db:"spin_id"`
	CustomerID    string       `db:"customer_id"`
	BoxID         string       `db:"box_id"`
	BoxName       string       `db:"box_name"`
	PrizeRef      string       `db:"prize_ref"`
	PrizeTitle    string       `db:"prize_title"`
	Debit         int64        `db:"debit"`
	CreditsBefore int64        `db:"credits_before"`
	CreditsAfter  int64        `db:"credits_after"`
	Status        LedgerStatus `db:"status"`
	OrderID       string       `db:"order_id"`
	LastError     string       `db:"last_error"`
	Attempts      int          `db:"attempts"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

// NewLedgerEntry builds a pending entry from a debited spin.
func NewLedgerEntry(o SpinOutcome) LedgerEntry {
	return LedgerEntry{
		SpinID:        o.SpinID,
		CustomerID:    o.CustomerID,
		BoxID:         o.BoxID,
		BoxName:       o.BoxName,
		PrizeRef:      o.ChosenItem.PrizeRef,
		PrizeTitle:    o.ChosenItem.DisplayName,
		Debit:         o.PriceCredits,
		CreditsBefore: o.CreditsBefore,
		CreditsAfter:  o.CreditsAfter,
		Status:        LedgerPending,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.CreatedAt,
	}
}

// Outcome rebuilds the spin outcome recorded by this entry. The item weight
// is not stored and comes back as zero.
func (e LedgerEntry) Outcome() SpinOutcome {
	return SpinOutcome{
		SpinID:             e.SpinID,
		CustomerID:         e.CustomerID,
		BoxID:              e.BoxID,
		BoxName:            e.BoxName,
		PriceCredits:       e.Debit,
		CreditsBefore:      e.CreditsBefore,
		CreditsAfter:       e.CreditsAfter,
		ChosenItem:         LootItem{PrizeRef: e.PrizeRef, DisplayName: e.PrizeTitle},
		FulfillmentOrderID: e.OrderID,
		FulfillmentError:   e.LastError,
		CreatedAt:          e.CreatedAt,
	}
}

// FulfillmentNote is the order note attached to a prize order.
func FulfillmentNote(boxName, prizeTitle string) string {
	return fmt.Sprintf("Lootbox: %s - prize %s", boxName, prizeTitle)
}
