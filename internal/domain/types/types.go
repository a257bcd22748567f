// Package types holds the JSON shapes served by the HTTP API.
package types

import (
	"time"

	"github.com/okian/lootbox/internal/domain/model"
)

// PrizeView identifies the drawn prize.
type PrizeView struct {
	VariantID string `json:"variantId"`
	Title     string `json:"title"`
}

// SpinResponse is the body of a successful POST /spin. OrderID and
// OrderError are null when absent.
type SpinResponse struct {
	Success       bool      `json:"success"`
	SpinID        string    `json:"spinId"`
	CustomerID    string    `json:"customerId"`
	BoxID         string    `json:"boxId"`
	BoxName       string    `json:"boxName"`
	CreditsBefore int64     `json:"credits_before"`
	CreditsAfter  int64     `json:"credits_after"`
	PriceCredits  int64     `json:"price_credits"`
	Prize         PrizeView `json:"prize"`
	OrderID       *string   `json:"orderId"`
	OrderError    *string   `json:"orderError"`
	Replayed      bool      `json:"replayed"`
}

func NewSpinResponse(o model.SpinOutcome) SpinResponse {
	return SpinResponse{
		Success:       true,
		SpinID:        o.SpinID,
		CustomerID:    o.CustomerID,
		BoxID:         o.BoxID,
		BoxName:       o.BoxName,
		CreditsBefore: o.CreditsBefore,
		CreditsAfter:  o.CreditsAfter,
		PriceCredits:  o.PriceCredits,
		Prize:         PrizeView{VariantID: o.ChosenItem.PrizeRef, Title: o.ChosenItem.DisplayName},
		OrderID:       optional(o.FulfillmentOrderID),
		OrderError:    optional(o.FulfillmentError),
		Replayed:      o.Replayed,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoxItemView is one prize of a box with its normalised odds.
type BoxItemView struct {
	VariantID string  `json:"variantId"`
	Title     string  `json:"title"`
	Weight    float64 `json:"weight"`
	Odds      float64 `json:"odds"`
}

// BoxView describes a box for GET /boxes.
type BoxView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	PriceCredits int64         `json:"price_credits"`
	Items        []BoxItemView `json:"items"`
}

func NewBoxView(b model.LootBox) BoxView {
	total := b.TotalWeight()
	items := make([]BoxItemView, 0, len(b.Items))
	for _, it := range b.Items {
		var odds float64
		if total > 0 {
			odds = it.Weight / total
		}
		items = append(items, BoxItemView{
			VariantID: it.PrizeRef,
			Title:     it.DisplayName,
			Weight:    it.Weight,
			Odds:      odds,
		})
	}
	return BoxView{ID: b.ID, Name: b.DisplayName, PriceCredits: b.PriceCredits, Items: items}
}

// BalanceResponse is the body of GET /balance/{customerId}.
type BalanceResponse struct {
	CustomerID string `json:"customerId"`
	Credits    int64  `json:"credits"`
}

// LedgerView is the body of GET /ledger/{spinId}.
type LedgerView struct {
	SpinID        string    `json:"spinId"`
	CustomerID    string    `json:"customerId"`
	BoxID         string    `json:"boxId"`
	BoxName       string    `json:"boxName"`
	Prize         PrizeView `json:"prize"`
	Debit         int64     `json:"debit"`
	CreditsBefore int64     `json:"credits_before"`
	CreditsAfter  int64     `json:"credits_after"`
	Status        string    `json:"status"`
	OrderID       *string   `json:"orderId"`
	LastError     *string   `json:"lastError"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func NewLedgerView(e model.LedgerEntry) LedgerView {
	return LedgerView{
		SpinID:        e.SpinID,
		CustomerID:    e.CustomerID,
		BoxID:         e.BoxID,
		BoxName:       e.BoxName,
		Prize:         PrizeView{VariantID: e.PrizeRef, Title: e.PrizeTitle},
		Debit:         e.Debit,
		CreditsBefore: e.CreditsBefore,
		CreditsAfter:  e.CreditsAfter,
		Status:        string(e.Status),
		OrderID:       optional(e.OrderID),
		LastError:     optional(e.LastError),
		Attempts:      e.Attempts,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InsufficientCreditsResponse adds the price and balance to a 400.
type InsufficientCreditsResponse struct {
	Error    string `json:"error"`
	Required int64  `json:"required"`
	Current  int64  `json:"current"`
}
