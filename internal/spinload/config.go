package spinload

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the gateway
	CustomerID string        // Customer whose credits are spent
	BoxID      string        // Box to spin
	NumSpins   int           // Number of distinct spins to submit
	Workers    int           // Number of concurrent workers
	Replays    int           // Number of spins re-sent with the same Idempotency-Key
	Timeout    time.Duration // HTTP request timeout
	Verbose    bool          // Log every response
}

// SpinResponse is the subset of POST /spin the tool inspects.
type SpinResponse struct {
	Success      bool    `json:"success"`
	SpinID       string  `json:"spinId"`
	CreditsAfter int64   `json:"credits_after"`
	PriceCredits int64   `json:"price_credits"`
	OrderID      *string `json:"orderId"`
	OrderError   *string `json:"orderError"`
	Replayed     bool    `json:"replayed"`
}

// Box is the subset of GET /boxes the tool needs.
type Box struct {
	ID           string `json:"id"`
	PriceCredits int64  `json:"price_credits"`
}

type balanceResponse struct {
	Credits int64 `json:"credits"`
}

// Stats holds run statistics.
type Stats struct {
	Submitted     int
	Succeeded     int
	Replayed      int
	Insufficient  int
	InProgress    int
	Failed        int
	OrdersFailed  int
	Price         int64
	BalanceBefore int64
	BalanceAfter  int64
	StartTime     time.Time
	Duration      time.Duration
}
