package repository

import "time"

type storeOptions struct {
	now          func() time.Time
	queryTimeout time.Duration
	table        string
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		now:          time.Now,
		queryTimeout: 5 * time.Second,
		table:        "lootbox_ledger",
	}
}

// Option applies a configuration option to a ledger store.
type Option func(*storeOptions)

// WithClock replaces the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithQueryTimeout bounds each SQL statement. Ignored by the memory store.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// WithTable sets the ledger table name. Ignored by the memory store.
func WithTable(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.table = name
		}
	}
}
