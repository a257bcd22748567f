// Package lock provides keyed mutual exclusion: spins are serialised per
// customer so the read-modify-write on the stored balance cannot lose
// updates, and fulfillment retries are claimed per spin.
package lock

import "context"

// Lease is a held lock. Unlock must be called exactly once; it is safe to
// call after the acquiring context is done.
type Lease interface {
	// Held returns ErrLockLost once the lock may belong to someone else.
	Held(ctx context.Context) error
	Unlock()
}

// Locker acquires an exclusive lock on key.
type Locker interface {
	Lock(ctx context.Context, key string) (Lease, error)
}
