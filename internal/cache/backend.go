package cache

import "context"

// Backend defines the uniform storage contract implemented by every tier.
// All operations are safe for concurrent invocation. A missing key is a
// normal result, never an error: Get and Peek report absence through their
// boolean return, Delete through returning false.
type Backend interface {
	// Tier identifies which storage layer this backend implements.
	Tier() Tier

	// Get retrieves an entry and applies access bookkeeping (access count,
	// last-access timestamp). Expired entries are reported as absent.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Peek retrieves an entry without touching access metadata. Used for
	// version lookups, tag scans, and optimization sampling.
	Peek(ctx context.Context, key string) (*Entry, bool, error)

	// Set stores an entry under its key, overwriting any previous entry
	// as a whole unit. The backend stores its own copy.
	Set(ctx context.Context, entry *Entry) error

	// Delete removes an entry. Returns whether the key was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether an unexpired entry is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear empties the backend and returns the number of entries removed.
	Clear(ctx context.Context) (int, error)

	// Enumerate returns the keys of unexpired entries matching the glob
	// pattern. An empty pattern or "*" matches every key.
	Enumerate(ctx context.Context, pattern string) ([]string, error)

	// Len returns the number of entries currently held.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the backend (e.g., network
	// connections). For in-process backends, this is a no-op.
	Close() error
}
