// Package exclusion persists the ids of messages the local user has
// deleted. History replay re-delivers such messages; the store lets
// the client suppress them across sessions. The set is append-only
// with idempotent add.
package exclusion

// Set is the deleted-message-id exclusion set consumed by the
// reconciliation store and the dispatcher.
type Set interface {
	// Add records an id. Adding an existing id is a no-op.
	Add(id string) error
	// Contains reports whether an id is excluded.
	Contains(id string) (bool, error)
	// IDs returns every excluded id in insertion order.
	IDs() ([]string, error)
}
