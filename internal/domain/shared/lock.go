package shared

import "context"

// UnlockFunc releases a lock obtained from a KeyLocker.
type UnlockFunc func()

// KeyLocker serializes work on a single key. At most one holder per key at a
// time; different keys never block each other.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}
