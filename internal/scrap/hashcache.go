package scrap

// HashCache maps source keys to their last known content hash. It is an
// accelerator only: losing it costs recomputation, never correctness.
type HashCache interface {
	Get(key string) (string, bool)
	Put(key, hash string)
	// HasHash reports whether any key maps to hash.
	HasHash(hash string) bool
	Len() int
	Reset()
	// Flush persists the cache durably.
	Flush() error
}
