// Package cache defines the persistent single-slot store that backs the HTTP
// caching layer. The store remembers exactly one (key, entry) pair in a single
// file on disk: a new Put evicts whatever was stored before, and a missing,
// truncated or foreign file simply reads as an empty slot. Writes go through
// atomicfile (temp file + fsync + rename) so a crash mid-write leaves either
// the previous frame or the new one, never a key without its entry.
package cache
