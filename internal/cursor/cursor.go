// Package cursor tracks the next update identifier to request from the
// Bot API and optionally persists it between runs.
package cursor

import "math"

// Initial is the offset requested before any update has been seen.
const Initial uint64 = 1

// Cursor is the outbound poll position. It is owned by a single poll loop
// and is not safe for concurrent use.
type Cursor struct {
	next uint64
}

// New returns a cursor at Initial.
func New() *Cursor {
	return &Cursor{next: Initial}
}

// Restore returns a cursor positioned at next, clamped to Initial.
func Restore(next uint64) *Cursor {
	if next < Initial {
		next = Initial
	}
	return &Cursor{next: next}
}

// Next is the offset for the next poll.
func (c *Cursor) Next() uint64 {
	return c.next
}

// Advance moves the cursor past updateID. Identifiers that would move it
// backwards are ignored. It reports whether the cursor moved.
func (c *Cursor) Advance(updateID uint64) bool {
	candidate := updateID
	if updateID < math.MaxUint64 {
		candidate = updateID + 1
	}
	if candidate <= c.next {
		return false
	}
	c.next = candidate
	return true
}
