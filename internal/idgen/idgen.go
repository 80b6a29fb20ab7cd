// Package idgen centralises id generation for the session runtime: session,
// message, tool-call, and thread ids are all ULIDs, generated the same way
// the teacher's internal/session.generateID helper does it.
package idgen

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string.
func New() string {
	return ulid.Make().String()
}

// NewPrefixed returns a fresh ULID string prefixed with prefix + "_", for
// ids whose namespace benefits from being self-describing at a glance
// (e.g. "msg_01HXYZ...").
func NewPrefixed(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}
