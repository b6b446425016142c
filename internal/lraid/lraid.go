// Package lraid mints and parses LRA identifiers. An LRA id is always an
// absolute URI of the form "<coordinator-base>/<uid>"; nested ids are the
// same shape, the parent relationship is carried separately (see
// internal/lra), not encoded into the id string itself.
package lraid

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ID is a parsed, validated LRA identifier. The zero value is not valid;
// construct one with Parse or New.
type ID struct {
	base string // coordinator base, no trailing slash
	uid  string
}

// New mints a fresh ID under the given coordinator base.
func New(coordinatorBase string) ID {
	return ID{
		base: strings.TrimRight(coordinatorBase, "/"),
		uid:  uuid.NewString(),
	}
}

// Parse validates and decomposes an absolute LRA id URI.
func Parse(raw string) (ID, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ID{}, fmt.Errorf("lraid: invalid id %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return ID{}, fmt.Errorf("lraid: id %q is not an absolute URI", raw)
	}
	idx := strings.LastIndex(u.Path, "/")
	if idx < 0 || idx == len(u.Path)-1 {
		return ID{}, fmt.Errorf("lraid: id %q has no uid segment", raw)
	}
	uid := u.Path[idx+1:]
	u.Path = u.Path[:idx]
	return ID{base: u.String(), uid: uid}, nil
}

// String returns the absolute URI form "<base>/<uid>".
func (id ID) String() string {
	return id.base + "/" + id.uid
}

// Base returns the coordinator base this id was minted under.
func (id ID) Base() string {
	return id.base
}

// UID returns the bare, opaque uid segment.
func (id ID) UID() string {
	return id.uid
}

// IsZero reports whether id is the unconstructed zero value.
func (id ID) IsZero() bool {
	return id.uid == "" && id.base == ""
}

// SameCoordinator reports whether id was minted under coordinatorBase.
func (id ID) SameCoordinator(coordinatorBase string) bool {
	return id.base == strings.TrimRight(coordinatorBase, "/")
}
