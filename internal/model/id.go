package model

import "github.com/oklog/ulid/v2"

// handlePrefix marks artifact handles, mirroring the scheme of browser object URLs.
const handlePrefix = "blob:"

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewHandle returns a fresh artifact handle.
func NewHandle() string {
	return handlePrefix + NewID()
}

// IsHandle reports whether s has the shape of an artifact handle.
func IsHandle(s string) bool {
	if len(s) <= len(handlePrefix) || s[:len(handlePrefix)] != handlePrefix {
		return false
	}
	_, err := ulid.ParseStrict(s[len(handlePrefix):])
	return err == nil
}
