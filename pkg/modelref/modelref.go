// Package modelref converts between the canonical and wire forms of a
// model reference.
//
// Canonical form is "provider:model" (e.g. "anthropic:claude-sonnet-4").
// Wire/legacy form is "provider/model" (e.g. "anthropic/claude-sonnet-4").
// Both forms are round-trip convertible for any valid reference.
package modelref

import "strings"

// ToCanonical converts a "provider/model" wire-form reference to its
// "provider:model" canonical form. Strings that already contain no "/"
// are returned unchanged.
func ToCanonical(ref string) string {
	if ref == "" {
		return ref
	}
	if idx := strings.IndexByte(ref, '/'); idx >= 0 {
		return ref[:idx] + ":" + ref[idx+1:]
	}
	return ref
}

// ToWire converts a "provider:model" canonical-form reference to its
// "provider/model" wire form. Strings that already contain no ":" are
// returned unchanged.
func ToWire(ref string) string {
	if ref == "" {
		return ref
	}
	if idx := strings.IndexByte(ref, ':'); idx >= 0 {
		return ref[:idx] + "/" + ref[idx+1:]
	}
	return ref
}

// Split separates a canonical-form reference into its provider and model
// components at the first ":". ok is false if ref contains no ":" or
// nothing follows the first one; any later ":" stays in model.
func Split(ref string) (provider, model string, ok bool) {
	idx := strings.IndexByte(ref, ':')
	if idx < 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
