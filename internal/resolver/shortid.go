package resolver

import (
	"fmt"
	"strings"
)

// MinPrefixLength is the minimum accepted length for service id prefixes.
// Six characters balance typing effort against collision odds.
const MinPrefixLength = 6

// ResolveServiceID resolves a service id prefix against the set of known
// ids. It returns the full id when exactly one candidate matches.
//
// Three cases:
//  1. Input is already a full id (36 chars, 4 hyphens) - checked for
//     membership as-is
//  2. Input is shorter than MinPrefixLength - rejected
//  3. Input is a prefix - matched against every candidate
func ResolveServiceID(ids []string, prefix string) (string, error) {
	if len(prefix) == 36 && strings.Count(prefix, "-") == 4 {
		for _, id := range ids {
			if id == prefix {
				return id, nil
			}
		}
		return "", &NotFoundError{Prefix: prefix}
	}

	if len(prefix) < MinPrefixLength {
		return "", fmt.Errorf("service id prefix must be at least %d characters (got %d)", MinPrefixLength, len(prefix))
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: prefix, Matches: matches}
	}
}

// NotFoundError indicates no service matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no services found matching '%s'", e.Prefix)
}

// AmbiguousError indicates multiple services matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous service id prefix '%s' matches %d services", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError creates a user-facing message for an ambiguous
// prefix, listing up to 10 matching ids.
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("Error: ambiguous service id prefix '%s' matches %d services:\n", err.Prefix, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the service."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
