// Package normalization maps free-form configuration and CLI strings onto typed enums.
package normalization

import (
	"maps"
	"slices"
	"strings"

	"git.home.luguber.info/inful/buildorch/internal/foundation/errors"
)

// Normalizer resolves spellings of an enum value. Matching ignores case and
// surrounding space, and treats '-' and '_' alike.
type Normalizer[T comparable] struct {
	byKey    map[string]T
	fallback T
}

// NewNormalizer indexes values by their cleaned spelling. fallback is what
// Normalize returns for input it does not know.
func NewNormalizer[T comparable](values map[string]T, fallback T) *Normalizer[T] {
	n := &Normalizer[T]{byKey: make(map[string]T, len(values)), fallback: fallback}
	for spelling, v := range values {
		n.byKey[fold(spelling)] = v
	}
	return n
}

// Normalize returns the value for raw, or the fallback.
func (n *Normalizer[T]) Normalize(raw string) T {
	v, _ := n.lookup(raw)
	return v
}

// NormalizeWithError returns the value for raw, or a validation error naming
// the accepted spellings.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	v, ok := n.lookup(raw)
	if !ok {
		var zero T
		return zero, errors.ValidationError("unrecognised value " + strings.TrimSpace(raw) + " (accepted: " + strings.Join(n.ValidKeys(), ", ") + ")").
			WithContext("value", raw).
			Build()
	}
	return v, nil
}

// ValidKeys lists the accepted spellings in sorted order.
func (n *Normalizer[T]) ValidKeys() []string {
	return slices.Sorted(maps.Keys(n.byKey))
}

func (n *Normalizer[T]) lookup(raw string) (T, bool) {
	if v, ok := n.byKey[fold(raw)]; ok {
		return v, true
	}
	return n.fallback, false
}

func fold(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}
