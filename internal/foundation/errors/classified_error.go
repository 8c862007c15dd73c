package errors

import (
	stderrors "errors"
	"log/slog"
	"maps"
	"slices"
)

// ClassifiedError is an error with a category, a severity and key/value
// context for logs.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	message  string
	cause    error
	context  map[string]any
}

func (e *ClassifiedError) Error() string {
	msg := string(e.category) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Category returns the error category.
func (e *ClassifiedError) Category() ErrorCategory { return e.category }

// Severity returns the error severity.
func (e *ClassifiedError) Severity() ErrorSeverity { return e.severity }

// Message is the text without category or cause.
func (e *ClassifiedError) Message() string { return e.message }

// Value returns one context value.
func (e *ClassifiedError) Value(key string) (any, bool) {
	v, ok := e.context[key]
	return v, ok
}

// WithContext returns a copy of e with key set. Package-level sentinels stay
// untouched, so callers can annotate them freely.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	clone := *e
	clone.context = maps.Clone(e.context)
	if clone.context == nil {
		clone.context = map[string]any{}
	}
	clone.context[key] = value
	return &clone
}

// Is matches another ClassifiedError with the same category and message, so a
// sentinel still matches after WithContext.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

// AbortsRun reports whether the error's category ends a run.
func (e *ClassifiedError) AbortsRun() bool { return e.category.AbortsRun() }

// LogAttrs renders the category, context (sorted by key) and cause as slog attributes.
func (e *ClassifiedError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("category", string(e.category))}
	for _, k := range slices.Sorted(maps.Keys(e.context)) {
		attrs = append(attrs, slog.Any(k, e.context[k]))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return attrs
}

// AsClassified finds the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// HasCategory reports whether err's chain holds a ClassifiedError of category.
func HasCategory(err error, category ErrorCategory) bool {
	classified, ok := AsClassified(err)
	return ok && classified.category == category
}

// CategoryOf returns the category of err, or CategoryInternal for plain errors.
func CategoryOf(err error) ErrorCategory {
	if classified, ok := AsClassified(err); ok {
		return classified.category
	}
	return CategoryInternal
}
