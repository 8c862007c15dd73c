// Package errors classifies buildorch's errors.
//
// A ClassifiedError carries a category that fixes its CLI exit code and
// whether it aborts a build run, plus context that ends up as log attributes:
//
//	err := errors.ConfigError("build collection not found").
//		WithContext("path", path).
//		Build()
package errors
