// Package steps holds the built-in step providers and the table that registers
// them. Every provider follows the step.Provider contract: Start does setup,
// Update does one bounded slice of work, and failures are logged before the
// step reports done.
package steps
