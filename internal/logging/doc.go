// Package logging provides slog construction and shared attribute helpers
// used across syncdock components.
package logging
