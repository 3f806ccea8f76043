// Package config loads, validates, and normalizes the syncdock
// configuration file.
package config
