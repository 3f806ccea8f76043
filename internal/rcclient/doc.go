// Package rcclient implements the JSON-over-HTTP client for the remote
// control API of the supervised daemon. Calls carry a fixed timeout and a
// single bounded retry on connection-reset class failures; every other
// failure propagates immediately with a classified error.
package rcclient
