// Package notifications carries state-change fan-out to the frontend and
// user-visible operation results to an external sink.
package notifications
