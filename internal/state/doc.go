// Package state provides filesystem-backed storage for the main conversation
// transcript and for scheduled tasks.
package state
