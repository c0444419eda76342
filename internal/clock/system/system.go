// Package system provides the real clock implementation.
package system

import "time"

// Clock implements news.Clock using time.Now. All ingestion timestamps are
// recorded in UTC; the quota tracker converts to the configured timezone on
// its own.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
