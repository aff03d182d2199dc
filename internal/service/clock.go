package service

import "time"

// Clock is the source of "now" for every time comparison the engines make:
// vote windows, signature stamps and scheduled sends.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
