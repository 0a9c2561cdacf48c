// Package clock is the only source of time for the engagement engine.
// Core logic never calls time.Now() directly; inject a Clock instead.
package clock

import "time"

// Clock supplies "now" and local calendar-day boundaries.
type Clock interface {
	Now() time.Time
	// Today returns local midnight of the current day.
	Today() time.Time
}

// Real reads the system clock in a fixed location.
type Real struct {
	Loc *time.Location
}

// NewReal returns a Clock on system time in loc (time.Local if nil).
func NewReal(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return Real{Loc: loc}
}

func (r Real) Now() time.Time   { return time.Now().In(r.Loc) }
func (r Real) Today() time.Time { return Midnight(r.Now()) }

// Fixed always returns T. Use for deterministic tests.
type Fixed struct {
	T time.Time
}

// NewFixed returns a Clock frozen at t.
func NewFixed(t time.Time) Clock {
	return Fixed{T: t}
}

func (f Fixed) Now() time.Time   { return f.T }
func (f Fixed) Today() time.Time { return Midnight(f.T) }

// Func wraps a function as a Clock.
type Func func() time.Time

func (f Func) Now() time.Time   { return f() }
func (f Func) Today() time.Time { return Midnight(f()) }

// Midnight returns local midnight of t's day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextMidnight returns the midnight following t's day. DST-safe.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

var (
	_ Clock = Real{}
	_ Clock = Fixed{}
	_ Clock = Func(nil)
)
