// Package clock позволяет подменять текущее время в сервисах и тестах.
package clock

import "time"

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem возвращает часы на основе time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed всегда возвращает заданный момент; Set позволяет сдвинуть его в тестах.
type Fixed struct {
	now time.Time
}

// NewFixed создаёт часы, остановленные на моменте t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	return f.now
}

// Set переставляет часы на момент t.
func (f *Fixed) Set(t time.Time) {
	f.now = t.UTC()
}
