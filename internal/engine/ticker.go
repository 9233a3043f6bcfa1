package engine

import "time"

// Ticker is the time source that drives periodic synchronization. Tests pass a
// manual ticker to control when cycles fire.
type Ticker interface {
	Channel() <-chan time.Time
	Stop()
}

// TimeTicker implements Ticker with a time.Ticker.
type TimeTicker struct {
	*time.Ticker
}

// NewTimeTicker returns a Ticker firing every d.
func NewTimeTicker(d time.Duration) Ticker {
	return &TimeTicker{Ticker: time.NewTicker(d)}
}

// Channel exposes the ticker's channel.
func (t *TimeTicker) Channel() <-chan time.Time {
	return t.C
}
