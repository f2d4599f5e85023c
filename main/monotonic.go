/*
	monotonic.go: monotonic clock built on time.Ticker - necessary because the
	real time clock on a headless SBC steps once NTP comes up, and reading
	ages must not jump with it.
*/

package main

import (
	humanize "github.com/dustin/go-humanize"
	"time"
)

// Timer (since start).

type monotonic struct {
	Milliseconds uint64
	Time         time.Time
	ticker       *time.Ticker
}

func (m *monotonic) Watcher() {
	for {
		<-m.ticker.C
		m.Milliseconds += 10
		m.Time = m.Time.Add(10 * time.Millisecond)
	}
}

func (m *monotonic) Since(t time.Time) time.Duration {
	return m.Time.Sub(t)
}

func (m *monotonic) HumanizeTime(t time.Time) string {
	return humanize.RelTime(t, m.Time, "ago", "from now")
}

func (m *monotonic) Unix() int64 {
	return int64(m.Since(time.Time{}).Seconds())
}

func NewMonotonic() *monotonic {
	t := &monotonic{Milliseconds: 0, Time: time.Time{}, ticker: time.NewTicker(10 * time.Millisecond)}
	go t.Watcher()
	return t
}

var mprClock *monotonic
