package otp

import "time"

// DefaultCountdownSeconds is the resend countdown after each dispatch.
const DefaultCountdownSeconds = 120

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// startCountdownLocked replaces any running countdown with a fresh one.
func (f *Flow) startCountdownLocked() {
	f.stopCountdownLocked()
	f.s.CountdownSeconds = f.countdownSeconds
	f.s.CountdownActive = f.countdownSeconds > 0
	if !f.s.CountdownActive {
		return
	}

	t := f.tickers(time.Second)
	done := make(chan struct{})
	gen := f.countdownGen
	f.stopTicker = func() {
		t.Stop()
		close(done)
	}
	go f.runCountdown(t, done, gen)
}

func (f *Flow) stopCountdownLocked() {
	f.countdownGen++
	if f.stopTicker != nil {
		f.stopTicker()
		f.stopTicker = nil
	}
	f.s.CountdownActive = false
}

func (f *Flow) runCountdown(t Ticker, done <-chan struct{}, gen uint64) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
		}

		f.mu.Lock()
		if f.countdownGen != gen {
			f.mu.Unlock()
			return
		}
		if f.s.CountdownSeconds > 0 {
			f.s.CountdownSeconds--
		}
		finished := f.s.CountdownSeconds == 0
		if finished {
			f.stopCountdownLocked()
		}
		snap := f.s
		f.mu.Unlock()

		f.emit(snap)
		if finished {
			return
		}
	}
}
