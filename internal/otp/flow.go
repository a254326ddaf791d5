// Package otp implements the three-step verification flow used to change a
// contact detail: enter the new value, prove ownership with a one-time
// passcode, confirm.
package otp

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Step is the flow state.
type Step int

const (
	StepInput Step = iota
	StepChallenge
	StepConfirmed
)

func (s Step) String() string {
	switch s {
	case StepInput:
		return "input"
	case StepChallenge:
		return "challenge"
	case StepConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// InvalidOTPMessage is shown when the backend rejects a code.
const InvalidOTPMessage = "Invalid OTP. Please try again."

var (
	// ErrBusy is returned while another call of the same flow is outstanding.
	ErrBusy = errors.New("otp: a request is already in progress")
	// ErrStale is returned when the flow moved on before the call completed; its result was discarded.
	ErrStale = errors.New("otp: result discarded, flow has moved on")
	// ErrWrongStep is returned when an action is not valid in the current step.
	ErrWrongStep = errors.New("otp: action not allowed in current step")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("otp: flow closed")
	// ErrInvalidOTP is returned when the backend rejects the code.
	ErrInvalidOTP = errors.New("otp: invalid code")
	// ErrNoTransaction is returned when dispatch succeeds without a transaction id.
	ErrNoTransaction = errors.New("otp: backend returned no transaction id")
)

// Backend sends and verifies passcodes for one channel.
type Backend interface {
	SendOTP(ctx context.Context, target string) (transactionID string, err error)
	VerifyOTP(ctx context.Context, transactionID, code string) (bool, error)
}

// Notifier shows transient, dismissible messages (delivery failures).
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

func (fn NotifierFunc) Notify(msg string) { fn(msg) }

// Session is a snapshot of the flow state.
type Session struct {
	Step             Step
	TargetValue      string
	TransactionID    string
	CountdownSeconds int
	CountdownActive  bool
	LastError        string
	Submitting       bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithNotifier sets the sink for delivery failures.
func WithNotifier(n Notifier) Option {
	return func(f *Flow) {
		if n != nil {
			f.notifier = n
		}
	}
}

// WithTickerFactory replaces the countdown ticker source.
func WithTickerFactory(tf TickerFactory) Option {
	return func(f *Flow) {
		if tf != nil {
			f.tickers = tf
		}
	}
}

// WithCountdownSeconds overrides DefaultCountdownSeconds.
func WithCountdownSeconds(n int) Option {
	return func(f *Flow) { f.countdownSeconds = n }
}

// WithOnChange registers a callback receiving every new snapshot. It runs
// outside the flow's lock and may be called from the countdown goroutine.
func WithOnChange(fn func(Session)) Option {
	return func(f *Flow) { f.onChange = fn }
}

// Flow is one verification attempt for a single channel.
type Flow struct {
	mu sync.Mutex
	s  Session

	id               string
	channel          Channel
	backend          Backend
	current          string
	notifier         Notifier
	tickers          TickerFactory
	countdownSeconds int
	onChange         func(Session)

	gen          uint64
	countdownGen uint64
	stopTicker   func()
	closed       bool
}

// NewFlow starts a flow at StepInput. current is the value on record, which
// the new target must differ from.
func NewFlow(channel Channel, backend Backend, current string, opts ...Option) *Flow {
	f := &Flow{
		id:               uuid.NewString(),
		channel:          channel,
		backend:          backend,
		current:          current,
		notifier:         NotifierFunc(func(msg string) { log.Warn(msg) }),
		tickers:          NewRealTicker,
		countdownSeconds: DefaultCountdownSeconds,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Channel returns the channel being verified.
func (f *Flow) Channel() Channel { return f.channel }

// Snapshot returns the current state.
func (f *Flow) Snapshot() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

// SetTarget records the value typed in StepInput and clears any inline error.
func (f *Flow) SetTarget(value string) error {
	f.mu.Lock()
	if err := f.guardLocked(StepInput, false); err != nil {
		f.mu.Unlock()
		return err
	}
	f.s.TargetValue = value
	f.s.LastError = ""
	snap := f.s
	f.mu.Unlock()
	f.emit(snap)
	return nil
}

// RequestOTP validates the target and dispatches a passcode. On success the
// flow moves to StepChallenge and the countdown starts.
func (f *Flow) RequestOTP(ctx context.Context) error {
	f.mu.Lock()
	if err := f.guardLocked(StepInput, true); err != nil {
		f.mu.Unlock()
		return err
	}
	if verr := f.channel.ValidateTarget(f.s.TargetValue, f.current); verr != nil {
		f.s.LastError = verr.Message
		snap := f.s
		f.mu.Unlock()
		f.emit(snap)
		return verr
	}
	target := strings.TrimSpace(f.s.TargetValue)
	gen := f.beginLocked()
	f.mu.Unlock()
	f.emit(f.Snapshot())

	txID, err := f.backend.SendOTP(ctx, target)
	return f.finishDispatch(gen, txID, err)
}

// Resend dispatches a new passcode to the same target, replacing the
// transaction id and restarting the countdown. Allowed at any time in StepChallenge.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if err := f.guardLocked(StepChallenge, true); err != nil {
		f.mu.Unlock()
		return err
	}
	target := strings.TrimSpace(f.s.TargetValue)
	gen := f.beginLocked()
	f.mu.Unlock()
	f.emit(f.Snapshot())

	txID, err := f.backend.SendOTP(ctx, target)
	return f.finishDispatch(gen, txID, err)
}

func (f *Flow) finishDispatch(gen uint64, txID string, err error) error {
	if err == nil && strings.TrimSpace(txID) == "" {
		err = ErrNoTransaction
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		f.logger().Debug("otp: discarding stale dispatch result")
		return ErrStale
	}
	f.s.Submitting = false
	if err != nil {
		snap := f.s
		f.mu.Unlock()
		f.logger().WithError(err).Warn("otp: dispatch failed")
		f.notifier.Notify(dispatchFailureMessage(err))
		f.emit(snap)
		return err
	}
	f.s.TransactionID = txID
	f.s.Step = StepChallenge
	f.s.LastError = ""
	f.startCountdownLocked()
	snap := f.s
	f.mu.Unlock()

	f.logger().Info("otp: passcode sent")
	f.emit(snap)
	return nil
}

// Verify checks code with the backend. Success moves to StepConfirmed; a
// rejection keeps StepChallenge, the transaction id and the countdown.
func (f *Flow) Verify(ctx context.Context, code string) error {
	f.mu.Lock()
	if err := f.guardLocked(StepChallenge, true); err != nil {
		f.mu.Unlock()
		return err
	}
	if verr := ValidateCode(code); verr != nil {
		f.s.LastError = verr.Message
		snap := f.s
		f.mu.Unlock()
		f.emit(snap)
		return verr
	}
	txID := f.s.TransactionID
	gen := f.beginLocked()
	f.mu.Unlock()
	f.emit(f.Snapshot())

	ok, err := f.backend.VerifyOTP(ctx, txID, strings.TrimSpace(code))

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return ErrStale
	}
	f.s.Submitting = false
	switch {
	case err != nil:
		f.s.LastError = err.Error()
	case !ok:
		f.s.LastError = InvalidOTPMessage
		err = ErrInvalidOTP
	default:
		f.s.Step = StepConfirmed
		f.s.LastError = ""
		f.stopCountdownLocked()
	}
	snap := f.s
	f.mu.Unlock()

	if err == nil {
		f.logger().Info("otp: verification confirmed")
	}
	f.emit(snap)
	return err
}

// ChangeTarget goes back from StepChallenge to StepInput. The typed target is
// kept; the transaction id and countdown are dropped and any outstanding call
// becomes stale.
func (f *Flow) ChangeTarget() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.s.Step != StepChallenge {
		f.mu.Unlock()
		return ErrWrongStep
	}
	f.gen++
	f.stopCountdownLocked()
	f.s.Step = StepInput
	f.s.TransactionID = ""
	f.s.CountdownSeconds = 0
	f.s.Submitting = false
	f.s.LastError = ""
	snap := f.s
	f.mu.Unlock()
	f.emit(snap)
	return nil
}

// Close abandons the flow: the countdown stops and outstanding results are discarded.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.gen++
	f.stopCountdownLocked()
	f.s.Submitting = false
	f.mu.Unlock()
}

func (f *Flow) guardLocked(step Step, network bool) error {
	if f.closed {
		return ErrClosed
	}
	if network && f.s.Submitting {
		return ErrBusy
	}
	if f.s.Step != step {
		return ErrWrongStep
	}
	return nil
}

func (f *Flow) beginLocked() uint64 {
	f.s.Submitting = true
	return f.gen
}

func (f *Flow) emit(s Session) {
	if f.onChange != nil {
		f.onChange(s)
	}
}

func (f *Flow) logger() *log.Entry {
	return log.WithFields(log.Fields{"channel": f.channel, "flow": f.id})
}

func dispatchFailureMessage(err error) string {
	if err == nil || errors.Is(err, ErrNoTransaction) {
		return "Failed to send OTP. Please try again."
	}
	return err.Error()
}
