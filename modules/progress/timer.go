// Package progress reports elapsed-time progress for operations of unknown
// duration. A Timer announces the start, stays quiet until the operation has
// been running longer than a threshold, then reports on every tick, and
// finally reports completion exactly once.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/dappkit"
)

// DurationPlaceholder is replaced by the formatted elapsed time in messages.
const DurationPlaceholder = "{{duration}}"

// Defaults used when a Config field is zero.
const (
	DefaultInterval             = time.Second
	DefaultLongRunningThreshold = 15 * time.Second
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Config controls the cadence and wording of a Timer.
type Config struct {
	Interval             time.Duration
	LongRunningThreshold time.Duration
	ShowSpinner          bool

	StartMessage   string
	OngoingMessage string
	DoneMessage    string
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.LongRunningThreshold < 0 {
		c.LongRunningThreshold = 0
	}
	if c.StartMessage == "" {
		c.StartMessage = "Starting"
	}
	if c.OngoingMessage == "" {
		c.OngoingMessage = "Still running (" + DurationPlaceholder + ")"
	}
	if c.DoneMessage == "" {
		c.DoneMessage = "Done in " + DurationPlaceholder
	}
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// WithLogger reports messages at info level on logger.
func WithLogger(logger dappkit.Logger) Option {
	return func(t *Timer) {
		if logger != nil {
			t.report = func(msg string) { logger.Info(msg) }
		}
	}
}

// WithReporter sends messages to fn.
func WithReporter(fn func(msg string)) Option {
	return func(t *Timer) { t.report = fn }
}

// WithSpinnerOutput sets where spinner frames are drawn. Defaults to os.Stderr.
func WithSpinnerOutput(w io.Writer) Option {
	return func(t *Timer) { t.spinner = w }
}

// Timer reports progress of one operation. It is not reusable.
type Timer struct {
	cfg     Config
	clock   Clock
	report  func(string)
	spinner io.Writer

	mu      sync.Mutex
	started bool
	begin   time.Time
	stop    chan struct{}
	wg      sync.WaitGroup
	endOnce sync.Once
}

// New creates a stopped timer.
func New(cfg Config, opts ...Option) *Timer {
	cfg.setDefaults()
	t := &Timer{
		cfg:     cfg,
		clock:   RealClock{},
		report:  func(string) {},
		spinner: os.Stderr,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start records the start instant, reports the start message and begins
// ticking. Calling Start twice, or after End, does nothing.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stop:
		return
	default:
	}
	if t.started {
		return
	}
	t.started = true
	t.begin = t.clock.Now()
	t.report(render(t.cfg.StartMessage, 0))

	ticker := t.clock.NewTicker(t.cfg.Interval)
	t.wg.Add(1)
	go t.loop(ticker)
}

func (t *Timer) loop(ticker Ticker) {
	defer t.wg.Done()
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-t.stop:
			if t.cfg.ShowSpinner && frame > 0 {
				fmt.Fprint(t.spinner, "\r \r")
			}
			return
		case now := <-ticker.C():
			if t.cfg.ShowSpinner {
				fmt.Fprint(t.spinner, "\r"+spinnerFrames[frame%len(spinnerFrames)])
				frame++
			}
			elapsed := now.Sub(t.begin)
			if elapsed >= t.cfg.LongRunningThreshold {
				t.report(render(t.cfg.OngoingMessage, elapsed))
			}
		}
	}
}

// End stops the ticking and reports the done message. Only the first call
// has an effect; no tick is reported after it returns. End is safe to call
// before Start.
func (t *Timer) End() {
	t.endOnce.Do(func() {
		t.mu.Lock()
		close(t.stop)
		started, begin := t.started, t.begin
		t.mu.Unlock()

		t.wg.Wait()

		var elapsed time.Duration
		if started {
			elapsed = t.clock.Now().Sub(begin)
		}
		t.report(render(t.cfg.DoneMessage, elapsed))
	})
}

// Elapsed returns the time since Start, or zero before it.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return t.clock.Now().Sub(t.begin)
}

func render(template string, elapsed time.Duration) string {
	return strings.ReplaceAll(template, DurationPlaceholder, FormatDuration(elapsed))
}

// FormatDuration renders d for humans: milliseconds below one second,
// tenths of a second above.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
