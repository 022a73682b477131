// Package progress renders scan progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar counts processed files and draws a spinner with a counter.
type Bar struct {
	bar *progressbar.ProgressBar
	mu  sync.Mutex

	processed int64
	failed    int64
	startTime time.Time
}

// Options configure a Bar.
type Options struct {
	Description string
	// Disabled keeps counting without drawing.
	Disabled bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New creates a Bar. The total is unknown, so the bar renders as a spinner.
func New(opts Options) *Bar {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	b := &Bar{startTime: time.Now()}
	if opts.Disabled {
		return b
	}

	description := opts.Description
	if description == "" {
		description = "scanning"
	}

	b.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(writer)
		}),
	)
	return b
}

// Increment records a processed file.
func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.processed++
	if b.bar != nil {
		_ = b.bar.Add(1)
	}
}

// IncrementFailed records a file that could not be processed.
func (b *Bar) IncrementFailed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed++
	if b.bar != nil {
		_ = b.bar.Add(1)
	}
}

// Describe replaces the description, e.g. with the current path.
func (b *Bar) Describe(description string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar != nil {
		b.bar.Describe(description)
	}
}

// Finish completes the bar.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar != nil {
		_ = b.bar.Finish()
	}
}

// Stats returns the counters.
func (b *Bar) Stats() (processed, failed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processed, b.failed
}

// Duration returns the time since the bar was created.
func (b *Bar) Duration() time.Duration {
	return time.Since(b.startTime)
}
