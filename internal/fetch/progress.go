package fetch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"golang.org/x/term"
)

// Progress is reported after every chunk written to the archive.
type Progress struct {
	Downloaded int64
	Total      int64
	// Fraction is Downloaded/Total, or -1 when the total is unknown.
	Fraction float64
}

// Unknown reports whether the server did not declare a length.
func (p Progress) Unknown() bool {
	return p.Fraction < 0
}

func newProgress(downloaded, total int64) Progress {
	p := Progress{Downloaded: downloaded, Total: total, Fraction: -1}
	if total > 0 {
		p.Fraction = float64(downloaded) / float64(total)
	}
	return p
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// LogProgress logs every step (a fraction such as 0.05) of completion, or
// every 64 MiB when the total is unknown.
func LogProgress(logger *slog.Logger, step float64) ProgressFunc {
	const unknownEvery = 64 << 20
	var mu sync.Mutex
	next := step
	var nextBytes int64 = unknownEvery

	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Unknown() {
			if p.Downloaded >= nextBytes {
				logger.Info("Downloading", "downloaded", diskspace.FormatBytes(uint64(p.Downloaded)))
				nextBytes += unknownEvery
			}
			return
		}
		if p.Fraction >= next || p.Downloaded == p.Total {
			logger.Info("Downloading",
				"percent", fmt.Sprintf("%.0f%%", p.Fraction*100),
				"downloaded", diskspace.FormatBytes(uint64(p.Downloaded)),
				"total", diskspace.FormatBytes(uint64(p.Total)),
			)
			for next <= p.Fraction {
				next += step
			}
		}
	}
}

// TerminalProgress redraws a single status line on w.
func TerminalProgress(w io.Writer) ProgressFunc {
	var mu sync.Mutex
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Unknown() {
			fmt.Fprintf(w, "\rdownloading %s", diskspace.FormatBytes(uint64(p.Downloaded)))
			return
		}
		const width = 30
		filled := int(p.Fraction * width)
		bar := make([]byte, width)
		for i := range bar {
			if i < filled {
				bar[i] = '#'
			} else {
				bar[i] = '.'
			}
		}
		fmt.Fprintf(w, "\r[%s] %3.0f%% %s / %s", bar, p.Fraction*100,
			diskspace.FormatBytes(uint64(p.Downloaded)), diskspace.FormatBytes(uint64(p.Total)))
		if p.Downloaded >= p.Total {
			fmt.Fprintln(w)
		}
	}
}

// Combine fans progress out to several reporters, skipping nil ones.
func Combine(fns ...ProgressFunc) ProgressFunc {
	return func(p Progress) {
		for _, fn := range fns {
			if fn != nil {
				fn(p)
			}
		}
	}
}

// ReporterFor draws a progress bar when f is a terminal and falls back to
// logging every 5% otherwise.
func ReporterFor(f *os.File, logger *slog.Logger) ProgressFunc {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		return TerminalProgress(f)
	}
	return LogProgress(logger, 0.05)
}
