// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/bodaay/katago-weights/pkg/kataweights"
)

// LiveRenderer draws a single-line progress bar for the weights download.
// Events other than file_start, file_progress and file_done are passed to
// the next handler after the bar line is cleared.
type LiveRenderer struct {
	out  io.Writer
	next kataweights.ProgressFunc

	mu         sync.Mutex
	supports   bool // ANSI + interactive
	noColor    bool
	width      func() int
	lastRedraw time.Time
	drawn      bool

	file *fileState
}

type fileState struct {
	path  string
	total int64
	bytes int64

	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64
	started       time.Time
}

// EMA smoothing factor (0.1 = very smooth, 0.5 = responsive)
const speedSmoothingFactor = 0.3

const redrawInterval = 100 * time.Millisecond

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

// NewLiveRenderer creates a renderer writing to out. next receives every
// event the renderer does not draw itself and may be nil.
func NewLiveRenderer(out io.Writer, next kataweights.ProgressFunc) *LiveRenderer {
	lr := &LiveRenderer{
		out:     out,
		next:    next,
		noColor: os.Getenv("NO_COLOR") != "",
		width:   termWidth,
	}
	lr.supports = isInteractive(out) && ansiOkay()
	return lr
}

// Supported reports whether the renderer can redraw in place on out.
func (lr *LiveRenderer) Supported() bool { return lr.supports }

// Close finishes an unterminated bar line.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.drawn {
		fmt.Fprintln(lr.out)
		lr.drawn = false
	}
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (lr *LiveRenderer) Handler() kataweights.ProgressFunc {
	return lr.apply
}

func (lr *LiveRenderer) apply(ev kataweights.ProgressEvent) {
	lr.mu.Lock()
	switch ev.Event {
	case "file_start":
		lr.file = &fileState{path: ev.Path, total: ev.Total, started: time.Now()}
		lr.render(true)
		lr.mu.Unlock()
		return
	case "file_progress":
		fs := lr.ensure(ev.Path)
		if ev.Total > 0 {
			fs.total = ev.Total
		}
		if ev.Downloaded > 0 {
			fs.bytes = ev.Downloaded
		} else if ev.Bytes > 0 {
			fs.bytes = ev.Bytes
		}
		lr.render(false)
		lr.mu.Unlock()
		return
	case "file_done":
		fs := lr.ensure(ev.Path)
		if fs.total > 0 {
			fs.bytes = fs.total
		}
		lr.render(true)
		if lr.drawn {
			fmt.Fprintln(lr.out)
			lr.drawn = false
		}
	default:
		lr.clearLine()
	}
	lr.mu.Unlock()

	if lr.next != nil {
		lr.next(ev)
	}
}

func (lr *LiveRenderer) ensure(path string) *fileState {
	if lr.file == nil || (path != "" && lr.file.path != path) {
		lr.file = &fileState{path: path, started: time.Now()}
	}
	return lr.file
}

func (lr *LiveRenderer) clearLine() {
	if lr.drawn {
		fmt.Fprint(lr.out, "\r\x1b[K")
		lr.drawn = false
	}
}

func (lr *LiveRenderer) render(force bool) {
	if !lr.supports || lr.file == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(lr.lastRedraw) < redrawInterval {
		return
	}
	lr.lastRedraw = now
	lr.updateSpeed(now)
	fmt.Fprint(lr.out, "\r\x1b[K"+lr.line(lr.width()))
	lr.drawn = true
}

func (lr *LiveRenderer) updateSpeed(now time.Time) {
	fs := lr.file
	if fs.lastTime.IsZero() {
		fs.lastTime = now
		fs.lastBytes = fs.bytes
		return
	}
	dt := now.Sub(fs.lastTime).Seconds()
	if dt > 0.05 {
		instant := float64(fs.bytes-fs.lastBytes) / dt
		if instant >= 0 {
			fs.smoothedSpeed = smoothSpeed(instant, fs.smoothedSpeed)
		}
		fs.lastTime = now
		fs.lastBytes = fs.bytes
	}
}

// line formats the bar for a terminal w columns wide.
func (lr *LiveRenderer) line(w int) string {
	fs := lr.file
	if w < 50 {
		w = 50
	}

	var p float64
	if fs.total > 0 {
		p = float64(fs.bytes) / float64(fs.total)
		if p > 1 {
			p = 1
		}
	}

	eta := "—"
	if fs.smoothedSpeed > 0 && fs.total > 0 && fs.bytes < fs.total {
		rem := float64(fs.total-fs.bytes) / fs.smoothedSpeed
		eta = fmtDuration(time.Duration(rem) * time.Second)
	}

	stats := fmt.Sprintf(" %s/%s %s  %s/s  ETA %s",
		humanBytes(fs.bytes), humanBytes(fs.total), percent(p),
		humanBytes(int64(fs.smoothedSpeed)), eta)
	name := ellipsizeMiddle(baseName(fs.path), 24)
	barW := w - utf8.RuneCountInString(name) - utf8.RuneCountInString(stats) - 4
	bar := colorize(renderBar(barW, p), "fg=green", lr)

	return fmt.Sprintf("%s  %s%s", colorize(name, "fg=cyan", lr), bar, stats)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return s
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

func renderBar(width int, p float64) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 6 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

func isInteractive(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}

func colorize(s, style string, lr *LiveRenderer) string {
	if lr.noColor || !lr.supports {
		return s
	}
	switch style {
	case "fg=green":
		return "\x1b[32m" + s + "\x1b[0m"
	case "fg=cyan":
		return "\x1b[36m" + s + "\x1b[0m"
	default:
		return s
	}
}
