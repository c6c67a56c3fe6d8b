package progress

import (
	"fmt"
	"log"
	"os"
)

// Text is a stdlib log.Logger-based Sink, the same style the teacher repo
// uses throughout internal/driver/device (log.Printf, no logging library).
type Text struct {
	logger  *log.Logger
	verbose int // 0=quiet, 1=info, 2=verbose, 3=debug

	label       string
	min, max    int
	lastPercent int
}

// NewText builds a Text sink writing to stderr, matching lib/dbg.py's choice
// of sys.stderr for all progress and log output.
func NewText(verbose int) *Text {
	return &Text{
		logger:  log.New(os.Stderr, "", 0),
		verbose: verbose,
	}
}

func (t *Text) Info(msg string) {
	if t.verbose >= 1 {
		t.logger.Println(msg)
	}
}

func (t *Text) Warning(msg string) {
	if t.verbose >= 1 {
		t.logger.Println("warning: " + msg)
	}
}

func (t *Text) Error(msg string) {
	t.logger.Println("error: " + msg)
}

func (t *Text) BargraphStart(label string, min, max int) {
	t.label, t.min, t.max, t.lastPercent = label, min, max, -1
	if t.verbose >= 1 {
		fmt.Fprintf(os.Stderr, "%s: %3d%%", label, 0)
	}
}

func (t *Text) BargraphUpdate(value int) {
	if t.verbose < 1 || t.label == "" {
		return
	}
	percent := 0
	if t.max != t.min {
		percent = 100 * (value - t.min) / (t.max - t.min)
	}
	if percent == t.lastPercent {
		return
	}
	t.lastPercent = percent
	fmt.Fprintf(os.Stderr, "\r%s: %3d%%", t.label, percent)
}

func (t *Text) BargraphDone() {
	if t.verbose >= 1 && t.label != "" {
		fmt.Fprintf(os.Stderr, "\r%s: done\n", t.label)
	}
	t.label = ""
}
