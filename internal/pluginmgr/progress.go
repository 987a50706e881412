package pluginmgr

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// mergeProgress wraps an optional progress bar; the zero value is a no-op.
type mergeProgress struct {
	bar *progressbar.ProgressBar
}

func newMergeProgress(enabled bool, total int, desc string, w io.Writer) mergeProgress {
	if !enabled || total <= 0 {
		return mergeProgress{}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
	return mergeProgress{bar: bar}
}

func (p mergeProgress) step() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p mergeProgress) done() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
