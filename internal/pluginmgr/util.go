package pluginmgr

import (
	"fmt"
	"io"
	"os"
)

// color-compatible printer interface (works with *color.Theme, color.Style and color.RGBColor)
type colorPrinter interface {
	Sprintf(format string, a ...any) string
	Sprint(a ...any) string
}

// cPrintf prints with a colored style or falls back to fmt.Fprintf when nil
func cPrintf(w io.Writer, p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Fprintf(w, format, a...)
		return
	}
	fmt.Fprint(w, p.Sprintf(format, a...))
}

// cPrintln prints a line with the given style or falls back to fmt.Fprintln when nil
func cPrintln(w io.Writer, p colorPrinter, a ...any) {
	if p == nil {
		fmt.Fprintln(w, a...)
		return
	}
	fmt.Fprintln(w, p.Sprint(fmt.Sprint(a...)))
}

// arrowf prints the "-> " marker followed by a styled message.
func arrowf(w io.Writer, p colorPrinter, format string, a ...any) {
	fmt.Fprint(w, colArrow.Sprint("-> "))
	cPrintf(w, p, format, a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
