package pluginmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gookit/color"
)

const (
	exitOK      = 0
	exitFailure = 1
)

// printHelp prints usage and the configuration keys
func printHelp(w io.Writer) {
	cPrintln(w, colSuccess, "Usage: pluginmgr [type...]")
	cPrintln(w, colSuccess, "Repackage bin/Backbone-Core-<type>.jar with modules, configs and resources")
	fmt.Fprintln(w)
	cPrintln(w, colInfo, "Arguments:")
	fmt.Fprintln(w, "  type    case-insensitive base archive type to rebuild (default: all)")
	fmt.Fprintln(w)
	cPrintln(w, colInfo, "Settings (pluginmgr.conf or environment):")

	type keyInfo struct {
		Key  string
		Desc string
	}
	keys := []keyInfo{
		{"PLUGINMGR_ROOT", "Working root containing bin/, modules/, configs/, resources/ (default .)"},
		{"PLUGINMGR_CONFIG", "Alternate configuration file"},
		{"PLUGINMGR_DEBUG", "1 enables debug output"},
		{"PLUGINMGR_COLOR", "auto, 0 or 1"},
		{"PLUGINMGR_PROGRESS", "auto, 0 or 1"},
		{"PLUGINMGR_MAX_DEPTH", "Maximum resource tree depth (default 999)"},
		{"PLUGINMGR_JOBS", "Base archives packaged in parallel (default 1)"},
		{"PLUGINMGR_PUBLISH", "1 uploads changed packaged archives to R2"},
		{"R2_*", "ACCOUNT_ID, ACCESS_KEY_ID, SECRET_ACCESS_KEY, BUCKET_NAME, PREFIX"},
	}
	width := 0
	for _, k := range keys {
		if len(k.Key) > width {
			width = len(k.Key)
		}
	}
	for _, k := range keys {
		fmt.Fprintf(w, "  %s%s    %s\n", color.Bold.Sprint(k.Key), strings.Repeat(" ", width-len(k.Key)), k.Desc)
	}
	fmt.Fprintln(w)
}

// Main is the CLI entrypoint.
func Main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the packager with the given arguments and returns the exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	var ids []string
	for _, arg := range args {
		switch arg {
		case "-h", "--help", "help":
			printHelp(stdout)
			return exitOK
		case "--version", "version":
			fmt.Fprintf(stdout, "pluginmgr %s (built %s)\n", version, buildDate)
			return exitOK
		}
		if strings.HasPrefix(arg, "-") {
			cPrintf(stderr, colError, "Error: unknown option %s\n", arg)
			return exitFailure
		}
		ids = append(ids, arg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configFilePath())
	if err != nil {
		cPrintf(stderr, colError, "Error: %v\n", err)
		return exitFailure
	}
	settings, err := initConfig(cfg)
	if err != nil {
		cPrintf(stderr, colError, "Error: %v\n", err)
		return exitFailure
	}
	Debug = settings.Debug
	applyColor(settings.Color, stdout)

	return runPackaging(ctx, settings, ids, stdout, stderr)
}

func applyColor(mode string, stdout io.Writer) {
	switch mode {
	case "0":
		color.Disable()
	case "1":
		color.ForceColor()
	default:
		if f, ok := stdout.(*os.File); !ok || !isTerminal(f) {
			color.Disable()
		}
	}
}

func progressEnabled(mode string, stderr io.Writer) bool {
	switch mode {
	case "0":
		return false
	case "1":
		return true
	}
	f, ok := stderr.(*os.File)
	return ok && isTerminal(f)
}

// runPackaging loads the registry, packages every selected base archive and
// always saves the registry before returning.
func runPackaging(ctx context.Context, s Settings, ids []string, stdout, stderr io.Writer) int {
	regPath := s.Layout.RegistryPath

	unlock, err := lockRegistry(regPath)
	if err != nil {
		cPrintf(stderr, colError, "Error: %v\n", err)
		return exitFailure
	}
	defer unlock()

	reg, err := LoadRegistry(regPath)
	if err != nil {
		var corrupt *RegistryCorruptError
		if errors.As(err, &corrupt) {
			cPrintf(stderr, colError, "Error: %v\nRemove %s to force a full rebuild.\n", err, corrupt.Path)
		} else {
			cPrintf(stderr, colError, "Error: %v\n", err)
		}
		return exitFailure
	}

	inputs, err := ScanInputs(s.Layout, stderr)
	if err != nil {
		cPrintf(stderr, colError, "Error: %v\n", err)
		return exitFailure
	}

	orch := &Orchestrator{
		Layout:   s.Layout,
		Registry: reg,
		Filter:   NewFilter(ids),
		MaxDepth: s.MaxDepth,
		Jobs:     s.Jobs,
		Progress: progressEnabled(s.Progress, stderr),
		Out:      stdout,
		Warn:     stderr,
	}
	if s.Publish {
		client, err := NewR2Client(ctx, s.R2)
		if err != nil {
			cPrintf(stderr, colError, "Error: %v\n", err)
			return exitFailure
		}
		orch.Publisher = client
	}

	summary, runErr := orch.Run(ctx, inputs)
	saveErr := reg.Save(regPath)

	code := exitOK
	if runErr != nil {
		cPrintf(stderr, colError, "Error: %v\n", runErr)
		code = exitFailure
	}
	if saveErr != nil {
		cPrintf(stderr, colError, "Error: %v\n", saveErr)
		code = exitFailure
	}
	if err := summary.Err(); err != nil {
		failed := 0
		for _, o := range summary.Outcomes {
			if o.Err != nil {
				failed++
			}
		}
		cPrintf(stderr, colError, "Packaging finished with %d failed base archive(s)\n", failed)
		code = exitFailure
	}
	if code == exitOK {
		cPrintln(stdout, colSuccess, "Packaging complete!")
	}
	return code
}
