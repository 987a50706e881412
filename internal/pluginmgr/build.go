package pluginmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Orchestrator packages every selected base archive found in the bin directory.
type Orchestrator struct {
	Layout    Layout
	Registry  *Registry
	Filter    map[string]struct{} // lowercase identifiers; empty selects all
	MaxDepth  int
	Jobs      int
	Progress  bool
	Publisher Publisher
	Out       io.Writer
	Warn      io.Writer
}

// BaseOutcome is the result of packaging one base archive.
type BaseOutcome struct {
	ID          string
	TargetPath  string
	BaseChanged bool
	Changed     bool
	Written     []string
	Published   string
	Err         error
}

// Summary collects the outcome of every processed base archive.
type Summary struct {
	Outcomes []BaseOutcome
}

// Err joins the per-base failures, or returns nil.
func (s Summary) Err() error {
	var errs []error
	for _, o := range s.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// NewFilter lowercases ids into a selection set.
func NewFilter(ids []string) map[string]struct{} {
	filter := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		filter[strings.ToLower(id)] = struct{}{}
	}
	return filter
}

// Selected reports whether id passes the filter.
func (o *Orchestrator) Selected(id string) bool {
	if len(o.Filter) == 0 {
		return true
	}
	_, ok := o.Filter[strings.ToLower(id)]
	return ok
}

// parseBaseName extracts the identifier from "Backbone-Core-<ID>.jar".
// Packaged outputs and names with an empty identifier are rejected.
func parseBaseName(name string) (string, bool) {
	if !strings.HasPrefix(name, basePrefix) || !strings.HasSuffix(name, baseSuffix) {
		return "", false
	}
	if strings.HasSuffix(name, packagedSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, basePrefix), baseSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// packagedName returns the output file name for a base identifier.
func packagedName(id string) string {
	return basePrefix + id + "-" + packagedSuffix
}

// DiscoverBases lists the base archives in binDir, sorted by identifier.
func DiscoverBases(binDir string) ([]BaseArchiveTarget, error) {
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingInputDirectoryError{Dir: binDir}
		}
		return nil, fmt.Errorf("failed to list %s: %w", binDir, err)
	}
	var bases []BaseArchiveTarget
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := parseBaseName(entry.Name())
		if !ok {
			continue
		}
		bases = append(bases, BaseArchiveTarget{
			ID:         id,
			SourcePath: filepath.Join(binDir, entry.Name()),
			TargetPath: filepath.Join(binDir, packagedName(id)),
		})
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i].ID < bases[j].ID })
	return bases, nil
}

// Run packages every selected base archive. Failures of one base archive do
// not stop the others; they are reported in the Summary. The returned error
// is reserved for failures that prevent any packaging.
func (o *Orchestrator) Run(ctx context.Context, inputs *InputSet) (Summary, error) {
	var summary Summary
	bases, err := DiscoverBases(o.Layout.BinDir)
	if err != nil {
		return summary, err
	}

	var selected []BaseArchiveTarget
	for _, b := range bases {
		if o.Selected(b.ID) {
			selected = append(selected, b)
		} else {
			debugf("Skipping %s (not selected)\n", b.ID)
		}
	}
	if len(selected) == 0 {
		cPrintf(o.warn(), colWarn, "No matching base archives found in %s\n", o.Layout.BinDir)
		return summary, nil
	}

	jobs := o.Jobs
	if jobs < 1 {
		jobs = 1
	}
	if jobs > len(selected) {
		jobs = len(selected)
	}
	if jobs == 1 {
		for i := range selected {
			summary.Outcomes = append(summary.Outcomes, o.processBase(ctx, &selected[i], inputs, o.out(), o.warn(), o.Progress))
		}
		return summary, nil
	}

	summary.Outcomes = o.runParallel(ctx, selected, inputs, jobs)
	return summary, nil
}

// runParallel processes bases on a bounded worker pool. Each base writes
// into its own buffers, printed as one block when it finishes.
func (o *Orchestrator) runParallel(ctx context.Context, selected []BaseArchiveTarget, inputs *InputSet, jobs int) []BaseOutcome {
	outcomes := make([]BaseOutcome, len(selected))
	work := make(chan int, len(selected))
	var wg sync.WaitGroup
	var printMu sync.Mutex

	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				var out, warn bytes.Buffer
				outcomes[i] = o.processBase(ctx, &selected[i], inputs, &out, &warn, false)
				printMu.Lock()
				io.Copy(o.out(), &out)
				io.Copy(o.warn(), &warn)
				printMu.Unlock()
			}
		}()
	}
	for i := range selected {
		work <- i
	}
	close(work)
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) out() io.Writer {
	if o.Out == nil {
		return io.Discard
	}
	return o.Out
}

func (o *Orchestrator) warn() io.Writer {
	if o.Warn == nil {
		return io.Discard
	}
	return o.Warn
}

func (o *Orchestrator) processBase(ctx context.Context, t *BaseArchiveTarget, inputs *InputSet, out, warn io.Writer, progress bool) BaseOutcome {
	outcome := BaseOutcome{ID: t.ID, TargetPath: t.TargetPath}
	fail := func(err error) BaseOutcome {
		arrowf(warn, colError, "Error packaging %s: %v\n", t.ID, err)
		outcome.Err = fmt.Errorf("%s: %w", t.ID, err)
		return outcome
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	arrowf(out, colSuccess, "Repackaging files changed since last packaging of %s platform-specific JAR:\n", t.ID)

	baseDigest, err := DigestFile(t.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("failed to digest %s: %w", o.Layout.RelPath(t.SourcePath), err))
	}
	baseChanged := !o.Registry.Unchanged(t.ID, baseEntryKey, baseDigest, false)
	if !baseChanged {
		if _, err := os.Stat(t.TargetPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fail(fmt.Errorf("failed to stat %s: %w", t.TargetPath, err))
			}
			debugf("Packaged output %s is missing, rebuilding from base\n", t.TargetPath)
			baseChanged = true
		}
	}
	if baseChanged {
		fmt.Fprint(out, colArrow.Sprint("- "))
		cPrintln(out, colInfo, o.Layout.RelPath(t.SourcePath))
		if err := copyFileAtomic(t.SourcePath, t.TargetPath); err != nil {
			return fail(err)
		}
		t.InvalidateAll = true
	}
	outcome.BaseChanged = baseChanged

	inst := &Installer{
		Layout:   o.Layout,
		Registry: o.Registry,
		MaxDepth: o.MaxDepth,
		Out:      out,
		Warn:     warn,
		Progress: progress,
	}
	res, err := inst.Install(t, inputs)
	if err != nil {
		return fail(err)
	}
	// Recorded last: an aborted merge leaves _base stale so the next run
	// starts again from a fresh copy of the base archive.
	if baseChanged {
		o.Registry.Record(t.ID, baseEntryKey, baseDigest)
	}
	outcome.Written = res.Written
	outcome.Changed = baseChanged || res.Changed

	if !outcome.Changed {
		cPrintln(out, colInfo, "No changed files found")
		return outcome
	}
	abs, err := filepath.Abs(t.TargetPath)
	if err != nil {
		abs = t.TargetPath
	}
	arrowf(out, colSuccess, "Successfully Packaged Platform-Specific JAR: %s\n", abs)

	if o.Publisher != nil {
		key, err := o.Publisher.Publish(ctx, t.TargetPath)
		if err != nil {
			return fail(err)
		}
		outcome.Published = key
		arrowf(out, colSuccess, "Published %s\n", key)
	}
	return outcome
}

// copyFileAtomic copies src over dst through a temp file in dst's directory.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary copy of %s: %w", dst, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	return nil
}
