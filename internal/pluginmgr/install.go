package pluginmgr

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// signatureExtensions are per-entry signing artifacts that become invalid
// once content from several archives is merged, so they are never copied.
var signatureExtensions = []string{".sf", ".dsa", ".rsa"}

func isSignatureFile(name string) bool {
	lower := strings.ToLower(path.Base(name))
	for _, ext := range signatureExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// BaseArchiveTarget is one packaged archive produced from a base archive.
type BaseArchiveTarget struct {
	ID            string // registry namespace, e.g. "GCP"
	SourcePath    string // bin/Backbone-Core-<ID>.jar
	TargetPath    string // bin/Backbone-Core-<ID>-Packaged.jar
	InvalidateAll bool
}

// InstallResult summarizes one Install call.
type InstallResult struct {
	Changed bool
	Written []string // registry keys whose content was written
}

// Installer merges an InputSet into one target archive, consulting and
// updating the registry namespace of that target.
type Installer struct {
	Layout   Layout
	Registry *Registry
	MaxDepth int
	Out      io.Writer
	Warn     io.Writer
	Progress bool
}

func (in *Installer) withDefaults() *Installer {
	cp := *in
	if cp.Out == nil {
		cp.Out = io.Discard
	}
	if cp.Warn == nil {
		cp.Warn = io.Discard
	}
	return &cp
}

type pendingRecord struct {
	rel    string
	digest Digest
}

type installRun struct {
	in      *Installer
	target  *BaseArchiveTarget
	mount   *ArchiveMount
	planner *MergePlanner
	pending []pendingRecord
	writers map[string]string // archive path -> registry key of the source that wrote it
	result  InstallResult
}

// Install merges inputs into target.TargetPath. The mount is always closed
// and flushed; registry entries are recorded only for files that reached a
// successfully flushed archive.
func (in *Installer) Install(target *BaseArchiveTarget, inputs *InputSet) (res InstallResult, err error) {
	in = in.withDefaults()
	m, err := OpenMount(target.TargetPath)
	if err != nil {
		return res, err
	}
	run := &installRun{
		in:     in,
		target: target,
		mount:  m,
		planner: &MergePlanner{
			Layout:     in.Layout,
			Registry:   in.Registry,
			Namespace:  target.ID,
			Invalidate: target.InvalidateAll,
			MaxDepth:   in.MaxDepth,
			Warn:       in.Warn,
		},
		writers: make(map[string]string),
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			err = errors.Join(err, cerr)
			res = InstallResult{}
			return
		}
		run.commit()
		res = run.result
	}()
	err = run.merge(inputs)
	return run.result, err
}

func (r *installRun) merge(inputs *InputSet) error {
	// Configs
	if err := r.mount.CreateDirectories(archiveConfigsDir); err != nil {
		return err
	}
	if err := r.applyAll(inputs.Configs); err != nil {
		return err
	}
	// Modules
	for _, c := range inputs.Modules {
		items, err := r.planner.Plan(c)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Changed {
				if err := r.mergeModule(item); err != nil {
					return err
				}
			}
		}
	}
	// Resources
	if err := r.mount.CreateDirectories(archiveResourcesDir); err != nil {
		return err
	}
	if err := r.applyAll(inputs.Resources); err != nil {
		return err
	}
	// Secondary runtime: modules are opaque files in a flat directory.
	if err := r.mount.CreateDirectories(archivePythonModulesDir); err != nil {
		return err
	}
	if err := r.applyAll(inputs.SecondaryModules); err != nil {
		return err
	}
	if err := r.mount.CreateDirectories(archivePythonResourcesDir); err != nil {
		return err
	}
	return r.applyAll(inputs.SecondaryResources)
}

func (r *installRun) applyAll(candidates []CandidateInput) error {
	for _, c := range candidates {
		items, err := r.planner.Plan(c)
		if err != nil {
			return err
		}
		for _, item := range items {
			if !item.Changed {
				continue
			}
			r.announce(item.Rel)
			if err := r.mount.CopyFile(item.Target, item.Source); err != nil {
				return err
			}
			r.noteWrite(item.Target, item.Rel)
			r.written(item)
		}
	}
	return nil
}

// mergeModule copies every entry of a module archive to the same path in
// the target, skipping signature files.
func (r *installRun) mergeModule(item PlanItem) error {
	r.announce(item.Rel)
	nested, err := OpenReadOnly(item.Source)
	if err != nil {
		return err
	}
	defer nested.Close()

	bar := newMergeProgress(r.in.Progress, nested.FileCount(), filepath.Base(item.Source), r.in.Warn)
	defer bar.done()

	for e := range nested.Walk("/") {
		if !e.IsFile {
			continue
		}
		bar.step()
		if isSignatureFile(e.Path) {
			debugf("Skipping signature file %s from %s\n", e.Path, item.Rel)
			continue
		}
		rc, err := nested.Open(e.Path)
		if err != nil {
			return err
		}
		werr := r.mount.WriteFile(e.Path, rc, FileMeta{Modified: e.Modified, Mode: e.Mode})
		rc.Close()
		if werr != nil {
			return werr
		}
		r.noteWrite(e.Path, item.Rel)
	}
	r.written(item)
	return nil
}

func (r *installRun) announce(rel string) {
	fmt.Fprint(r.in.Out, colArrow.Sprint("- "))
	cPrintln(r.in.Out, colInfo, rel)
}

// noteWrite warns when a path already written in this run is overwritten
// by a different source. The later write still wins.
func (r *installRun) noteWrite(archivePath, source string) {
	key := "/" + strings.TrimPrefix(path.Clean("/"+archivePath), "/")
	if prev, ok := r.writers[key]; ok && prev != source {
		cPrintf(r.in.Warn, colWarn, "Warning: %s from %s overwrites the copy from %s\n", key, source, prev)
	}
	r.writers[key] = source
}

func (r *installRun) written(item PlanItem) {
	r.pending = append(r.pending, pendingRecord{rel: item.Rel, digest: item.Digest})
	r.result.Changed = true
	r.result.Written = append(r.result.Written, item.Rel)
}

func (r *installRun) commit() {
	for _, p := range r.pending {
		r.in.Registry.Record(r.target.ID, p.rel, p.digest)
	}
}
