package pluginmgr

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// PlanItem is one file the installer may write into the target archive.
type PlanItem struct {
	Source  string // file on disk
	Rel     string // registry key
	Target  string // archive path; "/" for module archives merged entry-by-entry
	Kind    InputKind
	Runtime Runtime
	Digest  Digest
	Changed bool
}

// MergePlanner decides per input whether it must be (re)written into the
// archive of one namespace. It reads the registry but never mutates it.
type MergePlanner struct {
	Layout     Layout
	Registry   *Registry
	Namespace  string
	Invalidate bool
	MaxDepth   int
	Warn       io.Writer
}

// Plan digests c (expanding resource trees) and returns one item per file.
func (p *MergePlanner) Plan(c CandidateInput) ([]PlanItem, error) {
	switch c.Kind {
	case KindConfigFile:
		item, err := p.planFile(c, path.Join(archiveConfigsDir, filepath.Base(c.Path)))
		return []PlanItem{item}, err
	case KindModuleArchive:
		target := "/"
		if c.Runtime == RuntimeSecondary {
			target = path.Join(archivePythonModulesDir, filepath.Base(c.Path))
		}
		item, err := p.planFile(c, target)
		return []PlanItem{item}, err
	case KindResourceFile:
		item, err := p.planFile(c, path.Join(resourceRoot(c.Runtime), filepath.Base(c.Path)))
		return []PlanItem{item}, err
	case KindResourceTree:
		return p.planTree(c)
	}
	return nil, fmt.Errorf("unknown input kind %v for %s", c.Kind, c.Rel)
}

func resourceRoot(rt Runtime) string {
	if rt == RuntimeSecondary {
		return archivePythonResourcesDir
	}
	return archiveResourcesDir
}

func (p *MergePlanner) planFile(c CandidateInput, target string) (PlanItem, error) {
	item := PlanItem{
		Source:  c.Path,
		Rel:     c.Rel,
		Target:  target,
		Kind:    c.Kind,
		Runtime: c.Runtime,
	}
	d, err := DigestFile(c.Path)
	if err != nil {
		return item, fmt.Errorf("failed to digest %s: %w", c.Rel, err)
	}
	item.Digest = d
	item.Changed = !p.Registry.Unchanged(p.Namespace, c.Rel, d, p.Invalidate)
	return item, nil
}

// planTree expands a resource directory into its regular files, keeping
// their path relative to the directory's parent under the resource root.
// Symlinks are not followed; files deeper than MaxDepth are skipped.
func (p *MergePlanner) planTree(c CandidateInput) ([]PlanItem, error) {
	maxDepth := p.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	parent := filepath.Dir(c.Path)
	root := resourceRoot(c.Runtime)

	var items []PlanItem
	err := filepath.WalkDir(c.Path, func(fp string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(c.Path, fp)
		if err != nil {
			return err
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(filepath.ToSlash(rel), "/") + 1
		}
		if d.IsDir() {
			if depth >= maxDepth && fp != c.Path {
				cPrintf(p.Warn, colWarn, "Warning: %s exceeds the maximum depth of %d, skipping\n", p.Layout.RelPath(fp), maxDepth)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			debugf("Skipping non-regular file %s\n", fp)
			return nil
		}
		inArchive, err := filepath.Rel(parent, fp)
		if err != nil {
			return err
		}
		fc := CandidateInput{Path: fp, Rel: p.Layout.RelPath(fp), Kind: KindResourceFile, Runtime: c.Runtime}
		item, err := p.planFile(fc, path.Join(root, filepath.ToSlash(inArchive)))
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return items, fmt.Errorf("failed to walk resource tree %s: %w", c.Rel, err)
	}
	return items, nil
}
