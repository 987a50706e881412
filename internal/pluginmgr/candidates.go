package pluginmgr

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// InputKind is the logical kind of a candidate input.
type InputKind int

const (
	KindModuleArchive InputKind = iota
	KindConfigFile
	KindResourceFile
	KindResourceTree
)

func (k InputKind) String() string {
	switch k {
	case KindModuleArchive:
		return "module-archive"
	case KindConfigFile:
		return "config-file"
	case KindResourceFile:
		return "resource-file"
	case KindResourceTree:
		return "resource-tree"
	}
	return fmt.Sprintf("InputKind(%d)", int(k))
}

// Runtime selects which ecosystem an input is packaged for.
type Runtime int

const (
	RuntimePrimary Runtime = iota
	RuntimeSecondary
)

func (r Runtime) String() string {
	if r == RuntimeSecondary {
		return "secondary"
	}
	return "primary"
}

// CandidateInput is one filesystem object that may be merged into a
// packaged archive.
type CandidateInput struct {
	Path    string // absolute or root-joined path on disk
	Rel     string // root-relative, forward slashes; the registry key
	Kind    InputKind
	Runtime Runtime
}

// Layout holds the fixed directories of a working root.
type Layout struct {
	Root               string
	BinDir             string
	ModulesDir         string
	ConfigsDir         string
	ResourcesDir       string
	PythonModulesDir   string
	PythonResourcesDir string
	RegistryPath       string
}

// NewLayout resolves the fixed directory names against root.
func NewLayout(root string) Layout {
	if root == "" {
		root = "."
	}
	bin := filepath.Join(root, binDirName)
	return Layout{
		Root:               root,
		BinDir:             bin,
		ModulesDir:         filepath.Join(root, modulesDirName),
		ConfigsDir:         filepath.Join(root, configsDirName),
		ResourcesDir:       filepath.Join(root, resourcesDirName),
		PythonModulesDir:   filepath.Join(root, pythonModulesDirName),
		PythonResourcesDir: filepath.Join(root, pythonResourcesDirName),
		RegistryPath:       filepath.Join(bin, registryFileName),
	}
}

// RelPath returns p relative to the layout root with forward slashes.
func (l Layout) RelPath(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// InputSet is the set of candidates scanned for one run.
type InputSet struct {
	Configs            []CandidateInput
	Modules            []CandidateInput
	Resources          []CandidateInput
	SecondaryModules   []CandidateInput
	SecondaryResources []CandidateInput
}

// Count returns the number of top-level candidates.
func (s *InputSet) Count() int {
	return len(s.Configs) + len(s.Modules) + len(s.Resources) +
		len(s.SecondaryModules) + len(s.SecondaryResources)
}

// ScanInputs lists the candidate inputs under layout. The modules, configs
// and resources directories are required; the python_* directories are
// optional. Entries are sorted by name so runs are deterministic.
func ScanInputs(layout Layout, warn io.Writer) (*InputSet, error) {
	set := &InputSet{}
	var err error

	if set.Modules, err = scanDir(layout, layout.ModulesDir, true, false, KindModuleArchive, RuntimePrimary, warn); err != nil {
		return nil, err
	}
	if set.Configs, err = scanDir(layout, layout.ConfigsDir, true, false, KindConfigFile, RuntimePrimary, warn); err != nil {
		return nil, err
	}
	if set.Resources, err = scanDir(layout, layout.ResourcesDir, true, true, KindResourceFile, RuntimePrimary, warn); err != nil {
		return nil, err
	}
	if set.SecondaryModules, err = scanDir(layout, layout.PythonModulesDir, false, false, KindModuleArchive, RuntimeSecondary, warn); err != nil {
		return nil, err
	}
	if set.SecondaryResources, err = scanDir(layout, layout.PythonResourcesDir, false, true, KindResourceFile, RuntimeSecondary, warn); err != nil {
		return nil, err
	}
	debugf("Scanned %d candidate inputs\n", set.Count())
	return set, nil
}

func scanDir(layout Layout, dir string, required, allowTrees bool, kind InputKind, rt Runtime, warn io.Writer) ([]CandidateInput, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if required {
				return nil, &MissingInputDirectoryError{Dir: dir}
			}
			debugf("Optional input directory %s not present\n", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []CandidateInput
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		c := CandidateInput{Path: p, Rel: layout.RelPath(p), Kind: kind, Runtime: rt}
		switch {
		case info.Mode().IsRegular():
		case info.IsDir() && allowTrees:
			c.Kind = KindResourceTree
		default:
			cPrintf(warn, colWarn, "Warning: skipping %s (not a regular file)\n", c.Rel)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
