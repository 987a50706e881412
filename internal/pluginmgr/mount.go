package pluginmgr

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

var (
	errReadOnlyMount = errors.New("archive is mounted read-only")
	errMountClosed   = errors.New("archive mount is closed")
	errEscapesRoot   = errors.New("path escapes the archive root")
)

// Entry is one file or directory seen by Walk. Path is rooted at "/".
type Entry struct {
	Path     string
	IsFile   bool
	Modified time.Time
	Mode     fs.FileMode
}

// FileMeta carries the header fields kept for a written entry.
type FileMeta struct {
	Modified time.Time
	Mode     fs.FileMode
}

type mountEntry struct {
	name     string // zip name; directories end with "/"
	dir      bool
	orig     *zip.File // nil once staged
	off      int64
	size     int64
	modified time.Time
	mode     fs.FileMode
}

// ArchiveMount is a writable hierarchical view over a zip archive.
//
// Writes are staged in a spool file beside the archive. Close rewrites the
// archive: untouched entries are copied raw, replaced entries keep their
// original position and new entries are appended in write order. Callers
// must always Close a mount, including on failure paths.
type ArchiveMount struct {
	path     string
	readOnly bool
	reader   *zip.ReadCloser
	order    []string
	entries  map[string]*mountEntry

	spool     *os.File
	spoolSize int64
	dirty     bool
	closed    bool
}

// OpenMount opens the archive at archivePath for reading and writing.
func OpenMount(archivePath string) (*ArchiveMount, error) {
	return openMount(archivePath, false)
}

// OpenReadOnly opens the archive at archivePath for reading only. It is
// used to merge module archives without extracting them.
func OpenReadOnly(archivePath string) (*ArchiveMount, error) {
	return openMount(archivePath, true)
}

func openMount(archivePath string, readOnly bool) (*ArchiveMount, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &ArchiveReadError{Archive: archivePath, Err: err}
	}
	m := &ArchiveMount{
		path:     archivePath,
		readOnly: readOnly,
		reader:   r,
		order:    make([]string, 0, len(r.File)),
		entries:  make(map[string]*mountEntry, len(r.File)),
	}
	for _, f := range r.File {
		e := &mountEntry{
			name:     f.Name,
			dir:      strings.HasSuffix(f.Name, "/"),
			orig:     f,
			size:     int64(f.UncompressedSize64),
			modified: f.Modified,
			mode:     f.Mode(),
		}
		// Duplicate names: first position, last content.
		if _, exists := m.entries[f.Name]; !exists {
			m.order = append(m.order, f.Name)
		}
		m.entries[f.Name] = e
	}
	debugf("Mounted %s (%d entries, read-only=%v)\n", archivePath, len(m.order), readOnly)
	return m, nil
}

// Path returns the physical archive path.
func (m *ArchiveMount) Path() string { return m.path }

// normalizeEntryName turns "/a/b", "a/./b" or "a//b" into "a/b". The
// archive root is returned as "".
func normalizeEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	if strings.Contains(name, "..") {
		// path.Clean on a rooted path swallows leading "..", so check
		// the relative form for escapes.
		rel := path.Clean(strings.TrimLeft(name, "/"))
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return "", errEscapesRoot
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

func (m *ArchiveMount) checkWritable(name string) error {
	if m.closed {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: errMountClosed}
	}
	if m.readOnly {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: errReadOnlyMount}
	}
	return nil
}

// CreateDirectories creates dir and all of its parents. Existing
// directories are left alone.
func (m *ArchiveMount) CreateDirectories(dir string) error {
	if err := m.checkWritable(dir); err != nil {
		return err
	}
	n, err := normalizeEntryName(dir)
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: dir, Err: err}
	}
	if n == "" {
		return nil
	}
	parts := strings.Split(n, "/")
	for i := range parts {
		if err := m.ensureDir(strings.Join(parts[:i+1], "/")); err != nil {
			return err
		}
	}
	return nil
}

func (m *ArchiveMount) ensureDir(n string) error {
	key := n + "/"
	if _, ok := m.entries[key]; ok {
		return nil
	}
	if e, ok := m.entries[n]; ok && !e.dir {
		return &ArchiveWriteError{Archive: m.path, Path: "/" + n, Err: fmt.Errorf("a file already exists at this path")}
	}
	m.entries[key] = &mountEntry{
		name:     key,
		dir:      true,
		modified: time.Now(),
		mode:     fs.ModeDir | 0o755,
	}
	m.order = append(m.order, key)
	m.dirty = true
	return nil
}

// WriteFile stores the content of r at name, creating parent directories
// and replacing any existing entry.
func (m *ArchiveMount) WriteFile(name string, r io.Reader, meta FileMeta) error {
	if err := m.checkWritable(name); err != nil {
		return err
	}
	n, err := normalizeEntryName(name)
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: err}
	}
	if n == "" {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: fmt.Errorf("cannot write to the archive root")}
	}
	if _, ok := m.entries[n+"/"]; ok {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: fmt.Errorf("a directory already exists at this path")}
	}
	if parent := path.Dir(n); parent != "." {
		if err := m.CreateDirectories(parent); err != nil {
			return err
		}
	}

	if err := m.ensureSpool(); err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: err}
	}
	off := m.spoolSize
	written, err := io.Copy(m.spool, r)
	m.spoolSize += written
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: err}
	}

	mode := meta.Mode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	modified := meta.Modified
	if modified.IsZero() {
		modified = time.Now()
	}
	e, exists := m.entries[n]
	if !exists {
		e = &mountEntry{name: n}
		m.entries[n] = e
		m.order = append(m.order, n)
	}
	e.orig = nil
	e.off = off
	e.size = written
	e.modified = modified
	e.mode = mode
	m.dirty = true
	return nil
}

// CopyFile stores the content of the regular file src at name.
func (m *ArchiveMount) CopyFile(name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Path: name, Err: err}
	}
	return m.WriteFile(name, f, FileMeta{Modified: info.ModTime(), Mode: info.Mode()})
}

func (m *ArchiveMount) ensureSpool() error {
	if m.spool != nil {
		return nil
	}
	f, err := os.CreateTemp(filepath.Dir(m.path), "."+filepath.Base(m.path)+".*.spool")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	m.spool = f
	return nil
}

// Open returns a reader for the file entry at name.
func (m *ArchiveMount) Open(name string) (io.ReadCloser, error) {
	if m.closed {
		return nil, &ArchiveReadError{Archive: m.path, Path: name, Err: errMountClosed}
	}
	n, err := normalizeEntryName(name)
	if err != nil {
		return nil, &ArchiveReadError{Archive: m.path, Path: name, Err: err}
	}
	e, ok := m.entries[n]
	if !ok || e.dir {
		return nil, &ArchiveReadError{Archive: m.path, Path: name, Err: fs.ErrNotExist}
	}
	if e.orig != nil {
		rc, err := e.orig.Open()
		if err != nil {
			return nil, &ArchiveReadError{Archive: m.path, Path: name, Err: err}
		}
		return rc, nil
	}
	return io.NopCloser(io.NewSectionReader(m.spool, e.off, e.size)), nil
}

// Exists reports whether name is a file or directory in the archive,
// including directories implied by deeper entries.
func (m *ArchiveMount) Exists(name string) bool {
	n, err := normalizeEntryName(name)
	if err != nil {
		return false
	}
	if n == "" {
		return true
	}
	if _, ok := m.entries[n]; ok {
		return true
	}
	if _, ok := m.entries[n+"/"]; ok {
		return true
	}
	prefix := n + "/"
	for _, key := range m.order {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// FileCount returns the number of file entries in the archive.
func (m *ArchiveMount) FileCount() int {
	count := 0
	for _, key := range m.order {
		if !m.entries[key].dir {
			count++
		}
	}
	return count
}

// Walk yields every entry under root in archive order, parents before
// children. Directories only implied by deeper entries are yielded too.
// The index is snapshotted when Walk is called.
func (m *ArchiveMount) Walk(root string) iter.Seq[Entry] {
	order := append([]string(nil), m.order...)
	entries := make(map[string]mountEntry, len(order))
	for _, key := range order {
		entries[key] = *m.entries[key]
	}
	base, err := normalizeEntryName(root)

	return func(yield func(Entry) bool) {
		if err != nil {
			return
		}
		prefix := ""
		if base != "" {
			prefix = base + "/"
		}
		seen := make(map[string]bool)
		for _, key := range order {
			e := entries[key]
			n := strings.TrimSuffix(key, "/")
			if !strings.HasPrefix(key, prefix) || n == base {
				continue
			}
			// Implied parents between root and this entry.
			rest := strings.TrimPrefix(n, prefix)
			parts := strings.Split(rest, "/")
			for i := 1; i < len(parts); i++ {
				dir := prefix + strings.Join(parts[:i], "/")
				if seen[dir] {
					continue
				}
				seen[dir] = true
				de := Entry{Path: "/" + dir, Mode: fs.ModeDir | 0o755}
				if explicit, ok := entries[dir+"/"]; ok {
					de.Modified = explicit.modified
					de.Mode = explicit.mode
				}
				if !yield(de) {
					return
				}
			}
			if e.dir {
				if seen[n] {
					continue
				}
				seen[n] = true
			}
			if !yield(Entry{Path: "/" + n, IsFile: !e.dir, Modified: e.modified, Mode: e.mode}) {
				return
			}
		}
	}
}

// Close flushes staged writes into the archive and releases every handle.
// It is safe to call more than once.
func (m *ArchiveMount) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	defer m.removeSpool()

	if m.readOnly || !m.dirty {
		if err := m.reader.Close(); err != nil {
			return &ArchiveReadError{Archive: m.path, Err: err}
		}
		return nil
	}
	err := m.flush()
	if cerr := m.reader.Close(); cerr != nil && err == nil {
		err = &ArchiveReadError{Archive: m.path, Err: cerr}
	}
	if err != nil {
		return err
	}
	return m.replaceOriginal()
}

func (m *ArchiveMount) removeSpool() {
	if m.spool == nil {
		return
	}
	name := m.spool.Name()
	m.spool.Close()
	os.Remove(name)
	m.spool = nil
}

// flushPath is where flush writes the rewritten archive before the rename.
func (m *ArchiveMount) flushPath() string {
	return filepath.Join(filepath.Dir(m.path), "."+filepath.Base(m.path)+".flush")
}

func (m *ArchiveMount) flush() (err error) {
	tmpPath := m.flushPath()
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &ArchiveWriteError{Archive: m.path, Err: err}
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(out)
	if m.reader.Comment != "" {
		if err := zw.SetComment(m.reader.Comment); err != nil {
			return &ArchiveWriteError{Archive: m.path, Err: err}
		}
	}
	for _, key := range m.order {
		e := m.entries[key]
		if err := m.writeEntry(zw, e); err != nil {
			return &ArchiveWriteError{Archive: m.path, Path: "/" + strings.TrimSuffix(key, "/"), Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return &ArchiveWriteError{Archive: m.path, Err: err}
	}
	if err := out.Sync(); err != nil {
		return &ArchiveWriteError{Archive: m.path, Err: err}
	}
	if err := out.Close(); err != nil {
		return &ArchiveWriteError{Archive: m.path, Err: err}
	}
	return nil
}

func (m *ArchiveMount) writeEntry(zw *zip.Writer, e *mountEntry) error {
	if e.orig != nil {
		return zw.Copy(e.orig)
	}
	hdr := &zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: e.modified,
	}
	if e.dir {
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeDir | e.mode.Perm())
		_, err := zw.CreateHeader(hdr)
		return err
	}
	hdr.SetMode(e.mode.Perm())
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, io.NewSectionReader(m.spool, e.off, e.size))
	return err
}

func (m *ArchiveMount) replaceOriginal() error {
	tmpPath := m.flushPath()
	if info, err := os.Stat(m.path); err == nil {
		_ = os.Chmod(tmpPath, info.Mode().Perm())
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return &ArchiveWriteError{Archive: m.path, Err: err}
	}
	debugf("Flushed %s (%d entries)\n", m.path, len(m.order))
	return nil
}
