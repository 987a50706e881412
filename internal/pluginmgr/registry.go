package pluginmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Registry maps a base-archive namespace to the digests recorded for the
// root-relative paths merged into that base's packaged output.
//
// A Registry is safe for concurrent use; every mutation holds a single lock.
type Registry struct {
	mu         sync.Mutex
	namespaces map[string]map[string]string

	// extra holds top-level keys that are not namespaces. They are written
	// back untouched so newer tools can share the file.
	extra map[string]json.RawMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		namespaces: make(map[string]map[string]string),
		extra:      make(map[string]json.RawMessage),
	}
}

// LoadRegistry reads the registry at path. A missing file yields an empty
// registry; a file that cannot be parsed yields a *RegistryCorruptError.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			debugf("No checksum registry at %s, starting empty\n", path)
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read checksum registry %s: %w", path, err)
	}
	return parseRegistry(path, data)
}

func parseRegistry(path string, data []byte) (*Registry, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &RegistryCorruptError{Path: path, Err: err}
	}
	if top == nil {
		return nil, &RegistryCorruptError{Path: path, Err: errors.New("document is not an object")}
	}

	reg := NewRegistry()
	for key, raw := range top {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			debugf("Keeping unknown registry key %q as-is\n", key)
			reg.extra[key] = raw
			continue
		}
		ns := make(map[string]string, len(fields))
		for rel, v := range fields {
			var digest string
			if err := json.Unmarshal(v, &digest); err != nil {
				debugf("Ignoring non-string registry value %s/%s\n", key, rel)
				continue
			}
			ns[rel] = digest
		}
		reg.namespaces[key] = ns
	}
	return reg, nil
}

// Unchanged reports whether namespace ns already records digest d at rel.
// It never mutates the registry; invalidate forces a false result.
func (r *Registry) Unchanged(ns, rel string, d Digest, invalidate bool) bool {
	if invalidate {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.namespaces[ns][rel]
	return ok && stored == d.String()
}

// Record stores digest d at rel in namespace ns, creating both as needed.
func (r *Registry) Record(ns, rel string, d Digest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(ns, rel, d)
}

func (r *Registry) recordLocked(ns, rel string, d Digest) {
	entries, ok := r.namespaces[ns]
	if !ok {
		entries = make(map[string]string)
		r.namespaces[ns] = entries
	}
	entries[rel] = d.String()
}

// CheckAndUpdate returns true, leaving the registry untouched, iff
// invalidate is false and ns records d at rel. Otherwise it stores d and
// returns false.
func (r *Registry) CheckAndUpdate(ns, rel string, d Digest, invalidate bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !invalidate {
		if stored, ok := r.namespaces[ns][rel]; ok && stored == d.String() {
			return true
		}
	}
	r.recordLocked(ns, rel, d)
	return false
}

// Lookup returns the digest string recorded at rel in namespace ns.
func (r *Registry) Lookup(ns, rel string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.namespaces[ns][rel]
	return stored, ok
}

// Namespace returns a copy of the entries recorded for ns, or nil.
func (r *Registry) Namespace(ns string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, ok := r.namespaces[ns]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

// Save writes the registry to path through a temp file in the same
// directory, so a failed write never truncates the previous file.
func (r *Registry) Save(path string) error {
	r.mu.Lock()
	doc := make(map[string]any, len(r.namespaces)+len(r.extra))
	for key, raw := range r.extra {
		doc[key] = raw
	}
	for ns, entries := range r.namespaces {
		doc[ns] = entries
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode checksum registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary registry file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary registry file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temporary registry file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace checksum registry %s: %w", path, err)
	}
	return nil
}

// lockRegistry takes an exclusive, non-blocking advisory lock next to the
// registry file. The returned func releases it.
func lockRegistry(path string) (func(), error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry lock %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrRegistryLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
