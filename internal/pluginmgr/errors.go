package pluginmgr

import (
	"errors"
	"fmt"
)

// ErrRegistryLocked is returned when another packaging run holds the registry lock.
var ErrRegistryLocked = errors.New("checksum registry is locked by another run")

// RegistryCorruptError reports a registry file that exists but does not
// have the namespace -> path -> digest shape.
type RegistryCorruptError struct {
	Path string
	Err  error
}

func (e *RegistryCorruptError) Error() string {
	return fmt.Sprintf("checksum registry %s is corrupt: %v", e.Path, e.Err)
}

func (e *RegistryCorruptError) Unwrap() error { return e.Err }

// ArchiveWriteError reports a failed write of Path inside Archive.
type ArchiveWriteError struct {
	Archive string
	Path    string
	Err     error
}

func (e *ArchiveWriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to write archive %s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("failed to write %s in archive %s: %v", e.Path, e.Archive, e.Err)
}

func (e *ArchiveWriteError) Unwrap() error { return e.Err }

// ArchiveReadError reports a failed read of Path inside Archive. Path is
// empty when the archive itself could not be opened.
type ArchiveReadError struct {
	Archive string
	Path    string
	Err     error
}

func (e *ArchiveReadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to read archive %s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("failed to read %s in archive %s: %v", e.Path, e.Archive, e.Err)
}

func (e *ArchiveReadError) Unwrap() error { return e.Err }

// MissingInputDirectoryError reports a required input directory that does not exist.
type MissingInputDirectoryError struct {
	Dir string
}

func (e *MissingInputDirectoryError) Error() string {
	return fmt.Sprintf("required input directory %s does not exist", e.Dir)
}
