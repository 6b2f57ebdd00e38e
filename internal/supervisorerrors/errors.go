// Package supervisorerrors implements the error taxonomy the supervisor
// uses to decide what is fatal at boot, what is logged-and-contained
// per-tick, and what a status query should treat as "no instance running"
// rather than a hard failure.
package supervisorerrors

import "fmt"

// ProcessLocked means another supervisor instance already holds the lock.
type ProcessLocked struct {
	PID int
}

func (e *ProcessLocked) Error() string {
	return fmt.Sprintf("another supervisor instance is running (pid %d)", e.PID)
}

// ProcessLockCorrupt means the LOCK file exists but could not be parsed.
type ProcessLockCorrupt struct {
	Path string
}

func (e *ProcessLockCorrupt) Error() string {
	return fmt.Sprintf("process lock file %s is corrupt", e.Path)
}

// ProcessLockIO wraps an I/O failure while reading or writing the lock file.
type ProcessLockIO struct {
	Path string
	Err  error
}

func (e *ProcessLockIO) Error() string {
	return fmt.Sprintf("process lock %s: %v", e.Path, e.Err)
}

func (e *ProcessLockIO) Unwrap() error { return e.Err }

// BadDataPath means data/ under the state directory is unusable.
type BadDataPath struct {
	Path string
	Err  error
}

func (e *BadDataPath) Error() string {
	return fmt.Sprintf("bad data path %s: %v", e.Path, e.Err)
}

func (e *BadDataPath) Unwrap() error { return e.Err }

// BadSpecsPath means specs/ under the state directory is unusable.
type BadSpecsPath struct {
	Path string
	Err  error
}

func (e *BadSpecsPath) Error() string {
	return fmt.Sprintf("bad specs path %s: %v", e.Path, e.Err)
}

func (e *BadSpecsPath) Unwrap() error { return e.Err }

// BadDataFile means a single data file is corrupt. Callers decide whether
// this is fatal (member-id) or not (health cache).
type BadDataFile struct {
	Path string
	Err  error
}

func (e *BadDataFile) Error() string {
	return fmt.Sprintf("bad data file %s: %v", e.Path, e.Err)
}

func (e *BadDataFile) Unwrap() error { return e.Err }

// ServiceNotLoaded means a status query ident matched no installed service.
type ServiceNotLoaded struct {
	Ident string
}

func (e *ServiceNotLoaded) Error() string {
	return fmt.Sprintf("service not loaded: %s", e.Ident)
}

// PackageMissing means the service's package could not be resolved on disk.
type PackageMissing struct {
	Ident string
}

func (e *PackageMissing) Error() string {
	return fmt.Sprintf("package missing: %s", e.Ident)
}

// SpecParse wraps a TOML spec file parse failure.
type SpecParse struct {
	Path string
	Err  error
}

func (e *SpecParse) Error() string {
	return fmt.Sprintf("failed to parse spec %s: %v", e.Path, e.Err)
}

func (e *SpecParse) Unwrap() error { return e.Err }

// ConfigRender wraps a failure rendering a service's configuration from
// its spec and the current census.
type ConfigRender struct {
	Service string
	Err     error
}

func (e *ConfigRender) Error() string {
	return fmt.Sprintf("failed to render config for %s: %v", e.Service, e.Err)
}

func (e *ConfigRender) Unwrap() error { return e.Err }

// ChildSpawn wraps a failure starting a service's child process.
type ChildSpawn struct {
	Service string
	Err     error
}

func (e *ChildSpawn) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Service, e.Err)
}

func (e *ChildSpawn) Unwrap() error { return e.Err }
