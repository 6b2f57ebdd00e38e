// Package fslayout resolves the on-disk tree the supervisor owns and
// provides the atomic write-rename helper every persistence path uses.
package fslayout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/orbitsup/supervisor/internal/supervisorerrors"
)

// Layout is the canonical set of paths under one state directory.
type Layout struct {
	StatePath string
	DataPath  string
	SpecsPath string
	LockPath  string
	MemberID  string
}

// Config is the subset of runtime configuration FsLayout needs to resolve
// state_path. Fields are checked in precedence order: Custom > Name >
// "default".
type Config struct {
	Custom string
	Prefix string
	Name   string
}

// StatePathFrom resolves the state directory from cfg, obeying precedence
// custom > "<prefix>/<name>" > "<prefix>/default". Deterministic for any
// config value.
func StatePathFrom(cfg Config) string {
	if cfg.Custom != "" {
		return cfg.Custom
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return filepath.Join(cfg.Prefix, name)
}

// New resolves a Layout from cfg but does not touch the filesystem.
func New(cfg Config) *Layout {
	statePath := StatePathFrom(cfg)
	return &Layout{
		StatePath: statePath,
		DataPath:  filepath.Join(statePath, "data"),
		SpecsPath: filepath.Join(statePath, "specs"),
		LockPath:  filepath.Join(statePath, "LOCK"),
		MemberID:  filepath.Join(statePath, "MEMBER_ID"),
	}
}

// Ensure creates data/ and specs/ idempotently and sweeps stale *.tmp and
// *.health files left over from a previous, uncleanly-terminated run.
func (l *Layout) Ensure() error {
	if err := os.MkdirAll(l.DataPath, 0o755); err != nil {
		return &supervisorerrors.BadDataPath{Path: l.DataPath, Err: err}
	}
	if err := os.MkdirAll(l.SpecsPath, 0o755); err != nil {
		return &supervisorerrors.BadSpecsPath{Path: l.SpecsPath, Err: err}
	}
	return l.sweepStale()
}

func (l *Layout) sweepStale() error {
	entries, err := os.ReadDir(l.DataPath)
	if err != nil {
		return &supervisorerrors.BadDataPath{Path: l.DataPath, Err: err}
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".health") {
			_ = os.Remove(filepath.Join(l.DataPath, name))
		}
	}
	return nil
}

// DataFile joins a filename under data/.
func (l *Layout) DataFile(name string) string {
	return filepath.Join(l.DataPath, name)
}

// WriteAtomic writes data to path by writing path+".tmp", flushing, and
// renaming over path. Rename is atomic within a directory, so a
// concurrent reader never observes a torn file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
