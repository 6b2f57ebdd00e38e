package svcproc

import "github.com/orbitsup/supervisor/internal/types"

// PackageResolver resolves a (possibly partial) package ident to an
// installed package and the path of its entrypoint binary. It is the
// narrow seam between the supervisor and the external package
// installer/updater (out of scope per the spec); a filesystem-backed
// implementation lives in resolver_fs.go for production and testing use.
type PackageResolver interface {
	// Resolve finds the best installed package satisfying query and
	// returns its fully-qualified ident plus the path to run.
	Resolve(query types.PackageIdent) (resolved types.PackageIdent, binPath string, err error)

	// Newest finds the newest installed package satisfying query,
	// regardless of what is currently running. Used by ServiceUpdater.
	Newest(query types.PackageIdent) (types.PackageIdent, bool, error)

	// HookPath returns the path to a named hook script under the
	// resolved package's hooks directory (e.g. "health_check"), and
	// whether that hook exists on disk.
	HookPath(ident types.PackageIdent, hook string) (path string, ok bool)
}
