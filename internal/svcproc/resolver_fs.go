package svcproc

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/orbitsup/supervisor/internal/supervisorerrors"
	"github.com/orbitsup/supervisor/internal/types"
)

// FSResolver resolves packages from a directory tree laid out
// <root>/<origin>/<name>/<version>/<release>/run, the same shape Habitat
// packages use on disk. It is deliberately minimal: no archive format, no
// signature verification — packaging format is explicitly out of scope.
type FSResolver struct {
	Root string
}

// NewFSResolver returns a resolver rooted at root.
func NewFSResolver(root string) *FSResolver {
	return &FSResolver{Root: root}
}

// Resolve returns the newest installed package satisfying query.
func (r *FSResolver) Resolve(query types.PackageIdent) (types.PackageIdent, string, error) {
	return r.newest(query)
}

// Newest is an alias for Resolve: both pick the highest version/release
// satisfying the query, since "currently running" state lives in the
// caller (ServiceProcess), not the resolver.
func (r *FSResolver) Newest(query types.PackageIdent) (types.PackageIdent, bool, error) {
	ident, _, err := r.newest(query)
	if err != nil {
		if _, ok := err.(*supervisorerrors.PackageMissing); ok {
			return types.PackageIdent{}, false, nil
		}
		return types.PackageIdent{}, false, err
	}
	return ident, true, nil
}

func (r *FSResolver) newest(query types.PackageIdent) (types.PackageIdent, string, error) {
	origins := []string{query.Origin}
	if query.Origin == "" {
		origins = listDirs(r.Root)
	}

	var best types.PackageIdent
	var bestPath string
	found := false

	for _, origin := range origins {
		names := []string{query.Name}
		if query.Name == "" {
			names = listDirs(filepath.Join(r.Root, origin))
		}
		for _, name := range names {
			versions := listDirs(filepath.Join(r.Root, origin, name))
			sort.Sort(sort.Reverse(sort.StringSlice(versions)))
			for _, version := range versions {
				if query.Version != "" && query.Version != version {
					continue
				}
				releases := listDirs(filepath.Join(r.Root, origin, name, version))
				sort.Sort(sort.Reverse(sort.StringSlice(releases)))
				for _, release := range releases {
					if query.Release != "" && query.Release != release {
						continue
					}
					candidate := types.PackageIdent{Origin: origin, Name: name, Version: version, Release: release}
					if !found || candidate.NewerThan(best) {
						best = candidate
						bestPath = filepath.Join(r.Root, origin, name, version, release, "run")
						found = true
					}
				}
			}
		}
	}

	if !found {
		return types.PackageIdent{}, "", &supervisorerrors.PackageMissing{Ident: query.String()}
	}
	return best, bestPath, nil
}

// HookPath returns <root>/<origin>/<name>/<version>/<release>/hooks/<hook>,
// the same layout Habitat packages use for lifecycle hooks, and whether
// that file exists.
func (r *FSResolver) HookPath(ident types.PackageIdent, hook string) (string, bool) {
	path := filepath.Join(r.Root, ident.Origin, ident.Name, ident.Version, ident.Release, "hooks", hook)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

func listDirs(path string) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}
