// Package statusreader provides read-only access to the supervisor's
// last-persisted service status snapshot, for the status CLI subcommand
// and any out-of-process health probe.
package statusreader

import (
	"encoding/json"
	"os"

	"github.com/orbitsup/supervisor/internal/supervisorerrors"
	"github.com/orbitsup/supervisor/internal/types"
)

// Reader is a stateless view over one data file; every call re-reads it,
// so a Reader never serves stale data across process restarts or
// concurrent supervisor upgrades.
type Reader struct {
	Path string
}

// New returns a Reader over the services snapshot at path (typically
// data/services.dat under the layout's data directory).
func New(path string) *Reader {
	return &Reader{Path: path}
}

// All returns every persisted service status, in no particular order.
func (r *Reader) All() ([]types.ServiceStatus, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var statuses []types.ServiceStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Find returns the first persisted status whose package ident satisfies
// query, per the same partial-match rule package resolution uses.
// Returns ServiceNotLoaded when nothing matches.
func (r *Reader) Find(query types.PackageIdent) (types.ServiceStatus, error) {
	statuses, err := r.All()
	if err != nil {
		return types.ServiceStatus{}, err
	}

	for _, s := range statuses {
		ident, err := types.ParsePackageIdent(s.Package)
		if err != nil {
			continue
		}
		if ident.Satisfies(query) {
			return s, nil
		}
	}

	return types.ServiceStatus{}, &supervisorerrors.ServiceNotLoaded{Ident: query.String()}
}
