// Package updater implements ServiceUpdater, the per-service strategy
// deciding when a newer installed package replaces the one a
// ServiceProcess is currently running.
package updater

import (
	"github.com/orbitsup/supervisor/internal/svcproc"
	"github.com/orbitsup/supervisor/internal/types"
)

// Target is the narrow slice of ServiceProcess the updater works on: read
// the installed ident and swap it. Group is part of the slice, but Check
// does not call it; the caller passes update leadership in.
type Target interface {
	Ident() types.PackageIdent
	Group() types.ServiceGroup
	SwapPackage(ident types.PackageIdent)
}

// ServiceUpdater decides, once per tick, whether a service's running
// package should be swapped for a newer one, per its configured
// UpdateStrategy.
type ServiceUpdater struct {
	strategy types.UpdateStrategy
	resolver svcproc.PackageResolver
}

// New returns a ServiceUpdater for the given strategy.
func New(strategy types.UpdateStrategy, resolver svcproc.PackageResolver) *ServiceUpdater {
	return &ServiceUpdater{strategy: strategy, resolver: resolver}
}

// Check looks for a newer installed package and, if the strategy allows a
// swap right now, applies it to target. isUpdateLeader is only consulted
// under UpdateStrategyRolling. It reports whether a swap happened so the
// caller can reinsert the service's rumor in the same tick step, rather
// than waiting for the next tick to notice the incarnation bump.
func (u *ServiceUpdater) Check(target Target, isUpdateLeader bool) (bool, error) {
	if u.strategy == types.UpdateStrategyNone {
		return false, nil
	}

	current := target.Ident()
	query := types.PackageIdent{Origin: current.Origin, Name: current.Name}
	newest, ok, err := u.resolver.Newest(query)
	if err != nil {
		return false, err
	}
	if !ok || !newest.NewerThan(current) {
		return false, nil
	}

	switch u.strategy {
	case types.UpdateStrategyAtOnce:
		target.SwapPackage(newest)
		return true, nil
	case types.UpdateStrategyRolling:
		// Rolling groups gate the swap on the update-leader: only the
		// elected update leader applies a new package; a member that is
		// not the update leader does not swap.
		if isUpdateLeader {
			target.SwapPackage(newest)
			return true, nil
		}
	}
	return false, nil
}
