package manager

import (
	"context"
	"sort"

	"github.com/orbitsup/supervisor/internal/census"
	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/specstore"
	"github.com/orbitsup/supervisor/internal/svcproc"
	"github.com/orbitsup/supervisor/internal/types"
	"github.com/orbitsup/supervisor/internal/updater"
)

// reconcileSpecs diffs the specs directory against the currently loaded
// set and adds/removes services accordingly. This is step 2 of the tick.
func (m *Manager) reconcileSpecs() {
	active := m.activeSpecs()

	events, err := m.watcher.NewEvents(active)
	if err != nil {
		m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Msg("failed to diff specs directory")
		return
	}

	for _, ev := range events {
		switch ev.Kind {
		case specstore.AddService:
			if err := m.loadService(ev.Name, ev.Spec); err != nil {
				m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Str("service", ev.Name).Msg("failed to load service")
			}
		case specstore.RemoveService:
			m.unloadService(ev.Name)
		}
	}
}

func (m *Manager) activeSpecs() map[string]*types.ServiceSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[string]*types.ServiceSpec, len(m.services))
	for name, sp := range m.services {
		active[name] = sp.Spec()
	}
	return active
}

func (m *Manager) loadService(name string, spec *types.ServiceSpec) error {
	sp, err := svcproc.Load(spec, m.layout, m.cfg.Organization, m.resolver, m.runner, m.logger.With().Str("service", name).Logger())
	if err != nil {
		return err
	}
	if err := sp.Add(); err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.services[name]; ok {
		existing.Stop()
	}
	m.services[name] = sp
	m.updaters[name] = updater.New(spec.UpdateStrategy, m.resolver)
	m.mu.Unlock()

	m.logger.Info().Str("service", name).Str("ident", spec.Ident).Msg("service loaded")
	return nil
}

func (m *Manager) unloadService(name string) {
	m.mu.Lock()
	sp, ok := m.services[name]
	if ok {
		delete(m.services, name)
		delete(m.updaters, name)
	}
	m.mu.Unlock()

	if ok {
		sp.Stop()
		m.logger.Info().Str("service", name).Msg("service unloaded")
	}
}

// scanPackageUpdates consults each service's ServiceUpdater once per
// tick. This is step 3.
func (m *Manager) scanPackageUpdates() {
	m.mu.RLock()
	type pair struct {
		sp  *svcproc.ServiceProcess
		upd *updater.ServiceUpdater
	}
	pairs := make(map[string]pair, len(m.services))
	for name, sp := range m.services {
		pairs[name] = pair{sp: sp, upd: m.updaters[name]}
	}
	prevCensus := m.prevCensus
	m.mu.RUnlock()

	for name, p := range pairs {
		group := p.sp.Group().String()
		isUpdateLeader := false
		if cg, ok := prevCensus[group]; ok {
			isUpdateLeader = cg.UpdateLeader == m.gossipClient.LocalMemberID()
		}
		swapped, err := p.upd.Check(p.sp, isUpdateLeader)
		if err != nil {
			m.logger.Error().Err(err).Str("module", obslog.ModuleManager).Str("service", name).Msg("package update check failed")
			continue
		}
		if swapped {
			// Reinsert now, in this same step, so the census fold later
			// in this tick already sees the new incarnation instead of
			// lagging a full tick behind.
			m.gossipClient.InsertServiceRumor(p.sp.ToRumor(m.gossipClient.LocalMemberID()))
		}
	}
}

// maintainElections advances leader and update-leader elections for
// every distinct group among loaded services with topology=leader. This
// is step 4.
func (m *Manager) maintainElections() {
	for _, group := range m.distinctLeaderGroups() {
		alive := m.aliveMembersForGroup(group)
		name := groupServiceName(group)
		m.coordinator.MaintainLeader(group, name, alive)
		m.coordinator.MaintainUpdateLeader(group, name, alive)
	}
}

func (m *Manager) distinctLeaderGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var groups []string
	for _, sp := range m.services {
		if sp.Spec().Topology != types.TopologyLeader {
			continue
		}
		g := sp.Group().String()
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	return groups
}

// groupServiceName extracts the service-name component of a group string
// ("service.group[@org]") for use as the suitability lookup key, since
// suitability is tracked per loaded service, not per group.
func groupServiceName(group string) string {
	parsed, err := types.ParseServiceGroup(group)
	if err != nil {
		return group
	}
	return parsed.Service
}

func (m *Manager) aliveMembersForGroup(group string) []string {
	alive := make(map[string]bool)
	for _, id := range m.gossipClient.Members() {
		alive[id] = true
	}

	var members []string
	for _, r := range m.gossipClient.ServiceRumors(group) {
		if alive[r.MemberID] {
			members = append(members, r.MemberID)
		}
	}
	sort.Strings(members)
	return members
}

// foldAllCensus recomputes the census for every distinct group among
// loaded services, marking each Changed against the previous tick's
// fold, and returns whether any group changed. This is step 5.
func (m *Manager) foldAllCensus() bool {
	m.mu.RLock()
	groups := make(map[string]bool)
	for _, sp := range m.services {
		groups[sp.Group().String()] = true
	}
	prev := m.prevCensus
	m.mu.RUnlock()

	next := make(map[string]*types.CensusGroup, len(groups))
	changed := false
	for group := range groups {
		cg := census.Fold(m.gossipClient, group)
		census.MarkChanged(prev[group], cg)
		if cg.Changed {
			changed = true
		}
		next[group] = cg
	}

	m.mu.Lock()
	m.prevCensus = next
	m.mu.Unlock()

	return changed
}

// stateDirty is step 6: compare each loaded service's state_entered
// against the value recorded at the end of the prior tick, marking state
// dirty on any delta (a service that transitioned Down->Up->Restarting
// etc. since then) so persistence in step 7 picks it up even when the
// census fold itself saw no change.
func (m *Manager) stateDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirty := false
	seen := make(map[string]bool, len(m.services))
	for name, sp := range m.services {
		seen[name] = true
		entered := sp.StateEntered()
		if prev, ok := m.prevStateEntered[name]; !ok || !prev.Equal(entered) {
			dirty = true
		}
		m.prevStateEntered[name] = entered
	}
	for name := range m.prevStateEntered {
		if !seen[name] {
			delete(m.prevStateEntered, name)
			dirty = true
		}
	}
	return dirty
}

// tickServices advances every loaded service's state machine and
// publishes census snapshots to the event sink. This is steps 8 and the
// event-sink half of persistence.
func (m *Manager) tickServices(ctx context.Context) {
	m.mu.RLock()
	services := make(map[string]*svcproc.ServiceProcess, len(m.services))
	for name, sp := range m.services {
		services[name] = sp
	}
	censusByGroup := m.prevCensus
	m.mu.RUnlock()

	for name, sp := range services {
		cg := censusByGroup[sp.Group().String()]
		dirty, err := sp.Tick(ctx, cg)
		if err != nil {
			m.logger.Warn().Err(err).Str("module", obslog.ModuleManager).Str("service", name).Msg("service tick reported an error")
		}
		if dirty {
			m.gossipClient.InsertServiceRumor(sp.ToRumor(m.gossipClient.LocalMemberID()))
		}
	}

	for group, cg := range censusByGroup {
		if !cg.Changed {
			continue
		}
		members := make([]types.CensusEntry, 0, len(cg.Members))
		for _, entry := range cg.Members {
			members = append(members, *entry)
		}
		m.sink.Publish(snapshotOf(group, cg, members))
	}
}
