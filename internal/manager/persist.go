package manager

import (
	"encoding/json"

	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/types"
)

// persistServices writes the current set of services' externally-visible
// status to data/services.dat, the file statusreader and the status CLI
// subcommand read back.
func (m *Manager) persistServices() error {
	statuses := make([]types.ServiceStatus, 0, len(m.services))
	for _, sp := range m.services {
		pid := uint32(sp.PID())
		var pidPtr *uint32
		if pid != 0 {
			pidPtr = &pid
		}
		statuses = append(statuses, types.ServiceStatus{
			Package: sp.Ident().String(),
			Supervisor: types.SupervisorStatus{
				PID:          pidPtr,
				State:        sp.State(),
				StateEntered: sp.StateEntered().Unix(),
			},
		})
	}

	data, err := json.Marshal(statuses)
	if err != nil {
		return err
	}
	return fslayout.WriteAtomic(m.layout.DataFile("services.dat"), data, 0o644)
}

// persistCensus writes the latest per-group census fold to
// data/census.dat, the file an operator can inspect independent of
// gossip being reachable.
func (m *Manager) persistCensus() error {
	data, err := json.Marshal(m.prevCensus)
	if err != nil {
		return err
	}
	return fslayout.WriteAtomic(m.layout.DataFile("census.dat"), data, 0o644)
}

// persistGossip writes a snapshot of the gossip member list to
// data/butterfly.dat, named for the rumor-mongering protocol it mirrors.
func (m *Manager) persistGossip() error {
	data, err := json.Marshal(m.gossipClient.Members())
	if err != nil {
		return err
	}
	return fslayout.WriteAtomic(m.layout.DataFile("butterfly.dat"), data, 0o644)
}
