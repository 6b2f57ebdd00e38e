package gossip

import "github.com/orbitsup/supervisor/internal/types"

// InMemory is a Client usable in tests without a real network: inserts
// apply directly to the local store instead of going through a broadcast
// queue. Several InMemory instances can be wired together with Link to
// simulate a small cluster converging.
type InMemory struct {
	memberID string
	peers    []*InMemory

	services  *serviceRumorStore
	elections *electionRumorStore
	updates   *electionRumorStore
}

// NewInMemory returns a single-node fake Client.
func NewInMemory(memberID string) *InMemory {
	return &InMemory{
		memberID:  memberID,
		services:  newServiceRumorStore(),
		elections: newElectionRumorStore(),
		updates:   newElectionRumorStore(),
	}
}

// Link wires peer so inserts on one are visible to the other, simulating
// gossip convergence synchronously instead of over a real transport.
func Link(a, b *InMemory) {
	a.peers = append(a.peers, b)
	b.peers = append(b.peers, a)
}

func (f *InMemory) LocalMemberID() string { return f.memberID }

func (f *InMemory) Members() []string {
	names := []string{f.memberID}
	for _, p := range f.peers {
		names = append(names, p.memberID)
	}
	return names
}

func (f *InMemory) InsertServiceRumor(r types.Rumor) {
	if !f.services.insert(r) {
		return
	}
	for _, p := range f.peers {
		p.services.insert(r)
	}
}

func (f *InMemory) ServiceRumors(group string) []types.Rumor { return f.services.list(group) }

func (f *InMemory) InsertElectionRumor(r types.ElectionRumor) {
	if !f.elections.insert(r) {
		return
	}
	for _, p := range f.peers {
		p.elections.insert(r)
	}
}

func (f *InMemory) ElectionRumors(group string) []types.ElectionRumor { return f.elections.list(group) }

func (f *InMemory) InsertUpdateRumor(r types.ElectionRumor) {
	if !f.updates.insert(r) {
		return
	}
	for _, p := range f.peers {
		p.updates.insert(r)
	}
}

func (f *InMemory) UpdateRumors(group string) []types.ElectionRumor { return f.updates.list(group) }

func (f *InMemory) Close() error { return nil }

var _ Client = (*InMemory)(nil)
var _ Client = (*MemberlistClient)(nil)
