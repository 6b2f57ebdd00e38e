package census

import "github.com/orbitsup/supervisor/internal/types"

// MarkChanged compares next against prev (the previous tick's fold for
// the same group, nil on the first tick) and sets next.Changed when
// membership, leadership, or any member's incarnation or liveness
// differs. The Manager persists state and publishes a group's snapshot to
// the event sink when Changed is true (persistence also runs when a
// service's state changed), since folding runs every tick but rumors
// rarely do.
func MarkChanged(prev, next *types.CensusGroup) {
	if prev == nil {
		next.Changed = true
		return
	}
	if prev.Leader != next.Leader || prev.UpdateLeader != next.UpdateLeader {
		next.Changed = true
		return
	}
	if len(prev.Members) != len(next.Members) {
		next.Changed = true
		return
	}
	for id, entry := range next.Members {
		old, ok := prev.Members[id]
		if !ok || old.Incarnation != entry.Incarnation || old.Alive != entry.Alive {
			next.Changed = true
			return
		}
	}
}
