package manager

import (
	"time"

	"github.com/orbitsup/supervisor/internal/eventsink"
	"github.com/orbitsup/supervisor/internal/types"
)

// snapshotOf adapts a folded CensusGroup to the eventsink wire shape.
func snapshotOf(group string, cg *types.CensusGroup, members []types.CensusEntry) eventsink.Snapshot {
	return eventsink.Snapshot{
		Group:    group,
		Leader:   cg.Leader,
		Members:  members,
		Occurred: time.Now(),
	}
}
