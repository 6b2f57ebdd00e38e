package census

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitsup/supervisor/internal/gossip"
	"github.com/orbitsup/supervisor/internal/types"
)

func TestFoldLeaderRequiresFinishedElection(t *testing.T) {
	client := gossip.NewInMemory("node-a")
	client.InsertServiceRumor(types.Rumor{ServiceGroup: "web.default", MemberID: "node-a", Incarnation: 1})
	client.InsertElectionRumor(types.ElectionRumor{ServiceGroup: "web.default", MemberID: "node-a", Term: 1, Status: types.ElectionRunning})

	cg := Fold(client, "web.default")
	require.Empty(t, cg.Leader)
	require.Len(t, cg.Members, 1)
	require.True(t, cg.Members["node-a"].Alive)
}

func TestFoldLeaderSettlesOnFinished(t *testing.T) {
	client := gossip.NewInMemory("node-a")
	client.InsertElectionRumor(types.ElectionRumor{ServiceGroup: "web.default", MemberID: "node-a", Term: 1, Status: types.ElectionFinished, Winner: "node-a"})

	cg := Fold(client, "web.default")
	require.Equal(t, "node-a", cg.Leader)
}

func TestMarkChangedDetectsIncarnationBump(t *testing.T) {
	prev := &types.CensusGroup{Members: map[string]*types.CensusEntry{
		"node-a": {MemberID: "node-a", Incarnation: 1, Alive: true},
	}}
	next := &types.CensusGroup{Members: map[string]*types.CensusEntry{
		"node-a": {MemberID: "node-a", Incarnation: 2, Alive: true},
	}}

	MarkChanged(prev, next)
	require.True(t, next.Changed)
}

func TestMarkChangedNoopWhenIdentical(t *testing.T) {
	prev := &types.CensusGroup{Leader: "node-a", Members: map[string]*types.CensusEntry{
		"node-a": {MemberID: "node-a", Incarnation: 1, Alive: true},
	}}
	next := &types.CensusGroup{Leader: "node-a", Members: map[string]*types.CensusEntry{
		"node-a": {MemberID: "node-a", Incarnation: 1, Alive: true},
	}}

	MarkChanged(prev, next)
	require.False(t, next.Changed)
}
