package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitsup/supervisor/internal/types"
)

func TestInMemoryConvergesServiceRumors(t *testing.T) {
	a := NewInMemory("node-a")
	b := NewInMemory("node-b")
	Link(a, b)

	a.InsertServiceRumor(types.Rumor{ServiceGroup: "web.default", MemberID: "node-a", Incarnation: 1})

	require.Len(t, b.ServiceRumors("web.default"), 1)
	require.Equal(t, "node-a", b.ServiceRumors("web.default")[0].MemberID)
}

func TestInMemoryRejectsStaleIncarnation(t *testing.T) {
	a := NewInMemory("node-a")

	a.InsertServiceRumor(types.Rumor{ServiceGroup: "web.default", MemberID: "node-a", Incarnation: 5, Package: "core/web/2.0/20260101000000"})
	a.InsertServiceRumor(types.Rumor{ServiceGroup: "web.default", MemberID: "node-a", Incarnation: 3, Package: "core/web/1.0/20260101000000"})

	rumors := a.ServiceRumors("web.default")
	require.Len(t, rumors, 1)
	require.Equal(t, uint64(5), rumors[0].Incarnation)
	require.Equal(t, "core/web/2.0/20260101000000", rumors[0].Package)
}

func TestInMemoryElectionRumorLatestTermWins(t *testing.T) {
	a := NewInMemory("node-a")

	a.InsertElectionRumor(types.ElectionRumor{ServiceGroup: "web.default", MemberID: "node-a", Term: 1, Status: types.ElectionRunning})
	a.InsertElectionRumor(types.ElectionRumor{ServiceGroup: "web.default", MemberID: "node-a", Term: 2, Status: types.ElectionFinished, Winner: "node-a"})

	rumors := a.ElectionRumors("web.default")
	require.Len(t, rumors, 1)
	require.Equal(t, types.ElectionFinished, rumors[0].Status)
	require.Equal(t, "node-a", rumors[0].Winner)
}
