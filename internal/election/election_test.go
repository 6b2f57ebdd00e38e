package election

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitsup/supervisor/internal/gossip"
)

type fixedScorer map[string]uint64

func (f fixedScorer) Score(name string) uint64 { return f[name] }

func TestMaintainLeaderSettlesOnHighestSuitability(t *testing.T) {
	a := gossip.NewInMemory("node-a")
	b := gossip.NewInMemory("node-b")
	gossip.Link(a, b)

	coordA := New(a, fixedScorer{"web": 10})
	coordB := New(b, fixedScorer{"web": 20})

	coordA.MaintainLeader("web.default", "web", []string{"node-a", "node-b"})
	coordB.MaintainLeader("web.default", "web", []string{"node-a", "node-b"})

	// Both members have now voted in term 0; a second pass should settle it.
	coordA.MaintainLeader("web.default", "web", []string{"node-a", "node-b"})
	coordB.MaintainLeader("web.default", "web", []string{"node-a", "node-b"})

	rumors := a.ElectionRumors("web.default")
	require.Len(t, rumors, 2)
	for _, r := range rumors {
		require.Equal(t, "node-b", r.Winner)
	}
}

func TestMaintainLeaderWaitsForAllVotes(t *testing.T) {
	a := gossip.NewInMemory("node-a")
	b := gossip.NewInMemory("node-b")
	gossip.Link(a, b)

	coordA := New(a, fixedScorer{"web": 10})
	coordA.MaintainLeader("web.default", "web", []string{"node-a", "node-b"})

	rumors := a.ElectionRumors("web.default")
	require.Len(t, rumors, 1)
	require.Equal(t, "", rumors[0].Winner)
}
