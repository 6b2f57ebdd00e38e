// Package census folds gossip rumor stores and membership into the
// per-group view (CensusGroup) the rest of the supervisor reads to render
// config and decide leadership. Fold is a pure function: same rumors and
// members in, same CensusGroup out, so it is tested without any gossip
// transport at all.
package census

import (
	"sort"

	"github.com/orbitsup/supervisor/internal/gossip"
	"github.com/orbitsup/supervisor/internal/types"
)

// Fold computes the CensusGroup for group from the current state of
// client's rumor stores and member list.
func Fold(client gossip.Client, group string) *types.CensusGroup {
	alive := make(map[string]bool, len(client.Members()))
	for _, m := range client.Members() {
		alive[m] = true
	}

	members := make(map[string]*types.CensusEntry)
	for _, r := range client.ServiceRumors(group) {
		members[r.MemberID] = &types.CensusEntry{
			MemberID:    r.MemberID,
			Alive:       alive[r.MemberID],
			Package:     r.Package,
			CfgBytes:    r.CfgBytes,
			Incarnation: r.Incarnation,
		}
	}

	cg := &types.CensusGroup{Members: members}
	cg.Leader = foldLeader(client.ElectionRumors(group))
	cg.UpdateLeader = foldLeader(client.UpdateRumors(group))
	return cg
}

// foldLeader picks the winner of the most recent finished election, or
// empty string if no election has finished yet. Rumors for an election
// still Running never produce a leader: every voter must see Finished
// before anyone treats the vote as settled.
func foldLeader(rumors []types.ElectionRumor) string {
	if len(rumors) == 0 {
		return ""
	}

	byTerm := make(map[uint64][]types.ElectionRumor)
	var terms []uint64
	for _, r := range rumors {
		if _, ok := byTerm[r.Term]; !ok {
			terms = append(terms, r.Term)
		}
		byTerm[r.Term] = append(byTerm[r.Term], r)
	}
	sort.Sort(sort.Reverse(uint64Slice(terms)))

	for _, term := range terms {
		votes := byTerm[term]
		allFinished := true
		winner := ""
		for _, v := range votes {
			if v.Status != types.ElectionFinished {
				allFinished = false
				break
			}
			if v.Winner != "" {
				winner = v.Winner
			}
		}
		if allFinished && winner != "" {
			return winner
		}
	}
	return ""
}

type uint64Slice []uint64

func (s uint64Slice) Len() int           { return len(s) }
func (s uint64Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s uint64Slice) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
