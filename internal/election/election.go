// Package election runs the leader (and update-leader) election protocol
// for topology=leader service groups: propose a vote, wait for every
// alive member's vote in the same term, then settle on the highest
// suitability score.
package election

import (
	"sort"

	"github.com/orbitsup/supervisor/internal/gossip"
	"github.com/orbitsup/supervisor/internal/types"
)

// Scorer reports this node's suitability for a named service, used to
// cast this node's own vote.
type Scorer interface {
	Score(name string) uint64
}

// Coordinator tracks in-flight election term per group and per election
// kind (leader vs update-leader), since the two run independently with
// their own rumor store.
type Coordinator struct {
	client   gossip.Client
	scorer   Scorer
	terms    map[string]uint64
	updTerms map[string]uint64
}

// New returns a Coordinator driving elections over client, scoring this
// node's own candidacy via scorer.
func New(client gossip.Client, scorer Scorer) *Coordinator {
	return &Coordinator{
		client:   client,
		scorer:   scorer,
		terms:    make(map[string]uint64),
		updTerms: make(map[string]uint64),
	}
}

// MaintainLeader advances the leader election for group (named by its
// service), given the currently alive member IDs for that group. A
// settled election whose winner has since left the group is stalled: it
// will never repropose on its own, so this restarts it by bumping the
// term before driving the usual vote/settle logic.
func (c *Coordinator) MaintainLeader(group, serviceName string, aliveMembers []string) {
	if electionStalled(c.client.ElectionRumors(group), c.terms[group], aliveMembers) {
		c.BumpTerm(group)
	}
	maintain(c.client.InsertElectionRumor, c.client.ElectionRumors, c.terms, group, serviceName, aliveMembers, c.scorer, c.client.LocalMemberID())
}

// MaintainUpdateLeader advances the update-leader election for group,
// restarting it the same way MaintainLeader does when its winner has
// departed the group.
func (c *Coordinator) MaintainUpdateLeader(group, serviceName string, aliveMembers []string) {
	if electionStalled(c.client.UpdateRumors(group), c.updTerms[group], aliveMembers) {
		c.BumpUpdateTerm(group)
	}
	maintain(c.client.InsertUpdateRumor, c.client.UpdateRumors, c.updTerms, group, serviceName, aliveMembers, c.scorer, c.client.LocalMemberID())
}

// electionStalled reports whether the settled rumor for term has a
// winner that is no longer among aliveMembers. A group with no alive
// members at all is not considered stalled: there is nothing to restart
// an election for yet.
func electionStalled(rumors []types.ElectionRumor, term uint64, aliveMembers []string) bool {
	if len(aliveMembers) == 0 {
		return false
	}

	alive := make(map[string]bool, len(aliveMembers))
	for _, m := range aliveMembers {
		alive[m] = true
	}

	for _, r := range rumors {
		if r.Term == term && r.Status == types.ElectionFinished {
			return r.Winner != "" && !alive[r.Winner]
		}
	}
	return false
}

func maintain(
	insert func(types.ElectionRumor),
	list func(string) []types.ElectionRumor,
	terms map[string]uint64,
	group, serviceName string,
	aliveMembers []string,
	scorer Scorer,
	memberID string,
) {
	rumors := list(group)

	currentTerm := terms[group]
	var mine *types.ElectionRumor
	for i := range rumors {
		if rumors[i].MemberID == memberID && rumors[i].Term == currentTerm {
			mine = &rumors[i]
		}
	}

	if mine == nil {
		// No vote cast yet for the current term: propose one.
		insert(types.ElectionRumor{
			ServiceGroup: group,
			MemberID:     memberID,
			Term:         currentTerm,
			Status:       types.ElectionRunning,
			Suitability:  scorer.Score(serviceName),
		})
		return
	}

	if mine.Status == types.ElectionFinished {
		return
	}

	if !allVoted(rumors, currentTerm, aliveMembers) {
		return
	}

	winner := pickWinner(rumors, currentTerm)
	insert(types.ElectionRumor{
		ServiceGroup: group,
		MemberID:     memberID,
		Term:         currentTerm,
		Status:       types.ElectionFinished,
		Suitability:  mine.Suitability,
		Winner:       winner,
	})
}

func allVoted(rumors []types.ElectionRumor, term uint64, aliveMembers []string) bool {
	voted := make(map[string]bool, len(rumors))
	for _, r := range rumors {
		if r.Term == term {
			voted[r.MemberID] = true
		}
	}
	for _, m := range aliveMembers {
		if !voted[m] {
			return false
		}
	}
	return len(aliveMembers) > 0
}

func pickWinner(rumors []types.ElectionRumor, term uint64) string {
	var candidates []types.ElectionRumor
	for _, r := range rumors {
		if r.Term == term {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Suitability != candidates[j].Suitability {
			return candidates[i].Suitability > candidates[j].Suitability
		}
		return candidates[i].MemberID < candidates[j].MemberID
	})
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].MemberID
}

// BumpTerm advances group to the next term, used once a settled election
// needs to be rerun (e.g. the winner left the group).
func (c *Coordinator) BumpTerm(group string) {
	c.terms[group]++
}

// BumpUpdateTerm advances group's update-leader election to the next term.
func (c *Coordinator) BumpUpdateTerm(group string) {
	c.updTerms[group]++
}
