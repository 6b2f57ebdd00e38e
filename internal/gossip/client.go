// Package gossip provides the narrow GossipClient contract the rest of
// the supervisor depends on, plus a hashicorp/memberlist-backed
// implementation that piggybacks rumor dissemination on SWIM gossip
// rounds.
package gossip

import "github.com/orbitsup/supervisor/internal/types"

// Client is the narrow seam between the supervisor core and the gossip
// transport: three rumor stores plus membership. The core never reaches
// into memberlist directly, so tests can substitute InMemory.
type Client interface {
	LocalMemberID() string
	Members() []string

	InsertServiceRumor(r types.Rumor)
	ServiceRumors(group string) []types.Rumor

	InsertElectionRumor(r types.ElectionRumor)
	ElectionRumors(group string) []types.ElectionRumor

	InsertUpdateRumor(r types.ElectionRumor)
	UpdateRumors(group string) []types.ElectionRumor

	Close() error
}
