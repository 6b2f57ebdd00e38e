package gossip

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"

	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/types"
)

// MemberlistClient is the production Client: SWIM membership over
// hashicorp/memberlist, with service/election/update rumors piggybacked
// on gossip rounds via a TransmitLimitedQueue, the same mechanism
// memberlist itself uses to disseminate membership updates.
type MemberlistClient struct {
	list   *memberlist.Memberlist
	queue  *memberlist.TransmitLimitedQueue
	logger zerolog.Logger

	services  *serviceRumorStore
	elections *electionRumorStore
	updates   *electionRumorStore
}

// Config configures the memberlist transport.
type Config struct {
	NodeName      string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int
	Seeds         []string
	SecretKey     []byte // 16/24/32 bytes, enables gossip encryption
}

// New starts a MemberlistClient bound to cfg and joins any configured
// seeds, returning once the local node is live.
func New(cfg Config, logger zerolog.Logger) (*MemberlistClient, error) {
	c := &MemberlistClient{
		logger:    logger,
		services:  newServiceRumorStore(),
		elections: newElectionRumorStore(),
		updates:   newElectionRumorStore(),
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlConfig.BindPort = cfg.BindPort
	}
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort != 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if len(cfg.SecretKey) > 0 {
		mlConfig.SecretKey = cfg.SecretKey
	}
	mlConfig.Delegate = (*delegate)(c)
	mlConfig.LogOutput = &zerologWriter{logger: logger}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	c.list = list

	c.queue = &memberlist.TransmitLimitedQueue{
		NumNodes:       func() int { return list.NumMembers() },
		RetransmitMult: 3,
	}

	if len(cfg.Seeds) > 0 {
		if _, err := list.Join(cfg.Seeds); err != nil {
			logger.Warn().Err(err).Strs("seeds", cfg.Seeds).Msg("failed to join seed nodes, will retry via later gossip rounds")
		}
	}

	return c, nil
}

// LocalMemberID returns the node name memberlist advertises.
func (c *MemberlistClient) LocalMemberID() string {
	return c.list.LocalNode().Name
}

// Members returns the names of every node currently believed alive.
func (c *MemberlistClient) Members() []string {
	nodes := c.list.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// InsertServiceRumor stores r if newer than what's held and queues it for
// dissemination on the next gossip rounds.
func (c *MemberlistClient) InsertServiceRumor(r types.Rumor) {
	if !c.services.insert(r) {
		return
	}
	c.broadcast(kindService, r, r.ServiceGroup+"/"+r.MemberID)
}

// ServiceRumors returns every member's latest service rumor for group.
func (c *MemberlistClient) ServiceRumors(group string) []types.Rumor {
	return c.services.list(group)
}

// InsertElectionRumor stores r if newer and queues it for dissemination.
func (c *MemberlistClient) InsertElectionRumor(r types.ElectionRumor) {
	if !c.elections.insert(r) {
		return
	}
	c.broadcast(kindElect, r, "election/"+r.ServiceGroup+"/"+r.MemberID)
}

// ElectionRumors returns every member's latest leader-election rumor.
func (c *MemberlistClient) ElectionRumors(group string) []types.ElectionRumor {
	return c.elections.list(group)
}

// InsertUpdateRumor stores r if newer and queues it for dissemination.
func (c *MemberlistClient) InsertUpdateRumor(r types.ElectionRumor) {
	if !c.updates.insert(r) {
		return
	}
	c.broadcast(kindUpdate, r, "update/"+r.ServiceGroup+"/"+r.MemberID)
}

// UpdateRumors returns every member's latest update-election rumor.
func (c *MemberlistClient) UpdateRumors(group string) []types.ElectionRumor {
	return c.updates.list(group)
}

// Close leaves the cluster and tears down the transport.
func (c *MemberlistClient) Close() error {
	if err := c.list.Leave(5 * time.Second); err != nil {
		c.logger.Warn().Err(err).Msg("error leaving memberlist cluster")
	}
	return c.list.Shutdown()
}

func (c *MemberlistClient) broadcast(kind messageKind, v any, invalidateKey string) {
	msg, err := encode(kind, v)
	if err != nil {
		c.logger.Error().Err(err).Str("module", obslog.ModuleGossip).Msg("failed to encode gossip rumor")
		return
	}
	c.queue.QueueBroadcast(&rumorBroadcast{msg: msg, key: invalidateKey})
}

// rumorBroadcast implements memberlist.Broadcast. A later rumor for the
// same (kind, group, member) tuple invalidates an earlier, still-pending
// one, so the queue never wastes a gossip round resending stale state.
type rumorBroadcast struct {
	msg []byte
	key string
}

func (b *rumorBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*rumorBroadcast)
	return ok && o.key == b.key
}

func (b *rumorBroadcast) Message() []byte { return b.msg }
func (b *rumorBroadcast) Finished()       {}

// delegate adapts MemberlistClient to memberlist.Delegate. It is defined
// as a distinct named type over *MemberlistClient so the Delegate methods
// don't pollute MemberlistClient's public API.
type delegate MemberlistClient

func (d *delegate) NodeMeta(limit int) []byte { return nil }

func (d *delegate) NotifyMsg(raw []byte) {
	kind, body, err := decode(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("dropping malformed gossip message")
		return
	}
	switch kind {
	case kindService:
		r, err := decodeServiceRumor(body)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping malformed service rumor")
			return
		}
		d.services.insert(r)
	case kindElect:
		r, err := decodeElectionRumor(body)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping malformed election rumor")
			return
		}
		d.elections.insert(r)
	case kindUpdate:
		r, err := decodeElectionRumor(body)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping malformed update rumor")
			return
		}
		d.updates.insert(r)
	}
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte {
	return d.queue.GetBroadcasts(overhead, limit)
}

func (d *delegate) LocalState(join bool) []byte { return nil }

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

// zerologWriter adapts zerolog.Logger to the io.Writer memberlist wants
// for its own internal logging.
type zerologWriter struct {
	logger zerolog.Logger
}

func (w *zerologWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Debug().Msg(msg)
	return len(p), nil
}
