package eventsink

import (
	"encoding/binary"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/orbitsup/supervisor/internal/types"
)

// Snapshot is one census fold's worth of event data for one service
// group, the unit the sink frames and ships.
type Snapshot struct {
	Group    string
	Leader   string
	Members  []types.CensusEntry
	Occurred time.Time
}

// sinkServiceName is the fixed "service" field every envelope carries,
// matching the original supervisor's own eventsrv client identifying
// itself this way regardless of which service groups it reports on.
const sinkServiceName = "habitat-sup"

// envelopeTypeProtoBuf is EventEnvelope_Type::ProtoBuf, the only envelope
// type this supervisor emits.
const envelopeTypeProtoBuf = 0

// Field numbers for the hand-rolled wire format below. There is no
// generated .proto here: the event collector is a fixed, versioned
// internal protocol, so the fields are framed directly with protowire,
// the same low-level encoder protoc-gen-go itself targets.
const (
	envelopeFieldType     = protowire.Number(1)
	envelopeFieldPayload  = protowire.Number(2)
	envelopeFieldMemberID = protowire.Number(3)
	envelopeFieldService  = protowire.Number(4)

	memberFieldID          = protowire.Number(1)
	memberFieldAlive       = protowire.Number(2)
	memberFieldPackage     = protowire.Number(3)
	memberFieldIncarnation = protowire.Number(4)
	memberFieldCfg         = protowire.Number(5)
	memberFieldGroup       = protowire.Number(6)
	memberFieldLeader      = protowire.Number(7)
)

// encodeEnvelope renders snap as an EventEnvelope{type=ProtoBuf, member_id,
// service="habitat-sup", payload}. payload is the concatenation of (u64
// little-endian length, protobuf-encoded CensusEntry bytes) records, one
// per census member, the same double framing (outer envelope length
// prefix, inner per-member length prefix) the original eventsrv client
// built by hand before handing the envelope to its transport.
func encodeEnvelope(memberID string, snap Snapshot) []byte {
	var payload []byte
	for _, m := range snap.Members {
		entry := encodeMember(m, snap.Group, m.MemberID == snap.Leader)

		var length [8]byte
		binary.LittleEndian.PutUint64(length[:], uint64(len(entry)))
		payload = append(payload, length[:]...)
		payload = append(payload, entry...)
	}

	var b []byte
	b = protowire.AppendTag(b, envelopeFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, envelopeTypeProtoBuf)
	b = protowire.AppendTag(b, envelopeFieldMemberID, protowire.BytesType)
	b = protowire.AppendString(b, memberID)
	b = protowire.AppendTag(b, envelopeFieldService, protowire.BytesType)
	b = protowire.AppendString(b, sinkServiceName)
	b = protowire.AppendTag(b, envelopeFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// encodeMember renders one census member as a CensusEntry record,
// stamped with the group and leader status of the snapshot it came from
// since the wire CensusEntry carries that per-member, not per-envelope.
func encodeMember(m types.CensusEntry, group string, isLeader bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, memberFieldID, protowire.BytesType)
	b = protowire.AppendString(b, m.MemberID)

	b = protowire.AppendTag(b, memberFieldAlive, protowire.VarintType)
	alive := uint64(0)
	if m.Alive {
		alive = 1
	}
	b = protowire.AppendVarint(b, alive)

	b = protowire.AppendTag(b, memberFieldPackage, protowire.BytesType)
	b = protowire.AppendString(b, m.Package)

	b = protowire.AppendTag(b, memberFieldIncarnation, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Incarnation)

	if len(m.CfgBytes) > 0 {
		b = protowire.AppendTag(b, memberFieldCfg, protowire.BytesType)
		b = protowire.AppendBytes(b, m.CfgBytes)
	}

	b = protowire.AppendTag(b, memberFieldGroup, protowire.BytesType)
	b = protowire.AppendString(b, group)

	b = protowire.AppendTag(b, memberFieldLeader, protowire.VarintType)
	leaderVal := uint64(0)
	if isLeader {
		leaderVal = 1
	}
	b = protowire.AppendVarint(b, leaderVal)

	return b
}
