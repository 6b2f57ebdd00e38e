package eventsink

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/orbitsup/supervisor/internal/types"
)

func TestEncodeEnvelopeCarriesMemberIDAndService(t *testing.T) {
	snap := Snapshot{
		Group:  "web.default",
		Leader: "node-a",
		Members: []types.CensusEntry{
			{MemberID: "node-a", Alive: true, Package: "core/web/1.0/20260101000000", Incarnation: 3},
		},
		Occurred: time.Unix(0, 1700000000000000000),
	}

	encoded := encodeEnvelope("node-a", snap)
	require.NotEmpty(t, encoded)

	var gotMemberID, gotService string
	var gotType int64
	var payload []byte
	for len(encoded) > 0 {
		num, typ, n := protowire.ConsumeTag(encoded)
		require.Positive(t, n)
		encoded = encoded[n:]

		switch num {
		case envelopeFieldType:
			v, size := protowire.ConsumeVarint(encoded)
			require.Positive(t, size)
			gotType = int64(v)
			encoded = encoded[size:]
		case envelopeFieldMemberID:
			v, size := protowire.ConsumeString(encoded)
			require.Positive(t, size)
			gotMemberID = v
			encoded = encoded[size:]
		case envelopeFieldService:
			v, size := protowire.ConsumeString(encoded)
			require.Positive(t, size)
			gotService = v
			encoded = encoded[size:]
		case envelopeFieldPayload:
			v, size := protowire.ConsumeBytes(encoded)
			require.Positive(t, size)
			payload = v
			encoded = encoded[size:]
		default:
			_ = typ
			t.Fatalf("unexpected envelope field %d", num)
		}
	}

	require.EqualValues(t, envelopeTypeProtoBuf, gotType)
	require.Equal(t, "node-a", gotMemberID)
	require.Equal(t, sinkServiceName, gotService)
	require.NotEmpty(t, payload)
}

func TestEncodeEnvelopePayloadFramesOneLengthPrefixedRecordPerMember(t *testing.T) {
	snap := Snapshot{
		Group:  "web.default",
		Leader: "node-b",
		Members: []types.CensusEntry{
			{MemberID: "node-a", Alive: true, Package: "core/web/1.0/1"},
			{MemberID: "node-b", Alive: true, Package: "core/web/1.0/1"},
		},
		Occurred: time.Unix(0, 0),
	}

	encoded := encodeEnvelope("node-a", snap)

	var payload []byte
	for len(encoded) > 0 {
		num, typ, n := protowire.ConsumeTag(encoded)
		encoded = encoded[n:]
		if num == envelopeFieldPayload {
			v, size := protowire.ConsumeBytes(encoded)
			payload = v
			encoded = encoded[size:]
			continue
		}
		size := protowire.ConsumeFieldValue(num, typ, encoded)
		encoded = encoded[size:]
	}
	require.NotNil(t, payload)

	records := 0
	leaders := 0
	for len(payload) > 0 {
		require.GreaterOrEqual(t, len(payload), 8)
		length := binary.LittleEndian.Uint64(payload[:8])
		payload = payload[8:]
		require.GreaterOrEqual(t, uint64(len(payload)), length)

		record := payload[:length]
		payload = payload[length:]
		records++

		for len(record) > 0 {
			num, typ, n := protowire.ConsumeTag(record)
			record = record[n:]
			switch typ {
			case protowire.VarintType:
				v, size := protowire.ConsumeVarint(record)
				if num == memberFieldLeader && v == 1 {
					leaders++
				}
				record = record[size:]
			case protowire.BytesType:
				_, size := protowire.ConsumeBytes(record)
				record = record[size:]
			}
		}
	}

	require.Equal(t, 2, records)
	require.Equal(t, 1, leaders)
}
