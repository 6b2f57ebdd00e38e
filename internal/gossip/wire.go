package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/orbitsup/supervisor/internal/types"
)

// messageKind tags the three rumor kinds piggybacked on gossip, since
// memberlist delivers NotifyMsg as an undifferentiated byte slice.
type messageKind byte

const (
	kindService messageKind = 1
	kindElect   messageKind = 2
	kindUpdate  messageKind = 3
)

// encode prefixes a JSON-encoded rumor with its kind byte. JSON, not a
// binary format, because rumor payloads are small and infrequent compared
// to the per-node census/event-sink traffic that justifies protobuf
// framing there.
func encode(kind messageKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode gossip message: %w", err)
	}
	return append([]byte{byte(kind)}, body...), nil
}

func decode(raw []byte) (messageKind, []byte, error) {
	if len(raw) < 1 {
		return 0, nil, fmt.Errorf("empty gossip message")
	}
	return messageKind(raw[0]), raw[1:], nil
}

func decodeServiceRumor(body []byte) (types.Rumor, error) {
	var r types.Rumor
	err := json.Unmarshal(body, &r)
	return r, err
}

func decodeElectionRumor(body []byte) (types.ElectionRumor, error) {
	var r types.ElectionRumor
	err := json.Unmarshal(body, &r)
	return r, err
}
