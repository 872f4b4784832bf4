package mlclient

import (
	"github.com/netsentry/netsentry/pkg/packet"
)

// protocolCodes maps common protocols to stable numeric feature values.
// Unlisted protocols share code 0.
var protocolCodes = map[string]float64{
	"TCP":  1,
	"UDP":  2,
	"ICMP": 3,
	"DNS":  4,
	"HTTP": 5,
	"TLS":  6,
	"ARP":  7,
}

// FeaturesFromPacket renders a packet as the numeric feature vector the
// model was trained on.
func FeaturesFromPacket(p packet.Packet) Features {
	var synOnly float64
	if packet.IsSynOnly(p.TCPFlags) {
		synOnly = 1
	}

	return Features{
		"length":           float64(p.Length),
		"source_port":      float64(p.SourcePort),
		"destination_port": float64(p.DestinationPort),
		"protocol":         protocolCodes[p.Protocol],
		"syn_only":         synOnly,
		"hour_of_day":      float64(p.Timestamp.Hour()),
	}
}

// FeaturesFromPackets converts up to limit packets to feature vectors.
func FeaturesFromPackets(packets []packet.Packet, limit int) []Features {
	if limit > 0 && len(packets) > limit {
		packets = packets[:limit]
	}
	out := make([]Features, 0, len(packets))
	for i := range packets {
		out = append(out, FeaturesFromPacket(packets[i]))
	}
	return out
}
