package analysis

import (
	"sort"
	"time"

	"github.com/netsentry/netsentry/pkg/packet"
)

const topTalkerCount = 5

// IPCount pairs an address with how many packets it appeared on.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// TrafficStats summarizes the analysis window for the live dashboard.
type TrafficStats struct {
	TotalPackets         int            `json:"totalPackets"`
	PacketsPerSecond     int            `json:"packetsPerSecond"`
	AveragePacketSize    float64        `json:"averagePacketSize"`
	ProtocolDistribution map[string]int `json:"protocolDistribution"`
	TopSourceIPs         []IPCount      `json:"topSourceIps"`
	TopDestinationIPs    []IPCount      `json:"topDestinationIps"`
}

// ComputeStats derives window statistics at the given instant.
func ComputeStats(packets []packet.Packet, now time.Time) TrafficStats {
	stats := TrafficStats{
		TotalPackets:         len(packets),
		ProtocolDistribution: make(map[string]int),
	}

	cutoff := now.Add(-time.Second)
	totalSize := 0
	sources := make(map[string]int)
	destinations := make(map[string]int)

	for i := range packets {
		p := &packets[i]
		totalSize += p.Length
		if p.Timestamp.After(cutoff) {
			stats.PacketsPerSecond++
		}
		if p.Protocol != "" {
			stats.ProtocolDistribution[p.Protocol]++
		}
		if p.SourceIP != packet.UnknownIP {
			sources[p.SourceIP]++
		}
		if p.DestinationIP != packet.UnknownIP {
			destinations[p.DestinationIP]++
		}
	}

	if len(packets) > 0 {
		stats.AveragePacketSize = float64(totalSize) / float64(len(packets))
	}
	stats.TopSourceIPs = topTalkers(sources)
	stats.TopDestinationIPs = topTalkers(destinations)

	return stats
}

// topTalkers returns the five busiest addresses, ties broken by address
// so output is stable.
func topTalkers(counts map[string]int) []IPCount {
	out := make([]IPCount, 0, len(counts))
	for ip, count := range counts {
		out = append(out, IPCount{IP: ip, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > topTalkerCount {
		out = out[:topTalkerCount]
	}
	return out
}
