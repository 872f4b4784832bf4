package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatsEmptyWindow(t *testing.T) {
	stats := ComputeStats(nil, time.Now())

	assert.Zero(t, stats.TotalPackets)
	assert.Zero(t, stats.PacketsPerSecond)
	assert.Zero(t, stats.AveragePacketSize)
	assert.Empty(t, stats.TopSourceIPs)
}

func TestComputeStatsAggregates(t *testing.T) {
	now := time.Now()
	packets := []packet.Packet{
		{Timestamp: now.Add(-200 * time.Millisecond), SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2", Protocol: "TCP", Length: 100},
		{Timestamp: now.Add(-300 * time.Millisecond), SourceIP: "10.0.0.1", DestinationIP: "10.0.0.3", Protocol: "TCP", Length: 200},
		{Timestamp: now.Add(-5 * time.Second), SourceIP: "10.0.0.4", DestinationIP: "10.0.0.2", Protocol: "UDP", Length: 300},
	}

	stats := ComputeStats(packets, now)

	assert.Equal(t, 3, stats.TotalPackets)
	assert.Equal(t, 2, stats.PacketsPerSecond)
	assert.InDelta(t, 200.0, stats.AveragePacketSize, 0.001)
	assert.Equal(t, map[string]int{"TCP": 2, "UDP": 1}, stats.ProtocolDistribution)

	require.NotEmpty(t, stats.TopSourceIPs)
	assert.Equal(t, IPCount{IP: "10.0.0.1", Count: 2}, stats.TopSourceIPs[0])
	assert.Equal(t, IPCount{IP: "10.0.0.2", Count: 2}, stats.TopDestinationIPs[0])
}

func TestComputeStatsSkipsUnknownAddresses(t *testing.T) {
	now := time.Now()
	packets := []packet.Packet{
		{Timestamp: now, SourceIP: packet.UnknownIP, DestinationIP: packet.UnknownIP, Length: 64},
	}

	stats := ComputeStats(packets, now)
	assert.Empty(t, stats.TopSourceIPs)
	assert.Empty(t, stats.TopDestinationIPs)
}

func TestTopTalkersCapsAtFiveAndOrdersStably(t *testing.T) {
	counts := make(map[string]int)
	for i := 0; i < 8; i++ {
		counts[fmt.Sprintf("10.0.0.%d", i)] = 1
	}
	counts["10.0.0.100"] = 50

	top := topTalkers(counts)

	require.Len(t, top, 5)
	assert.Equal(t, "10.0.0.100", top[0].IP)
	// Equal counts fall back to address ordering.
	assert.Equal(t, "10.0.0.0", top[1].IP)
	assert.Equal(t, "10.0.0.1", top[2].IP)
}
