package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{
		DDoSPacketsPerSecond:     200,
		PortScanDistinctPorts:    15,
		SynFloodPacketsPerWindow: 100,
	}
}

func burst(n int, now time.Time, age time.Duration) []packet.Packet {
	packets := make([]packet.Packet, n)
	for i := range packets {
		packets[i] = packet.Packet{
			ID:        fmt.Sprintf("p%d", i),
			Timestamp: now.Add(-age),
			SourceIP:  "10.0.0.1",
			Length:    64,
		}
	}
	return packets
}

func TestDetectDDoSFlagsBurstAboveThreshold(t *testing.T) {
	now := time.Now()
	a := DetectDDoS(burst(250, now, 500*time.Millisecond), now, testThresholds())

	require.NotNil(t, a)
	assert.Equal(t, anomaly.TypeDDoSAttack, a.Type)
	assert.Equal(t, anomaly.SeverityHigh, a.Severity)
	assert.Contains(t, a.Description, "250 packets")
}

func TestDetectDDoSIgnoresTrafficAtThreshold(t *testing.T) {
	now := time.Now()
	assert.Nil(t, DetectDDoS(burst(200, now, 500*time.Millisecond), now, testThresholds()))
}

func TestDetectDDoSIgnoresOldTraffic(t *testing.T) {
	now := time.Now()
	assert.Nil(t, DetectDDoS(burst(250, now, 3*time.Second), now, testThresholds()))
}

func portProbe(sourceIP string, ports int, now time.Time) []packet.Packet {
	packets := make([]packet.Packet, ports)
	for i := range packets {
		packets[i] = packet.Packet{
			ID:              fmt.Sprintf("%s-p%d", sourceIP, i),
			Timestamp:       now,
			SourceIP:        sourceIP,
			DestinationPort: 1000 + i,
			Length:          40,
		}
	}
	return packets
}

func TestDetectPortScanFlagsOffendingSourceIP(t *testing.T) {
	now := time.Now()
	anomalies := DetectPortScan(portProbe("10.0.0.9", 16, now), now, testThresholds())

	require.Len(t, anomalies, 1)
	assert.Equal(t, anomaly.TypePortScanning, anomalies[0].Type)
	assert.Equal(t, anomaly.SeverityMedium, anomalies[0].Severity)
	assert.Contains(t, anomalies[0].Description, "10.0.0.9")
	assert.Contains(t, anomalies[0].Description, "16 distinct")
}

func TestDetectPortScanIgnoresFewPorts(t *testing.T) {
	now := time.Now()
	assert.Empty(t, DetectPortScan(portProbe("10.0.0.9", 10, now), now, testThresholds()))
}

func TestDetectPortScanNeverPoolsPortsAcrossSources(t *testing.T) {
	now := time.Now()
	// 20 distinct ports in the window, but no single IP above threshold.
	packets := append(portProbe("10.0.0.1", 10, now), portProbe("10.0.0.2", 10, now)...)
	for i := 10; i < 20; i++ {
		packets[i].DestinationPort = 2000 + i
	}

	assert.Empty(t, DetectPortScan(packets, now, testThresholds()))
}

func TestDetectPortScanFlagsOnlyScanningIP(t *testing.T) {
	now := time.Now()
	packets := append(portProbe("10.0.0.1", 16, now), portProbe("10.0.0.2", 10, now)...)

	anomalies := DetectPortScan(packets, now, testThresholds())
	require.Len(t, anomalies, 1)
	assert.Contains(t, anomalies[0].Description, "10.0.0.1")
}

func TestDetectPortScanFlagsEachOffendingIP(t *testing.T) {
	now := time.Now()
	packets := append(portProbe("10.0.0.2", 16, now), portProbe("10.0.0.1", 16, now)...)

	anomalies := DetectPortScan(packets, now, testThresholds())
	require.Len(t, anomalies, 2)
	assert.Contains(t, anomalies[0].Description, "10.0.0.1")
	assert.Contains(t, anomalies[1].Description, "10.0.0.2")
}

func TestDetectPortScanIgnoresPortZeroAndUnknownSource(t *testing.T) {
	now := time.Now()
	packets := portProbe("10.0.0.9", 15, now)
	// Port 0 marks "no port information", not a probed port; packets
	// without a source IP cannot name a scanner.
	packets = append(packets,
		packet.Packet{ID: "z", Timestamp: now, SourceIP: "10.0.0.9", DestinationPort: 0, Length: 40},
		packet.Packet{ID: "u", Timestamp: now, SourceIP: packet.UnknownIP, DestinationPort: 3000, Length: 40},
	)
	assert.Empty(t, DetectPortScan(packets, now, testThresholds()))
}

func synBurst(n int, now time.Time, flags string) []packet.Packet {
	packets := make([]packet.Packet, n)
	for i := range packets {
		packets[i] = packet.Packet{
			ID:        fmt.Sprintf("s%d", i),
			Timestamp: now.Add(-2 * time.Second),
			Protocol:  "TCP",
			TCPFlags:  flags,
			Length:    60,
		}
	}
	return packets
}

func TestDetectSynFloodFlagsSynBurst(t *testing.T) {
	now := time.Now()
	a := DetectSynFlood(synBurst(150, now, "0x0002"), now, testThresholds())

	require.NotNil(t, a)
	assert.Equal(t, anomaly.TypeSynFloodAttack, a.Type)
	assert.Equal(t, anomaly.SeverityHigh, a.Severity)
}

func TestDetectSynFloodCountsAnyPacketWithSynSet(t *testing.T) {
	now := time.Now()
	// SYN carried alongside other flags still counts; the rule matches
	// the flag, not the exact half-open signature.
	require.NotNil(t, DetectSynFlood(synBurst(150, now, "0x0012"), now, testThresholds()))
}

func TestDetectSynFloodAcceptsTextualFlags(t *testing.T) {
	now := time.Now()
	a := DetectSynFlood(synBurst(150, now, "SYN"), now, testThresholds())

	require.NotNil(t, a)
	assert.Contains(t, a.Description, "150 SYN packets")
}

func TestDetectSynFloodIgnoresNonTCP(t *testing.T) {
	now := time.Now()
	packets := synBurst(150, now, "0x0002")
	for i := range packets {
		packets[i].Protocol = "UDP"
	}
	assert.Nil(t, DetectSynFlood(packets, now, testThresholds()))
}

func TestDetectSynFloodIgnoresPacketsOutsideWindow(t *testing.T) {
	now := time.Now()
	packets := synBurst(150, now, "0x0002")
	for i := range packets {
		packets[i].Timestamp = now.Add(-10 * time.Second)
	}
	assert.Nil(t, DetectSynFlood(packets, now, testThresholds()))
}
