package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/packet"
)

const (
	ddosWindow     = time.Second
	synFloodWindow = 5 * time.Second
)

// DetectDDoS flags a volumetric flood when more packets than the
// threshold arrived within the last second.
func DetectDDoS(packets []packet.Packet, now time.Time, thresholds config.ThresholdsConfig) *anomaly.Anomaly {
	cutoff := now.Add(-ddosWindow)
	count := 0
	for i := range packets {
		if packets[i].Timestamp.After(cutoff) {
			count++
		}
	}
	if count <= thresholds.DDoSPacketsPerSecond {
		return nil
	}

	a := anomaly.New(now, anomaly.TypeDDoSAttack, anomaly.SeverityHigh,
		fmt.Sprintf("Unusually high traffic: %d packets in the last second (threshold %d)",
			count, thresholds.DDoSPacketsPerSecond))
	return &a
}

// DetectPortScan groups window packets by source IP and flags every IP
// that touched more distinct destination ports than the threshold, one
// anomaly per offending IP. Port counts are never pooled across
// sources; many hosts each probing a few ports raise nothing.
func DetectPortScan(packets []packet.Packet, now time.Time, thresholds config.ThresholdsConfig) []anomaly.Anomaly {
	portsByIP := make(map[string]map[int]struct{})
	for i := range packets {
		port := packets[i].DestinationPort
		if port <= 0 {
			continue
		}
		ip := packets[i].SourceIP
		if ip == "" || ip == packet.UnknownIP {
			continue
		}
		ports := portsByIP[ip]
		if ports == nil {
			ports = make(map[int]struct{})
			portsByIP[ip] = ports
		}
		ports[port] = struct{}{}
	}

	var offenders []string
	for ip, ports := range portsByIP {
		if len(ports) > thresholds.PortScanDistinctPorts {
			offenders = append(offenders, ip)
		}
	}
	sort.Strings(offenders)

	var out []anomaly.Anomaly
	for _, ip := range offenders {
		out = append(out, anomaly.New(now, anomaly.TypePortScanning, anomaly.SeverityMedium,
			fmt.Sprintf("Possible port scan from %s: %d distinct destination ports probed (threshold %d)",
				ip, len(portsByIP[ip]), thresholds.PortScanDistinctPorts)))
	}
	return out
}

// DetectSynFlood flags half-open connection floods when TCP packets
// carrying the SYN flag within the last five seconds exceed the
// threshold.
func DetectSynFlood(packets []packet.Packet, now time.Time, thresholds config.ThresholdsConfig) *anomaly.Anomaly {
	cutoff := now.Add(-synFloodWindow)
	count := 0
	for i := range packets {
		if packets[i].Protocol != "TCP" {
			continue
		}
		if packets[i].Timestamp.After(cutoff) && packet.HasSynFlag(packets[i].TCPFlags) {
			count++
		}
	}
	if count <= thresholds.SynFloodPacketsPerWindow {
		return nil
	}

	a := anomaly.New(now, anomaly.TypeSynFloodAttack, anomaly.SeverityHigh,
		fmt.Sprintf("Possible SYN flood: %d SYN packets in the last 5 seconds (threshold %d)",
			count, thresholds.SynFloodPacketsPerWindow))
	return &a
}
