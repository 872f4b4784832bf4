package packet

import (
	"strconv"
	"strings"
	"time"
)

// Field size limits applied at normalization and persistence time.
const (
	MaxPayloadLen = 500
	MaxRawDataLen = 1000
)

// UnknownIP is the sentinel address used when a packet carries no usable
// IP layer.
const UnknownIP = "0.0.0.0"

// Packet is the canonical captured-frame record. It is created once per
// captured frame at normalization time and never mutated afterwards.
// A packet either passes validation or is the tagged default variant,
// distinguishable by a non-empty Error field.
type Packet struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	SourceMAC       string    `json:"sourceMac,omitempty"`
	DestinationMAC  string    `json:"destinationMac,omitempty"`
	SourceIP        string    `json:"sourceIp"`
	DestinationIP   string    `json:"destinationIp"`
	Protocol        string    `json:"protocol"`
	SourcePort      int       `json:"sourcePort"`
	DestinationPort int       `json:"destinationPort"`
	Length          int       `json:"length"`
	TCPFlags        string    `json:"tcpFlags,omitempty"`
	Payload         string    `json:"payload,omitempty"`
	RawData         string    `json:"rawData,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// IsDefault reports whether the packet is the synthesized error/default
// variant rather than a normalized capture record.
func (p *Packet) IsDefault() bool {
	return p.Error != ""
}

// Truncate clamps a string to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// tcpFlagBits extracts the SYN and ACK bits from a tcp.flags value.
// The value is either a hex string such as "0x0012" or a textual token
// list such as "SYN, ACK" depending on the capture layout. ok is false
// when the value is empty.
func tcpFlagBits(flags string) (syn, ack, ok bool) {
	s := strings.TrimSpace(flags)
	if s == "" {
		return false, false, false
	}
	if v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32); err == nil {
		const (
			synBit = 0x02
			ackBit = 0x10
		)
		return v&synBit != 0, v&ackBit != 0, true
	}
	upper := strings.ToUpper(s)
	return strings.Contains(upper, "SYN"), strings.Contains(upper, "ACK"), true
}

// HasSynFlag reports whether a tcp.flags value carries the SYN bit,
// regardless of what other flags accompany it.
func HasSynFlag(flags string) bool {
	syn, _, ok := tcpFlagBits(flags)
	return ok && syn
}

// IsSynOnly reports whether a tcp.flags value has SYN set without ACK,
// the signature of a half-open connection attempt.
func IsSynOnly(flags string) bool {
	syn, ack, ok := tcpFlagBits(flags)
	return ok && syn && !ack
}
