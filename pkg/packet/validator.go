package packet

// Validate gates which normalized packets are eligible for persistence
// and window insertion. Invalid packets are logged and dropped by the
// caller, not stored.
//
// Rules:
//   - any present MAC must be the normalized 12-hex-digit form
//   - any IP other than the unknown sentinel must parse as IPv4/IPv6
//   - if both IPs are the unknown sentinel, at least one MAC is required
//   - both ports must be within [0, 65535]
//   - length must be positive
func Validate(p *Packet) bool {
	if p == nil || p.IsDefault() {
		return false
	}

	if p.SourceMAC != "" && !isValidMAC(p.SourceMAC) {
		return false
	}
	if p.DestinationMAC != "" && !isValidMAC(p.DestinationMAC) {
		return false
	}

	if p.SourceIP != UnknownIP && !isValidIP(p.SourceIP) {
		return false
	}
	if p.DestinationIP != UnknownIP && !isValidIP(p.DestinationIP) {
		return false
	}

	if p.SourceIP == UnknownIP && p.DestinationIP == UnknownIP {
		if p.SourceMAC == "" && p.DestinationMAC == "" {
			return false
		}
	}

	if p.SourcePort < 0 || p.SourcePort > 65535 {
		return false
	}
	if p.DestinationPort < 0 || p.DestinationPort > 65535 {
		return false
	}

	return p.Length > 0
}
