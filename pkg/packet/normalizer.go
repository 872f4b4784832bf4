package packet

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recognized capture-tool output layouts, in detection priority order:
//
//  1. ElasticSearch export: {"_source": {"layers": {...}}}
//  2. Standard tshark JSON:  {"layers": {...}}
//  3. Dotted-key flat map:   {"eth.src": [...], "ip.dst": [...], ...}
//  4. Per-protocol nesting:  {"frame": {...}, "eth": {...}, "ip": {...}}
//  5. Flat snake_case:       {"source_ip": "...", "destination_port": 80}
//
// Every layout is projected into a common dotted-key map before field
// extraction. Normalization is total: unrecognized or broken input yields
// a tagged default packet, never an error.

// Normalize converts one parsed JSON frame into a canonical Packet.
func Normalize(raw json.RawMessage) Packet {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return defaultPacket("frame is not valid JSON: "+err.Error(), raw)
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return defaultPacket(fmt.Sprintf("frame is not an object (%T)", value), raw)
	}

	layers := projectLayers(obj)
	if layers == nil {
		return defaultPacket("unrecognized packet layout", raw)
	}

	p := Packet{
		ID:            uuid.New().String(),
		Timestamp:     extractTimestamp(layers),
		SourceIP:      UnknownIP,
		DestinationIP: UnknownIP,
		Protocol:      "UNKNOWN",
		RawData:       Truncate(string(raw), MaxRawDataLen),
	}

	if mac := firstValue(layers, "eth.src"); isValidMAC(mac) {
		p.SourceMAC = formatMAC(mac)
	}
	if mac := firstValue(layers, "eth.dst"); isValidMAC(mac) {
		p.DestinationMAC = formatMAC(mac)
	}

	if ip := coalesce(layers, "ip.src", "ipv6.src"); isValidIP(ip) {
		p.SourceIP = ip
	}
	if ip := coalesce(layers, "ip.dst", "ipv6.dst"); isValidIP(ip) {
		p.DestinationIP = ip
	}

	if proto := extractProtocol(layers); proto != "" {
		p.Protocol = proto
	}

	p.SourcePort = parsePort(coalesce(layers, "tcp.srcport", "udp.srcport"))
	p.DestinationPort = parsePort(coalesce(layers, "tcp.dstport", "udp.dstport"))

	if raw := coalesce(layers, "frame.len", "ip.len"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			p.Length = n
		}
	}

	p.TCPFlags = firstValue(layers, "tcp.flags")

	if data := coalesce(layers, "data", "http.request", "http.response", "http.file_data"); data != "" {
		p.Payload = Truncate(data, MaxPayloadLen)
	}

	return p
}

// projectLayers detects the layout of a parsed frame and projects it into
// a dotted-key map. Returns nil when no layout matches.
func projectLayers(obj map[string]interface{}) map[string]interface{} {
	if source, ok := obj["_source"].(map[string]interface{}); ok {
		if layers, ok := source["layers"].(map[string]interface{}); ok {
			return layers
		}
	}

	if layers, ok := obj["layers"].(map[string]interface{}); ok {
		return layers
	}

	for key := range obj {
		if strings.Contains(key, ".") {
			return obj
		}
	}

	if hasAnyKey(obj, "frame", "eth", "ip", "ipv6", "tcp", "udp", "http", "tls", "dns", "icmp") {
		layers := make(map[string]interface{})
		for _, proto := range []string{"frame", "eth", "ip", "ipv6", "tcp", "udp", "http", "tls", "dns", "icmp"} {
			if nested, ok := obj[proto].(map[string]interface{}); ok {
				copyNested(nested, layers, proto)
			}
		}
		if proto, ok := obj["protocol"].(string); ok {
			layers["_ws.col.protocol"] = []interface{}{proto}
		}
		return layers
	}

	if hasAnyKey(obj, "timestamp", "source_ip", "destination_ip") {
		layers := make(map[string]interface{})
		if ts, ok := obj["timestamp"].(string); ok {
			if t, err := parseTimeString(ts); err == nil {
				layers["frame.time_epoch"] = []interface{}{strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)}
			}
		}
		flat := map[string]string{
			"source_mac":       "eth.src",
			"destination_mac":  "eth.dst",
			"source_ip":        "ip.src",
			"destination_ip":   "ip.dst",
			"source_port":      "tcp.srcport",
			"destination_port": "tcp.dstport",
			"protocol":         "_ws.col.protocol",
			"length":           "frame.len",
			"tcp_flags":        "tcp.flags",
		}
		for from, to := range flat {
			if v, ok := obj[from]; ok {
				layers[to] = []interface{}{stringify(v)}
			}
		}
		return layers
	}

	return nil
}

// copyNested flattens a per-protocol object into dotted keys under prefix.
// Scalar and array values become leaf entries; nested objects recurse.
func copyNested(source, target map[string]interface{}, prefix string) {
	for key, value := range source {
		fullKey := prefix + "." + key
		switch v := value.(type) {
		case map[string]interface{}:
			copyNested(v, target, fullKey)
		case []interface{}:
			target[fullKey] = v
		default:
			target[fullKey] = []interface{}{stringify(v)}
		}
	}
}

func hasAnyKey(obj map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// firstValue returns the first scalar value for a dotted field, handling
// both array-wrapped and bare values.
func firstValue(layers map[string]interface{}, field string) string {
	value, ok := layers[field]
	if !ok || value == nil {
		return ""
	}
	if arr, ok := value.([]interface{}); ok {
		if len(arr) == 0 {
			return ""
		}
		return stringify(arr[0])
	}
	return stringify(value)
}

func coalesce(layers map[string]interface{}, fields ...string) string {
	for _, f := range fields {
		if v := firstValue(layers, f); v != "" {
			return v
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode to float64; ports and lengths are integral.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// extractTimestamp prefers the epoch-seconds field, falls back to the
// formatted time string, and defaults to ingestion time.
func extractTimestamp(layers map[string]interface{}) time.Time {
	if epoch := firstValue(layers, "frame.time_epoch"); epoch != "" {
		if f, err := strconv.ParseFloat(epoch, 64); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec)
		}
	}
	if ts := firstValue(layers, "frame.time"); ts != "" {
		if t, err := parseTimeString(ts); err == nil {
			return t
		}
	}
	return time.Now()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"Jan  2, 2006 15:04:05.000000000 MST",
	"Jan 2, 2006 15:04:05.000000000 MST",
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time: %q", s)
}

// extractProtocol takes the last colon-delimited segment of the protocol
// stack string, uppercased. tshark reports e.g. "eth:ethertype:ip:tcp".
func extractProtocol(layers map[string]interface{}) string {
	raw := coalesce(layers, "_ws.col.protocol", "frame.protocols")
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, ":")
	last := strings.TrimSpace(parts[len(parts)-1])
	return strings.ToUpper(last)
}

// parsePort accepts hex (0x-prefixed) or decimal port strings and clamps
// anything invalid or out of [0, 65535] to 0.
func parsePort(raw string) int {
	if raw == "" {
		return 0
	}
	var port int64
	var err error
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		port, err = strconv.ParseInt(raw[2:], 16, 32)
	} else {
		port, err = strconv.ParseInt(raw, 10, 32)
	}
	if err != nil || port < 0 || port > 65535 {
		return 0
	}
	return int(port)
}

// isValidMAC accepts any separator style as long as exactly 12 hex digits
// remain after stripping.
func isValidMAC(mac string) bool {
	return len(stripMAC(mac)) == 12
}

// formatMAC normalizes a MAC address to colon-separated lowercase.
func formatMAC(mac string) string {
	hex := stripMAC(mac)
	if len(hex) != 12 {
		return ""
	}
	pairs := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		pairs = append(pairs, hex[i:i+2])
	}
	return strings.Join(pairs, ":")
}

func stripMAC(mac string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(mac) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		} else if r != ':' && r != '-' && r != '.' {
			return ""
		}
	}
	return b.String()
}

func isValidIP(ip string) bool {
	return ip != "" && net.ParseIP(ip) != nil
}

// defaultPacket synthesizes the tagged error variant with sentinel values.
func defaultPacket(reason string, raw json.RawMessage) Packet {
	rawData := "null"
	if len(raw) > 0 {
		rawData = Truncate(string(raw), MaxPayloadLen)
	}
	return Packet{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		SourceIP:      UnknownIP,
		DestinationIP: UnknownIP,
		Protocol:      "UNKNOWN",
		Error:         reason,
		RawData:       rawData,
	}
}
