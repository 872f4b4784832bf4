package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the detection rule that produced an anomaly.
type Type string

const (
	TypeDDoSAttack          Type = "DDoS Attack"
	TypePortScanning        Type = "Port Scanning"
	TypeSynFloodAttack      Type = "SYN Flood Attack"
	TypeMLDetectedAnomaly   Type = "ML Detected Anomaly"
	TypeMLDDoSDetection     Type = "ML DDoS Detection"
	TypeMLPortScanDetection Type = "ML Port Scan Detection"
)

// Severity grades how urgent an anomaly is.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Anomaly is a single detected traffic irregularity.
type Anomaly struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        Type      `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	PacketID    string    `json:"packetId,omitempty"`
}

// New builds an anomaly stamped with a fresh ID and the given time.
func New(ts time.Time, typ Type, severity Severity, description string) Anomaly {
	return Anomaly{
		ID:          uuid.New().String(),
		Timestamp:   ts,
		Type:        typ,
		Severity:    severity,
		Description: description,
	}
}
