package models

import (
	"time"
)

// Direction indicates whether the threat traffic was inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Alert is one detected sensor security event. Alerts are created by the
// ingestor, persisted by the queue consumer, and consumed exactly once by
// the aggregator (NotificationProcessed flips true and never back).
type Alert struct {
	ID                    string    `json:"id"`
	Timestamp             time.Time `json:"timestamp"`
	Hostname              string    `json:"hostname"`
	Direction             Direction `json:"direction"`
	ThreatIP              string    `json:"threat_ip"`
	TargetIP              string    `json:"target_ip"`
	Country               string    `json:"country,omitempty"`
	Protocol              string    `json:"protocol"`
	SourcePort            int       `json:"source_port,omitempty"`
	SourceIP              string    `json:"source_ip,omitempty"`
	DestinationPort       int       `json:"destination_port,omitempty"`
	DestinationIP         string    `json:"destination_ip,omitempty"`
	CustomerID            string    `json:"customer_id,omitempty"` // empty = unassigned
	NotificationProcessed bool      `json:"notification_processed"`
	CreatedAt             time.Time `json:"created_at"`
}

// NewAlert creates an Alert with an initialized creation timestamp.
func NewAlert(id string) *Alert {
	return &Alert{
		ID:        id,
		CreatedAt: time.Now(),
	}
}
