package models

import (
	"time"
)

// Notification aggregates alerts from one threat IP against one customer.
// At most one open (EmailSent=false) notification exists per
// (customer_id, threat_ip) pair; the storage layer enforces this with an
// atomic upsert. Once EmailSent flips true the record is terminal and a
// fresh notification may open for renewed activity on the same pair.
type Notification struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	ThreatIP    string     `json:"threat_ip"`
	AlertCount  int        `json:"alert_count"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Countries   []string   `json:"countries"`
	EmailSent   bool       `json:"email_sent"`
	EmailSentAt *time.Time `json:"email_sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NotificationDelta is one grouped batch of alert activity to fold into
// the open notification for a (customer, threat IP) pair.
type NotificationDelta struct {
	CustomerID string
	ThreatIP   string
	AlertCount int
	FirstSeen  time.Time
	LastSeen   time.Time
	Countries  []string
}
