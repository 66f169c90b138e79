package models

import (
	"time"
)

// Customer is a notification recipient. Customer records are owned by an
// external provisioning system; this pipeline only reads them.
type Customer struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	NotificationEnabled bool      `json:"notification_enabled"`
	CreatedAt           time.Time `json:"created_at"`
}
