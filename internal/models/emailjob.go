package models

import (
	"time"
)

// JobStatus represents the delivery state of an email job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSent    JobStatus = "sent"
	JobStatusRetry   JobStatus = "retry"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSent || s == JobStatusFailed
}

// EmailJob is one outbound email delivery record derived from a
// notification. State machine:
//
//	pending -> sent                       (terminal)
//	pending -> retry -> pending -> ...    (while attempts < max_attempts)
//	pending -> failed                     (terminal, attempts == max_attempts)
//
// The job holds NotificationID as a plain foreign key; the notification
// never references the job back.
type EmailJob struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewEmailJob creates a pending EmailJob scheduled for immediate delivery.
func NewEmailJob(id, notificationID, recipient string, maxAttempts int) *EmailJob {
	now := time.Now()
	return &EmailJob{
		ID:             id,
		NotificationID: notificationID,
		RecipientEmail: recipient,
		Status:         JobStatusPending,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		ScheduledAt:    now,
		CreatedAt:      now,
	}
}
