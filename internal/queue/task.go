package queue

import (
	"errors"
	"time"
)

// Status is the remote-visible state of an outbound message. The values
// match the column vocabulary of the remote outbound_messages table.
type Status string

const (
	StatusAccepted         Status = "accepted"
	StatusSending          Status = "sending"
	StatusDownloadingMedia Status = "downloading_media"
	StatusSent             Status = "sent"
	StatusWaitingRetry     Status = "waiting_retry"
	StatusRetrying         Status = "retrying"
	StatusError            Status = "error"
)

var (
	// ErrNoRecipient rejects a task with an empty routing address.
	ErrNoRecipient = errors.New("queue: task has no recipient")
	// ErrNoContent rejects a task carrying neither text nor media.
	ErrNoContent = errors.New("queue: task has neither text nor media")
)

// Task is one outbound delivery unit. It is owned by the queue while
// resident; ownership passes to the transport for the duration of a
// send attempt and returns on failure.
type Task struct {
	ID             string // correlates to the remote outbound record
	Recipient      string
	Text           string
	MediaRef       string // remote URL of media to download before sending
	Attempts       int
	NextEligibleAt time.Time // earliest time a retry may be attempted
	EnqueuedAt     time.Time // FIFO tie-break; reset to the failure time on retry
}

func (t *Task) validate() error {
	if t.Recipient == "" {
		return ErrNoRecipient
	}
	if t.Text == "" && t.MediaRef == "" {
		return ErrNoContent
	}
	return nil
}
