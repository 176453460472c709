package model

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter records a work request that exhausted its retries.
type DeadLetter struct {
	ID            uuid.UUID   `json:"id"`
	Request       WorkRequest `json:"request"`
	FinalAttempts uint8       `json:"final_attempts"`
	Reason        string      `json:"reason"`
	RecordedAt    time.Time   `json:"recorded_at"`
}
