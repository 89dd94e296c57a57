package model

import (
	"encoding/json"
	"time"
)

// Answer holds the latest checkpointed state for one question of one
// attempt. The payload is opaque to the session core; grading interprets
// it. Uniqueness on (attempt_id, question_id) makes checkpoint upserts
// idempotent under client retries.
type Answer struct {
	ID         uint `gorm:"primarykey" json:"id"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`

	Answer json.RawMessage `json:"answer" gorm:"type:jsonb"`

	IsFlagged        bool `json:"is_flagged" gorm:"default:false"`
	TimeSpentSeconds int  `json:"time_spent_seconds" gorm:"default:0"`
	// Sequence is server-authoritative: incremented exactly once per
	// accepted checkpoint commit.
	Sequence int `json:"sequence" gorm:"default:0"`

	FirstAnsweredAt *time.Time `json:"first_answered_at,omitempty"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	CreatedAt       time.Time  `json:"created_at"`
}
