package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGraded     AttemptStatus = "graded"
	AttemptExpired    AttemptStatus = "expired"
	AttemptCancelled  AttemptStatus = "cancelled"
)

// QuestionIDList is stored as a jsonb array of question ids.
type QuestionIDList []uint

func (l QuestionIDList) Value() (driver.Value, error) {
	if l == nil {
		l = QuestionIDList{}
	}
	return json.Marshal(l)
}

func (l *QuestionIDList) Scan(value interface{}) error {
	if value == nil {
		*l = QuestionIDList{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.Errorf("cannot scan %T into QuestionIDList", value)
		}
	}
	return json.Unmarshal(b, l)
}

func (l QuestionIDList) Contains(questionID uint) bool {
	for _, id := range l {
		if id == questionID {
			return true
		}
	}
	return false
}

func (l QuestionIDList) Without(questionID uint) QuestionIDList {
	out := make(QuestionIDList, 0, len(l))
	for _, id := range l {
		if id != questionID {
			out = append(out, id)
		}
	}
	return out
}

// Attempt is one student's timed instance of taking one exam. The session
// core never creates or deletes attempts; it reads status/expiry and
// mutates the workstation binding and flagged-question set.
type Attempt struct {
	ID        uint          `gorm:"primarykey" json:"id"`
	StudentID uint          `json:"student_id" gorm:"not null;index"`
	ExamID    uint          `json:"exam_id" gorm:"not null;index"`
	Status    AttemptStatus `json:"status" gorm:"not null;default:'not_started'"`

	StartTime       *time.Time `json:"start_time,omitempty"`
	SubmitTime      *time.Time `json:"submit_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null"`

	// Workstation tracking
	WorkstationID        string `json:"workstation_id"`
	InitialWorkstationID string `json:"initial_workstation_id"`
	TransferCount        int    `json:"transfer_count" gorm:"default:0"`

	// Progress tracking
	CurrentQuestionID *uint          `json:"current_question_id,omitempty"`
	QuestionsAnswered int            `json:"questions_answered" gorm:"default:0"`
	QuestionsFlagged  QuestionIDList `json:"questions_flagged" gorm:"type:jsonb"`
	LastActivityTime  *time.Time     `json:"last_activity_time,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Attempt) IsActive() bool {
	return a.Status == AttemptInProgress
}

// IsExpired reports whether the attempt has exceeded its duration.
func (a *Attempt) IsExpired() bool {
	if a.StartTime == nil {
		return false
	}
	if a.Status != AttemptInProgress && a.Status != AttemptNotStarted {
		return false
	}
	return time.Since(*a.StartTime) > time.Duration(a.DurationMinutes)*time.Minute
}

// TimeRemainingSeconds returns the remaining time on the clock, floored at zero.
func (a *Attempt) TimeRemainingSeconds() int {
	if a.StartTime == nil {
		return a.DurationMinutes * 60
	}
	if a.Status == AttemptSubmitted || a.Status == AttemptGraded {
		return 0
	}
	remaining := a.DurationMinutes*60 - int(time.Since(*a.StartTime).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (a *Attempt) ElapsedSeconds() int {
	if a.StartTime == nil {
		return 0
	}
	return int(time.Since(*a.StartTime).Seconds())
}
