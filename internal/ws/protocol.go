package ws

import (
	"encoding/json"
	"time"
)

// MessageType discriminates every frame on the session socket.
type MessageType string

const (
	// Client -> server
	TypePong       MessageType = "pong"
	TypeCheckpoint MessageType = "checkpoint"
	TypeTimeSync   MessageType = "time_sync"
	TypeFlag       MessageType = "flag"

	// Server -> client
	TypeConnected         MessageType = "connected"
	TypePing              MessageType = "ping"
	TypeCheckpointAck     MessageType = "checkpoint_ack"
	TypeCheckpointError   MessageType = "checkpoint_error"
	TypeTimeUpdate        MessageType = "time_update"
	TypeNotification      MessageType = "notification"
	TypeError             MessageType = "error"
	TypeExamEvent         MessageType = "exam_event"
	TypeTransferRequested MessageType = "transfer_requested"
	TypeTransferApproved  MessageType = "transfer_approved"
	TypeTransferRejected  MessageType = "transfer_rejected"
	TypeTransferCompleted MessageType = "transfer_completed"
)

// ClientMessage is the inbound envelope. Fields are populated depending
// on Type; the answer payload stays opaque to the session core.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// checkpoint / flag
	QuestionID       uint            `json:"question_id,omitempty"`
	Answer           json.RawMessage `json:"answer,omitempty"`
	IsFlagged        bool            `json:"is_flagged,omitempty"`
	TimeSpentSeconds int             `json:"time_spent_seconds,omitempty"`
	Sequence         int             `json:"sequence,omitempty"`

	// time_sync
	ClientTimestamp string `json:"client_timestamp,omitempty"`
}

type ConnectedMessage struct {
	Type                 MessageType `json:"type"`
	ConnectionID         string      `json:"connection_id"`
	AttemptID            uint        `json:"attempt_id"`
	ServerTime           time.Time   `json:"server_time"`
	TimeRemainingSeconds int         `json:"time_remaining_seconds"`
	HeartbeatInterval    int         `json:"heartbeat_interval"`
	CheckpointDebounce   int         `json:"checkpoint_debounce"`
}

type PingMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

type CheckpointAckMessage struct {
	Type                 MessageType `json:"type"`
	QuestionID           uint        `json:"question_id"`
	Sequence             int         `json:"sequence"`
	SavedAt              time.Time   `json:"saved_at"`
	TimeRemainingSeconds int         `json:"time_remaining_seconds"`
}

type CheckpointErrorMessage struct {
	Type       MessageType `json:"type"`
	QuestionID uint        `json:"question_id"`
	Error      string      `json:"error"`
	ErrorCode  string      `json:"error_code"`
}

type TimeUpdateMessage struct {
	Type                 MessageType `json:"type"`
	ServerTime           time.Time   `json:"server_time"`
	TimeRemainingSeconds int         `json:"time_remaining_seconds"`
	ElapsedSeconds       int         `json:"elapsed_seconds"`
	IsExpired            bool        `json:"is_expired"`
}

type NotificationMessage struct {
	Type     MessageType `json:"type"`
	Title    string      `json:"title"`
	Message  string      `json:"message"`
	Severity string      `json:"severity"`
}

type ErrorMessage struct {
	Type      MessageType            `json:"type"`
	Message   string                 `json:"message"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type ExamEventMessage struct {
	Type  MessageType            `json:"type"`
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// TransferEventMessage covers the four transfer lifecycle broadcasts.
type TransferEventMessage struct {
	Type               MessageType `json:"type"`
	TransferID         uint        `json:"transfer_id"`
	AttemptID          uint        `json:"attempt_id"`
	FromWorkstation    string      `json:"from_workstation,omitempty"`
	ToWorkstation      string      `json:"to_workstation,omitempty"`
	Reason             string      `json:"reason,omitempty"`
	RequestedBy        string      `json:"requested_by,omitempty"`
	ApprovedBy         string      `json:"approved_by,omitempty"`
	MigrationChecksum  string      `json:"migration_checksum,omitempty"`
	AnswersTransferred int         `json:"answers_transferred,omitempty"`
	Message            string      `json:"message,omitempty"`
}

func NewPing() PingMessage {
	return PingMessage{Type: TypePing, Timestamp: time.Now()}
}

func NewCheckpointAck(questionID uint, sequence int, savedAt time.Time, timeRemaining int) CheckpointAckMessage {
	return CheckpointAckMessage{
		Type:                 TypeCheckpointAck,
		QuestionID:           questionID,
		Sequence:             sequence,
		SavedAt:              savedAt,
		TimeRemainingSeconds: timeRemaining,
	}
}

func NewCheckpointError(questionID uint, errMsg, errCode string) CheckpointErrorMessage {
	return CheckpointErrorMessage{
		Type:       TypeCheckpointError,
		QuestionID: questionID,
		Error:      errMsg,
		ErrorCode:  errCode,
	}
}

func NewTimeUpdate(timeRemaining, elapsed int, expired bool) TimeUpdateMessage {
	return TimeUpdateMessage{
		Type:                 TypeTimeUpdate,
		ServerTime:           time.Now(),
		TimeRemainingSeconds: timeRemaining,
		ElapsedSeconds:       elapsed,
		IsExpired:            expired,
	}
}

func NewNotification(title, message, severity string) NotificationMessage {
	return NotificationMessage{Type: TypeNotification, Title: title, Message: message, Severity: severity}
}

func NewError(message, errCode string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, ErrorCode: errCode}
}

func NewExamEvent(event string, data map[string]interface{}) ExamEventMessage {
	if data == nil {
		data = map[string]interface{}{}
	}
	return ExamEventMessage{Type: TypeExamEvent, Event: event, Data: data}
}
