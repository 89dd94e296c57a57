package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/examly/hallpass/internal/bridge"
	"github.com/examly/hallpass/internal/model"
	"github.com/examly/hallpass/internal/repository"
	"github.com/examly/hallpass/internal/ws"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// RequestMeta carries network context into the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type TransferRequest struct {
	AttemptID     uint
	ToWorkstation string
	Reason        string
}

type TransferService interface {
	Request(actor *model.User, req TransferRequest, meta RequestMeta) (*model.Transfer, error)
	Approve(actor *model.User, transferID uint, meta RequestMeta) (*model.Transfer, error)
	Reject(actor *model.User, transferID uint, reason string, meta RequestMeta) (*model.Transfer, error)
	Get(actor *model.User, transferID uint) (*model.Transfer, error)
	List(actor *model.User) ([]model.Transfer, error)
	AuditTrail(actor *model.User, transferID uint) ([]model.AuditLog, error)
}

type transferService struct {
	transferRepo repository.TransferRepository
	attemptRepo  repository.AttemptRepository
	answerRepo   repository.AnswerRepository
	auditRepo    repository.AuditLogRepository
	bridge       bridge.Bridge
	minRemaining time.Duration
}

func NewTransferService(
	transferRepo repository.TransferRepository,
	attemptRepo repository.AttemptRepository,
	answerRepo repository.AnswerRepository,
	auditRepo repository.AuditLogRepository,
	br bridge.Bridge,
	minRemaining time.Duration,
) TransferService {
	return &transferService{
		transferRepo: transferRepo,
		attemptRepo:  attemptRepo,
		answerRepo:   answerRepo,
		auditRepo:    auditRepo,
		bridge:       br,
		minRemaining: minRemaining,
	}
}

func (s *transferService) Request(actor *model.User, req TransferRequest, meta RequestMeta) (*model.Transfer, error) {
	attempt, err := s.validateRequest(actor, req)
	if err != nil {
		return nil, err
	}

	transfer := &model.Transfer{
		AttemptID:       req.AttemptID,
		FromWorkstation: attempt.WorkstationID,
		ToWorkstation:   req.ToWorkstation,
		RequestedByID:   actor.ID,
		Status:          model.TransferPending,
		Reason:          req.Reason,
		RequestedAt:     time.Now(),
	}
	if err := s.transferRepo.Create(transfer); err != nil {
		return nil, errors.Wrap(err, "failed to create transfer")
	}

	s.audit("transfer_requested", actor, attempt, transfer, meta, true, "",
		"Transfer requested from "+transfer.FromWorkstation+" to "+transfer.ToWorkstation,
		map[string]interface{}{
			"from_workstation":       transfer.FromWorkstation,
			"to_workstation":         transfer.ToWorkstation,
			"reason":                 req.Reason,
			"time_remaining_seconds": attempt.TimeRemainingSeconds(),
		})

	s.publish(transfer.AttemptID, ws.TransferEventMessage{
		Type:            ws.TypeTransferRequested,
		TransferID:      transfer.ID,
		AttemptID:       transfer.AttemptID,
		FromWorkstation: transfer.FromWorkstation,
		ToWorkstation:   transfer.ToWorkstation,
		Reason:          transfer.Reason,
		RequestedBy:     actor.Username,
	})

	log.Info().
		Uint("transfer_id", transfer.ID).
		Uint("attempt_id", transfer.AttemptID).
		Str("to_workstation", transfer.ToWorkstation).
		Msg("Transfer requested")

	return transfer, nil
}

func (s *transferService) validateRequest(actor *model.User, req TransferRequest) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.FindByID(req.AttemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Reasonf(CodeAttemptNotFound, "attempt %d not found", req.AttemptID)
		}
		return nil, errors.Wrap(err, "failed to load attempt")
	}
	if !attempt.IsActive() {
		return nil, Reasonf(CodeAttemptNotActive, "attempt must be in_progress, current status: %s", attempt.Status)
	}
	if attempt.IsExpired() {
		return nil, Reasonf(CodeTimeExpired, "attempt has expired")
	}
	if remaining := time.Duration(attempt.TimeRemainingSeconds()) * time.Second; remaining < s.minRemaining {
		return nil, Reasonf(CodeInsufficientTime,
			"insufficient time remaining for transfer, minimum %s required", s.minRemaining)
	}
	if attempt.StudentID != actor.ID && !actor.IsStaff() {
		return nil, Reasonf(CodeNotAuthorized, "user not authorized to request transfer for this attempt")
	}
	if existing, err := s.transferRepo.FindActiveByAttempt(req.AttemptID); err == nil {
		return nil, Reasonf(CodeTransferConflict,
			"transfer already %s (transfer ID: %d)", existing.Status, existing.ID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to check for active transfer")
	}
	if attempt.WorkstationID == req.ToWorkstation {
		return nil, Reasonf(CodeSameWorkstation, "target workstation must be different from current workstation")
	}
	return attempt, nil
}

func (s *transferService) Approve(actor *model.User, transferID uint, meta RequestMeta) (*model.Transfer, error) {
	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Reasonf(CodeTransferNotFound, "transfer %d not found", transferID)
		}
		return nil, errors.Wrap(err, "failed to load transfer")
	}
	if transfer.Status != model.TransferPending {
		return nil, Reasonf(CodeTransferNotPending, "transfer must be pending, current status: %s", transfer.Status)
	}
	if !actor.CanApproveTransfers() {
		return nil, Reasonf(CodeNotAuthorized, "only hall in-charge can approve transfers")
	}
	if transfer.RequestedByID == actor.ID {
		return nil, Reasonf(CodeNotAuthorized, "transfer must be approved by someone other than the requester")
	}

	now := time.Now()
	transfer.Status = model.TransferApproved
	transfer.ApprovedByID = &actor.ID
	transfer.ApprovedAt = &now
	if err := s.transferRepo.Update(transfer); err != nil {
		return nil, errors.Wrap(err, "failed to approve transfer")
	}

	s.audit("transfer_approved", actor, nil, transfer, meta, true, "",
		"Transfer approved by "+actor.Username,
		map[string]interface{}{
			"from_workstation": transfer.FromWorkstation,
			"to_workstation":   transfer.ToWorkstation,
		})

	// Tell the source workstation to lock input before state moves.
	s.publish(transfer.AttemptID, ws.TransferEventMessage{
		Type:            ws.TypeTransferApproved,
		TransferID:      transfer.ID,
		AttemptID:       transfer.AttemptID,
		FromWorkstation: transfer.FromWorkstation,
		ToWorkstation:   transfer.ToWorkstation,
		ApprovedBy:      actor.Username,
		Message:         "Your exam is being transferred to the new workstation. Please wait...",
	})

	if err := s.migrate(actor, transfer, meta); err != nil {
		return nil, err
	}
	return transfer, nil
}

// migrate snapshots the attempt's live state, hashes it, and atomically
// rebinds the workstation while completing the transfer. A failure marks
// the transfer failed and leaves the attempt's binding untouched.
func (s *transferService) migrate(actor *model.User, transfer *model.Transfer, meta RequestMeta) error {
	attempt, answers, checksum, err := s.snapshot(transfer)
	if err == nil {
		transfer.MigrationChecksum = checksum
		transfer.AnswersTransferred = len(answers)

		now := time.Now()
		attempt.WorkstationID = transfer.ToWorkstation
		attempt.TransferCount++
		attempt.LastActivityTime = &now

		err = s.transferRepo.CompleteMigration(transfer, attempt)
	}

	if err != nil {
		transfer.Status = model.TransferFailed
		transfer.ErrorMessage = err.Error()
		if updateErr := s.transferRepo.Update(transfer); updateErr != nil {
			log.Error().Err(updateErr).Uint("transfer_id", transfer.ID).Msg("Failed to mark transfer failed")
		}
		s.audit("transfer_failed", actor, nil, transfer, meta, false, err.Error(),
			"Transfer state migration failed",
			map[string]interface{}{"error": err.Error()})

		log.Error().Err(err).Uint("transfer_id", transfer.ID).Msg("Transfer migration failed")
		return Reasonf(CodeMigrationFailed, "state migration failed: %v", err)
	}

	s.audit("transfer_completed", actor, attempt, transfer, meta, true, "",
		"Attempt state migrated from "+transfer.FromWorkstation+" to "+transfer.ToWorkstation,
		map[string]interface{}{
			"from_workstation":       transfer.FromWorkstation,
			"to_workstation":         transfer.ToWorkstation,
			"migration_checksum":     transfer.MigrationChecksum,
			"answers_transferred":    transfer.AnswersTransferred,
			"time_remaining_seconds": attempt.TimeRemainingSeconds(),
		})

	s.publish(transfer.AttemptID, ws.TransferEventMessage{
		Type:               ws.TypeTransferCompleted,
		TransferID:         transfer.ID,
		AttemptID:          transfer.AttemptID,
		FromWorkstation:    transfer.FromWorkstation,
		ToWorkstation:      transfer.ToWorkstation,
		MigrationChecksum:  transfer.MigrationChecksum,
		AnswersTransferred: transfer.AnswersTransferred,
		Message:            "Transfer complete. You can now resume your exam on the new workstation.",
	})

	log.Info().
		Uint("transfer_id", transfer.ID).
		Uint("attempt_id", transfer.AttemptID).
		Str("checksum", transfer.MigrationChecksum).
		Int("answers", transfer.AnswersTransferred).
		Msg("Transfer completed")

	return nil
}

// migratedAnswer and migrationState define the canonical form hashed
// into the migration checksum. Field order is fixed; answers are sorted
// by question id by the repository.
type migratedAnswer struct {
	QuestionID       uint            `json:"question_id"`
	Answer           json.RawMessage `json:"answer"`
	IsFlagged        bool            `json:"is_flagged"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	Sequence         int             `json:"sequence"`
}

type migrationState struct {
	AttemptID            uint             `json:"attempt_id"`
	FromWorkstation      string           `json:"from_workstation"`
	ToWorkstation        string           `json:"to_workstation"`
	CurrentQuestionID    *uint            `json:"current_question_id"`
	QuestionsAnswered    int              `json:"questions_answered"`
	QuestionsFlagged     []uint           `json:"questions_flagged"`
	TimeRemainingSeconds int              `json:"time_remaining_seconds"`
	Answers              []migratedAnswer `json:"answers"`
}

func (s *transferService) snapshot(transfer *model.Transfer) (*model.Attempt, []model.Answer, string, error) {
	attempt, err := s.attemptRepo.FindByID(transfer.AttemptID)
	if err != nil {
		return nil, nil, "", errors.Wrapf(err, "attempt %d not found", transfer.AttemptID)
	}
	answers, err := s.answerRepo.FindAllByAttempt(transfer.AttemptID)
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "failed to load answers")
	}

	state := migrationState{
		AttemptID:            attempt.ID,
		FromWorkstation:      transfer.FromWorkstation,
		ToWorkstation:        transfer.ToWorkstation,
		CurrentQuestionID:    attempt.CurrentQuestionID,
		QuestionsAnswered:    attempt.QuestionsAnswered,
		QuestionsFlagged:     attempt.QuestionsFlagged,
		TimeRemainingSeconds: attempt.TimeRemainingSeconds(),
		Answers:              make([]migratedAnswer, 0, len(answers)),
	}
	for _, a := range answers {
		state.Answers = append(state.Answers, migratedAnswer{
			QuestionID:       a.QuestionID,
			Answer:           a.Answer,
			IsFlagged:        a.IsFlagged,
			TimeSpentSeconds: a.TimeSpentSeconds,
			Sequence:         a.Sequence,
		})
	}

	canonical, err := json.Marshal(state)
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "failed to serialize migration state")
	}
	sum := sha256.Sum256(canonical)
	return attempt, answers, hex.EncodeToString(sum[:]), nil
}

func (s *transferService) Reject(actor *model.User, transferID uint, reason string, meta RequestMeta) (*model.Transfer, error) {
	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Reasonf(CodeTransferNotFound, "transfer %d not found", transferID)
		}
		return nil, errors.Wrap(err, "failed to load transfer")
	}
	if transfer.Status != model.TransferPending {
		return nil, Reasonf(CodeTransferNotPending, "transfer must be pending, current status: %s", transfer.Status)
	}
	if !actor.CanApproveTransfers() {
		return nil, Reasonf(CodeNotAuthorized, "only hall in-charge can reject transfers")
	}

	now := time.Now()
	transfer.Status = model.TransferRejected
	transfer.ApprovedByID = &actor.ID
	transfer.RejectedAt = &now
	if reason != "" {
		transfer.ErrorMessage = reason
	}
	if err := s.transferRepo.Update(transfer); err != nil {
		return nil, errors.Wrap(err, "failed to reject transfer")
	}

	s.audit("transfer_rejected", actor, nil, transfer, meta, true, "",
		"Transfer rejected by "+actor.Username,
		map[string]interface{}{
			"from_workstation": transfer.FromWorkstation,
			"to_workstation":   transfer.ToWorkstation,
			"reason":           reason,
		})

	s.publish(transfer.AttemptID, ws.TransferEventMessage{
		Type:       ws.TypeTransferRejected,
		TransferID: transfer.ID,
		AttemptID:  transfer.AttemptID,
		Reason:     reason,
	})

	log.Info().Uint("transfer_id", transfer.ID).Msg("Transfer rejected")
	return transfer, nil
}

func (s *transferService) Get(actor *model.User, transferID uint) (*model.Transfer, error) {
	transfer, err := s.transferRepo.FindByID(transferID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Reasonf(CodeTransferNotFound, "transfer %d not found", transferID)
		}
		return nil, errors.Wrap(err, "failed to load transfer")
	}
	if !actor.IsStaff() && transfer.RequestedByID != actor.ID {
		return nil, Reasonf(CodeNotAuthorized, "not authorized to view this transfer")
	}
	return transfer, nil
}

// List returns all transfers for staff, and only the caller's own for
// everyone else.
func (s *transferService) List(actor *model.User) ([]model.Transfer, error) {
	if actor.IsStaff() {
		return s.transferRepo.FindAll()
	}
	return s.transferRepo.FindAllByRequester(actor.ID)
}

func (s *transferService) AuditTrail(actor *model.User, transferID uint) ([]model.AuditLog, error) {
	if _, err := s.Get(actor, transferID); err != nil {
		return nil, err
	}
	return s.auditRepo.FindAllByTransfer(transferID)
}

// audit writes one compliance record per transition. Failures to write
// the trail are logged loudly but do not abort the transition itself.
func (s *transferService) audit(
	eventType string,
	actor *model.User,
	attempt *model.Attempt,
	transfer *model.Transfer,
	meta RequestMeta,
	success bool,
	errMsg string,
	description string,
	details map[string]interface{},
) {
	detailsJSON, _ := json.Marshal(details)
	entry := &model.AuditLog{
		EventType:     eventType,
		EventCategory: "transfer",
		UserID:        &actor.ID,
		Username:      actor.Username,
		AttemptID:     &transfer.AttemptID,
		TransferID:    &transfer.ID,
		Description:   description,
		Details:       detailsJSON,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Success:       success,
		ErrorMessage:  errMsg,
	}
	if attempt != nil {
		entry.ExamID = &attempt.ExamID
	}
	if err := s.auditRepo.Create(entry); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to write audit record")
	}
}

// publish routes a transfer event through the bridge so the process
// holding the attempt's sockets can deliver it.
func (s *transferService) publish(attemptID uint, msg ws.TransferEventMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bridge.Publish(ctx, bridge.AttemptTopic(attemptID), msg); err != nil {
		log.Error().Err(err).Uint("attempt_id", attemptID).Str("type", string(msg.Type)).
			Msg("Failed to publish transfer event")
	}
}
