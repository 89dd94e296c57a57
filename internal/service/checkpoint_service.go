package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/examly/hallpass/internal/model"
	"github.com/examly/hallpass/internal/repository"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// CheckpointRequest carries one answer-change event from a client. The
// client's Sequence is for its own ordering only; the server assigns
// the authoritative sequence on commit.
type CheckpointRequest struct {
	QuestionID       uint
	Answer           json.RawMessage
	IsFlagged        bool
	TimeSpentSeconds int
	Sequence         int
}

type CheckpointResult struct {
	Accepted  bool
	Debounced bool

	QuestionID           uint
	Sequence             int
	SavedAt              time.Time
	TimeRemainingSeconds int
	QuestionsAnswered    int

	ErrorCode    string
	ErrorMessage string
}

// CheckpointNotifier receives the outcome of commits that happen after
// the triggering request returned (debounced saves).
type CheckpointNotifier interface {
	CheckpointCommitted(attemptID uint, result CheckpointResult)
	CheckpointRejected(attemptID uint, result CheckpointResult)
}

type CheckpointService interface {
	// ProcessCheckpoint debounces rapid repeats per (attempt, question)
	// and commits the latest payload. Requests arriving within the
	// debounce window of the last commit supersede any still-pending
	// write for the same key (last-write-wins coalescing).
	ProcessCheckpoint(attemptID uint, req CheckpointRequest) CheckpointResult
	// ProcessFlag toggles the review flag without touching the answer
	// payload or its sequence.
	ProcessFlag(attemptID, questionID uint, flagged bool) CheckpointResult
	// FlushPending commits every pending debounced save immediately.
	FlushPending() int
	PendingCount() int
	SetNotifier(n CheckpointNotifier)
}

type checkpointKey struct {
	attemptID  uint
	questionID uint
}

type pendingSave struct {
	timer *time.Timer
	req   CheckpointRequest
}

type checkpointService struct {
	attemptRepo  repository.AttemptRepository
	questionRepo repository.QuestionRepository
	answerRepo   repository.AnswerRepository

	debounce time.Duration

	mu         sync.Mutex
	lastCommit map[checkpointKey]time.Time
	pending    map[checkpointKey]*pendingSave
	notifier   CheckpointNotifier
}

func NewCheckpointService(
	cfg *config.Config,
	attemptRepo repository.AttemptRepository,
	questionRepo repository.QuestionRepository,
	answerRepo repository.AnswerRepository,
) CheckpointService {
	return &checkpointService{
		attemptRepo:  attemptRepo,
		questionRepo: questionRepo,
		answerRepo:   answerRepo,
		debounce:     cfg.Session.CheckpointDebounce,
		lastCommit:   make(map[checkpointKey]time.Time),
		pending:      make(map[checkpointKey]*pendingSave),
	}
}

func (s *checkpointService) SetNotifier(n CheckpointNotifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *checkpointService) ProcessCheckpoint(attemptID uint, req CheckpointRequest) CheckpointResult {
	key := checkpointKey{attemptID: attemptID, questionID: req.QuestionID}
	now := time.Now()

	s.mu.Lock()
	last, committed := s.lastCommit[key]
	if committed && now.Sub(last) < s.debounce {
		remaining := s.debounce - now.Sub(last)
		if p, ok := s.pending[key]; ok {
			// Supersede: newer request always replaces the older pending one.
			p.timer.Stop()
			p.req = req
			p.timer = time.AfterFunc(remaining, func() { s.firePending(key) })
		} else {
			p := &pendingSave{req: req}
			p.timer = time.AfterFunc(remaining, func() { s.firePending(key) })
			s.pending[key] = p
		}
		s.mu.Unlock()

		log.Debug().
			Uint("attempt_id", attemptID).
			Uint("question_id", req.QuestionID).
			Dur("delay", remaining).
			Msg("Checkpoint debounced")

		res := CheckpointResult{Accepted: true, Debounced: true, QuestionID: req.QuestionID}
		if attempt, err := s.attemptRepo.FindByID(attemptID); err == nil {
			res.TimeRemainingSeconds = attempt.TimeRemainingSeconds()
		}
		return res
	}
	s.mu.Unlock()

	return s.commit(attemptID, req)
}

// firePending runs on the debounce timer goroutine and commits the
// latest coalesced payload for the key. The connection that triggered
// it may already be gone; durability of the answer is the goal, so the
// commit proceeds regardless and the notifier reports the outcome.
func (s *checkpointService) firePending(key checkpointKey) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	req := p.req
	notifier := s.notifier
	s.mu.Unlock()

	result := s.commit(key.attemptID, req)
	if notifier == nil {
		return
	}
	if result.Accepted {
		notifier.CheckpointCommitted(key.attemptID, result)
	} else {
		notifier.CheckpointRejected(key.attemptID, result)
	}
}

func (s *checkpointService) commit(attemptID uint, req CheckpointRequest) CheckpointResult {
	key := checkpointKey{attemptID: attemptID, questionID: req.QuestionID}

	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.reject(key, CodeAttemptNotFound, "attempt not found")
		}
		return s.reject(key, CodeSaveFailed, "failed to load attempt: %v", err)
	}
	if !attempt.IsActive() {
		return s.reject(key, CodeAttemptNotActive, "attempt is %s, cannot save checkpoint", attempt.Status)
	}
	if attempt.IsExpired() {
		return s.reject(key, CodeTimeExpired, "attempt time expired")
	}

	inExam, err := s.questionRepo.ExistsInExam(req.QuestionID, attempt.ExamID)
	if err != nil {
		return s.reject(key, CodeSaveFailed, "failed to validate question: %v", err)
	}
	if !inExam {
		return s.reject(key, CodeInvalidQuestion, "question not found in this exam")
	}

	now := time.Now()
	answer, err := s.answerRepo.FindByAttemptAndQuestion(attemptID, req.QuestionID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		answer = &model.Answer{
			AttemptID:        attemptID,
			QuestionID:       req.QuestionID,
			Answer:           req.Answer,
			IsFlagged:        req.IsFlagged,
			TimeSpentSeconds: req.TimeSpentSeconds,
			Sequence:         1,
			FirstAnsweredAt:  &now,
			LastUpdatedAt:    now,
		}
		if err := s.answerRepo.Create(answer); err != nil {
			return s.reject(key, CodeSaveFailed, "failed to save answer: %v", err)
		}
		attempt.QuestionsAnswered++
	case err != nil:
		return s.reject(key, CodeSaveFailed, "failed to load answer: %v", err)
	default:
		answer.Answer = req.Answer
		answer.IsFlagged = req.IsFlagged
		answer.TimeSpentSeconds += req.TimeSpentSeconds
		answer.Sequence++
		answer.LastUpdatedAt = now
		if answer.FirstAnsweredAt == nil {
			answer.FirstAnsweredAt = &now
		}
		if err := s.answerRepo.Update(answer); err != nil {
			return s.reject(key, CodeSaveFailed, "failed to save answer: %v", err)
		}
	}

	questionID := req.QuestionID
	attempt.LastActivityTime = &now
	attempt.CurrentQuestionID = &questionID
	s.syncFlaggedSet(attempt, req.QuestionID, req.IsFlagged)
	if err := s.attemptRepo.Update(attempt); err != nil {
		return s.reject(key, CodeSaveFailed, "failed to update attempt: %v", err)
	}

	s.mu.Lock()
	s.lastCommit[key] = time.Now()
	if p, ok := s.pending[key]; ok {
		// A commit absorbs any still-pending save for the same key.
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	log.Debug().
		Uint("attempt_id", attemptID).
		Uint("question_id", req.QuestionID).
		Int("sequence", answer.Sequence).
		Msg("Checkpoint committed")

	return CheckpointResult{
		Accepted:             true,
		QuestionID:           req.QuestionID,
		Sequence:             answer.Sequence,
		SavedAt:              answer.LastUpdatedAt,
		TimeRemainingSeconds: attempt.TimeRemainingSeconds(),
		QuestionsAnswered:    attempt.QuestionsAnswered,
	}
}

// reject clears the debounce bookkeeping for the key so one bad request
// cannot poison later saves, and never touches other keys.
func (s *checkpointService) reject(key checkpointKey, code, format string, args ...interface{}) CheckpointResult {
	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	delete(s.lastCommit, key)
	s.mu.Unlock()

	reason := Reasonf(code, format, args...)
	log.Warn().
		Uint("attempt_id", key.attemptID).
		Uint("question_id", key.questionID).
		Str("error_code", code).
		Msg(reason.Message)

	return CheckpointResult{
		Accepted:     false,
		QuestionID:   key.questionID,
		ErrorCode:    code,
		ErrorMessage: reason.Message,
	}
}

func (s *checkpointService) ProcessFlag(attemptID, questionID uint, flagged bool) CheckpointResult {
	key := checkpointKey{attemptID: attemptID, questionID: questionID}

	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.reject(key, CodeAttemptNotFound, "attempt not found")
		}
		return s.reject(key, CodeSaveFailed, "failed to load attempt: %v", err)
	}
	if !attempt.IsActive() {
		return s.reject(key, CodeAttemptNotActive, "attempt is %s, cannot flag question", attempt.Status)
	}

	// Flag toggles do not bump the answer sequence; only accepted
	// checkpoints do.
	answer, err := s.answerRepo.FindByAttemptAndQuestion(attemptID, questionID)
	if err == nil {
		answer.IsFlagged = flagged
		answer.LastUpdatedAt = time.Now()
		if err := s.answerRepo.Update(answer); err != nil {
			return s.reject(key, CodeSaveFailed, "failed to update flag: %v", err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return s.reject(key, CodeSaveFailed, "failed to load answer: %v", err)
	}

	s.syncFlaggedSet(attempt, questionID, flagged)
	if err := s.attemptRepo.Update(attempt); err != nil {
		return s.reject(key, CodeSaveFailed, "failed to update attempt: %v", err)
	}

	result := CheckpointResult{
		Accepted:             true,
		QuestionID:           questionID,
		TimeRemainingSeconds: attempt.TimeRemainingSeconds(),
		QuestionsAnswered:    attempt.QuestionsAnswered,
	}
	if answer != nil {
		result.Sequence = answer.Sequence
	}
	return result
}

func (s *checkpointService) syncFlaggedSet(attempt *model.Attempt, questionID uint, flagged bool) {
	if flagged && !attempt.QuestionsFlagged.Contains(questionID) {
		attempt.QuestionsFlagged = append(attempt.QuestionsFlagged, questionID)
	} else if !flagged && attempt.QuestionsFlagged.Contains(questionID) {
		attempt.QuestionsFlagged = attempt.QuestionsFlagged.Without(questionID)
	}
}

func (s *checkpointService) FlushPending() int {
	s.mu.Lock()
	saves := make(map[checkpointKey]CheckpointRequest, len(s.pending))
	for key, p := range s.pending {
		p.timer.Stop()
		saves[key] = p.req
	}
	s.pending = make(map[checkpointKey]*pendingSave)
	s.mu.Unlock()

	for key, req := range saves {
		s.commit(key.attemptID, req)
	}
	if len(saves) > 0 {
		log.Info().Int("count", len(saves)).Msg("Flushed pending checkpoint saves")
	}
	return len(saves)
}

func (s *checkpointService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
