package service

import (
	"sort"
	"sync"
	"time"

	"github.com/examly/hallpass/internal/model"
	"github.com/examly/hallpass/internal/repository"
	"gorm.io/gorm"
)

// In-memory repository fakes. They clone on every read and write the
// way gorm does, so service-side mutations never leak into the store
// without an explicit Update.

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uint]*model.Attempt
	updates  int
	findErr  error
}

func newFakeAttemptRepo(attempts ...*model.Attempt) *fakeAttemptRepo {
	r := &fakeAttemptRepo{attempts: make(map[uint]*model.Attempt)}
	for _, a := range attempts {
		clone := *a
		r.attempts[a.ID] = &clone
	}
	return r
}

func (r *fakeAttemptRepo) FindByID(id uint) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	a, ok := r.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *fakeAttemptRepo) Update(attempt *model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	clone := *attempt
	r.attempts[attempt.ID] = &clone
	return nil
}

// stored returns the persisted state of an attempt, bypassing findErr.
func (r *fakeAttemptRepo) stored(id uint) *model.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *r.attempts[id]
	return &clone
}

type answerKey struct {
	attemptID  uint
	questionID uint
}

type fakeAnswerRepo struct {
	mu      sync.Mutex
	answers map[answerKey]*model.Answer
	nextID  uint
	creates int
	updates int
	listErr error
}

func newFakeAnswerRepo() *fakeAnswerRepo {
	return &fakeAnswerRepo{answers: make(map[answerKey]*model.Answer)}
}

func (r *fakeAnswerRepo) FindByAttemptAndQuestion(attemptID, questionID uint) (*model.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.answers[answerKey{attemptID, questionID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *fakeAnswerRepo) FindAllByAttempt(attemptID uint) ([]model.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]model.Answer, 0)
	for k, a := range r.answers {
		if k.attemptID == attemptID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (r *fakeAnswerRepo) Create(answer *model.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	answer.ID = r.nextID
	r.creates++
	clone := *answer
	r.answers[answerKey{answer.AttemptID, answer.QuestionID}] = &clone
	return nil
}

func (r *fakeAnswerRepo) Update(answer *model.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	clone := *answer
	r.answers[answerKey{answer.AttemptID, answer.QuestionID}] = &clone
	return nil
}

func (r *fakeAnswerRepo) stored(attemptID, questionID uint) *model.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.answers[answerKey{attemptID, questionID}]
	if !ok {
		return nil
	}
	clone := *a
	return &clone
}

func (r *fakeAnswerRepo) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates + r.updates
}

type fakeQuestionRepo struct {
	examByQuestion map[uint]uint
}

func newFakeQuestionRepo(examByQuestion map[uint]uint) *fakeQuestionRepo {
	return &fakeQuestionRepo{examByQuestion: examByQuestion}
}

func (r *fakeQuestionRepo) ExistsInExam(questionID, examID uint) (bool, error) {
	return r.examByQuestion[questionID] == examID, nil
}

type fakeTransferRepo struct {
	mu        sync.Mutex
	transfers map[uint]*model.Transfer
	nextID    uint
	creates   int

	// CompleteMigration persists the attempt through the same store the
	// service reads, mirroring the real transactional repository.
	attempts *fakeAttemptRepo
}

func newFakeTransferRepo(attempts *fakeAttemptRepo) *fakeTransferRepo {
	return &fakeTransferRepo{transfers: make(map[uint]*model.Transfer), attempts: attempts}
}

func (r *fakeTransferRepo) Create(transfer *model.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	transfer.ID = r.nextID
	r.creates++
	clone := *transfer
	r.transfers[transfer.ID] = &clone
	return nil
}

func (r *fakeTransferRepo) FindByID(id uint) (*model.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *fakeTransferRepo) Update(transfer *model.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *transfer
	r.transfers[transfer.ID] = &clone
	return nil
}

func (r *fakeTransferRepo) FindActiveByAttempt(attemptID uint) (*model.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transfers {
		if t.AttemptID == attemptID &&
			(t.Status == model.TransferPending || t.Status == model.TransferApproved) {
			clone := *t
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTransferRepo) FindAll() ([]model.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Transfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTransferRepo) FindAllByRequester(userID uint) ([]model.Transfer, error) {
	all, _ := r.FindAll()
	out := make([]model.Transfer, 0)
	for _, t := range all {
		if t.RequestedByID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTransferRepo) CompleteMigration(transfer *model.Transfer, attempt *model.Attempt) error {
	r.mu.Lock()
	current, ok := r.transfers[transfer.ID]
	if !ok {
		r.mu.Unlock()
		return gorm.ErrRecordNotFound
	}
	if current.Status != model.TransferApproved {
		r.mu.Unlock()
		return repository.ErrTransferNotApproved
	}
	now := time.Now()
	transfer.Status = model.TransferCompleted
	transfer.CompletedAt = &now
	clone := *transfer
	r.transfers[transfer.ID] = &clone
	r.mu.Unlock()

	return r.attempts.Update(attempt)
}

func (r *fakeTransferRepo) stored(id uint) *model.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *r.transfers[id]
	return &clone
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Create(entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) FindAllByTransfer(transferID uint) ([]model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditLog, 0)
	for _, e := range r.entries {
		if e.TransferID != nil && *e.TransferID == transferID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.EventType)
	}
	return out
}

// activeAttempt builds an in-progress attempt with ample time left.
func activeAttempt(id uint) *model.Attempt {
	start := time.Now().Add(-10 * time.Minute)
	return &model.Attempt{
		ID:                   id,
		StudentID:            7,
		ExamID:               1,
		Status:               model.AttemptInProgress,
		StartTime:            &start,
		DurationMinutes:      60,
		WorkstationID:        "HALL-A-01",
		InitialWorkstationID: "HALL-A-01",
	}
}
