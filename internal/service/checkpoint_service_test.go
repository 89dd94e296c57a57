package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/examly/hallpass/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 40 * time.Millisecond

func newCheckpointFixture(t *testing.T) (CheckpointService, *fakeAttemptRepo, *fakeAnswerRepo) {
	t.Helper()
	attempts := newFakeAttemptRepo(activeAttempt(1))
	answers := newFakeAnswerRepo()
	questions := newFakeQuestionRepo(map[uint]uint{101: 1, 102: 1, 999: 42})
	cfg := &config.Config{Session: config.Session{CheckpointDebounce: testDebounce}}
	svc := NewCheckpointService(cfg, attempts, questions, answers)
	return svc, attempts, answers
}

func checkpointReq(questionID uint, payload string) CheckpointRequest {
	return CheckpointRequest{
		QuestionID:       questionID,
		Answer:           json.RawMessage(payload),
		TimeSpentSeconds: 5,
	}
}

func TestFirstCheckpointCommitsImmediately(t *testing.T) {
	svc, attempts, answers := newCheckpointFixture(t)

	result := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"B"}`))

	require.True(t, result.Accepted)
	assert.False(t, result.Debounced)
	assert.Equal(t, 1, result.Sequence)
	assert.Equal(t, 1, result.QuestionsAnswered)
	assert.Greater(t, result.TimeRemainingSeconds, 0)

	stored := answers.stored(1, 101)
	require.NotNil(t, stored)
	assert.JSONEq(t, `{"selected":"B"}`, string(stored.Answer))
	assert.NotNil(t, stored.FirstAnsweredAt)

	attempt := attempts.stored(1)
	assert.Equal(t, 1, attempt.QuestionsAnswered)
	require.NotNil(t, attempt.CurrentQuestionID)
	assert.Equal(t, uint(101), *attempt.CurrentQuestionID)
}

func TestRapidRepeatsCoalesceToOneCommit(t *testing.T) {
	svc, _, answers := newCheckpointFixture(t)

	first := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	require.True(t, first.Accepted)
	require.False(t, first.Debounced)

	// A burst of edits inside the debounce window: each supersedes the
	// previous pending save, none commits yet.
	for _, payload := range []string{`{"selected":"B"}`, `{"selected":"C"}`, `{"selected":"D"}`} {
		result := svc.ProcessCheckpoint(1, checkpointReq(101, payload))
		require.True(t, result.Accepted)
		require.True(t, result.Debounced)
	}
	assert.Equal(t, 1, svc.PendingCount())
	assert.Equal(t, 1, answers.commitCount())

	require.Eventually(t, func() bool { return svc.PendingCount() == 0 }, time.Second, 5*time.Millisecond)

	// Exactly one extra commit carrying the last payload of the burst.
	assert.Equal(t, 2, answers.commitCount())
	stored := answers.stored(1, 101)
	assert.JSONEq(t, `{"selected":"D"}`, string(stored.Answer))
	assert.Equal(t, 2, stored.Sequence)
}

func TestSpacedCheckpointsIncrementSequence(t *testing.T) {
	svc, _, answers := newCheckpointFixture(t)

	first := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	require.Equal(t, 1, first.Sequence)

	time.Sleep(testDebounce + 10*time.Millisecond)

	second := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"B"}`))
	require.True(t, second.Accepted)
	assert.False(t, second.Debounced)
	assert.Equal(t, 2, second.Sequence)

	stored := answers.stored(1, 101)
	assert.Equal(t, 10, stored.TimeSpentSeconds) // cumulative across commits
}

func TestIndependentQuestionsDoNotDebounceEachOther(t *testing.T) {
	svc, _, _ := newCheckpointFixture(t)

	a := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	b := svc.ProcessCheckpoint(1, checkpointReq(102, `{"selected":"B"}`))

	assert.False(t, a.Debounced)
	assert.False(t, b.Debounced)
	assert.Equal(t, 2, b.QuestionsAnswered)
}

func TestCheckpointRejectsQuestionFromAnotherExam(t *testing.T) {
	svc, _, answers := newCheckpointFixture(t)

	result := svc.ProcessCheckpoint(1, checkpointReq(999, `{"selected":"A"}`))

	require.False(t, result.Accepted)
	assert.Equal(t, CodeInvalidQuestion, result.ErrorCode)
	assert.Equal(t, 0, answers.commitCount())

	// The rejection must not poison other keys.
	ok := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	assert.True(t, ok.Accepted)
}

func TestCheckpointRejectsMissingAttempt(t *testing.T) {
	svc, _, _ := newCheckpointFixture(t)

	result := svc.ProcessCheckpoint(404, checkpointReq(101, `{}`))

	require.False(t, result.Accepted)
	assert.Equal(t, CodeAttemptNotFound, result.ErrorCode)
}

func TestCheckpointRejectsSubmittedAttempt(t *testing.T) {
	attempt := activeAttempt(1)
	attempt.Status = model.AttemptSubmitted
	attempts := newFakeAttemptRepo(attempt)
	answers := newFakeAnswerRepo()
	cfg := &config.Config{Session: config.Session{CheckpointDebounce: testDebounce}}
	svc := NewCheckpointService(cfg, attempts, newFakeQuestionRepo(map[uint]uint{101: 1}), answers)

	result := svc.ProcessCheckpoint(1, checkpointReq(101, `{}`))

	require.False(t, result.Accepted)
	assert.Equal(t, CodeAttemptNotActive, result.ErrorCode)
}

func TestCheckpointRejectsExpiredAttempt(t *testing.T) {
	attempt := activeAttempt(1)
	start := time.Now().Add(-2 * time.Hour)
	attempt.StartTime = &start
	attempts := newFakeAttemptRepo(attempt)
	cfg := &config.Config{Session: config.Session{CheckpointDebounce: testDebounce}}
	svc := NewCheckpointService(cfg, attempts, newFakeQuestionRepo(map[uint]uint{101: 1}), newFakeAnswerRepo())

	result := svc.ProcessCheckpoint(1, checkpointReq(101, `{}`))

	require.False(t, result.Accepted)
	assert.Equal(t, CodeTimeExpired, result.ErrorCode)
}

type recordingNotifier struct {
	mu        sync.Mutex
	committed []CheckpointResult
	rejected  []CheckpointResult
}

func (n *recordingNotifier) CheckpointCommitted(_ uint, r CheckpointResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.committed = append(n.committed, r)
}

func (n *recordingNotifier) CheckpointRejected(_ uint, r CheckpointResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, r)
}

func (n *recordingNotifier) committedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.committed)
}

func TestDebouncedCommitReportsThroughNotifier(t *testing.T) {
	svc, _, _ := newCheckpointFixture(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	debounced := svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"B"}`))
	require.True(t, debounced.Debounced)

	require.Eventually(t, func() bool { return notifier.committedCount() == 1 }, time.Second, 5*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, uint(101), notifier.committed[0].QuestionID)
	assert.Equal(t, 2, notifier.committed[0].Sequence)
	assert.Empty(t, notifier.rejected)
}

func TestFlushPendingCommitsEverything(t *testing.T) {
	svc, _, answers := newCheckpointFixture(t)

	svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))
	svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"B"}`))
	require.Equal(t, 1, svc.PendingCount())

	flushed := svc.FlushPending()

	assert.Equal(t, 1, flushed)
	assert.Equal(t, 0, svc.PendingCount())
	stored := answers.stored(1, 101)
	assert.JSONEq(t, `{"selected":"B"}`, string(stored.Answer))
	assert.Equal(t, 2, stored.Sequence)
}

func TestProcessFlagDoesNotBumpSequence(t *testing.T) {
	svc, attempts, answers := newCheckpointFixture(t)

	svc.ProcessCheckpoint(1, checkpointReq(101, `{"selected":"A"}`))

	result := svc.ProcessFlag(1, 101, true)
	require.True(t, result.Accepted)
	assert.Equal(t, 1, result.Sequence)

	stored := answers.stored(1, 101)
	assert.True(t, stored.IsFlagged)
	assert.Equal(t, 1, stored.Sequence)
	assert.True(t, attempts.stored(1).QuestionsFlagged.Contains(101))

	unflag := svc.ProcessFlag(1, 101, false)
	require.True(t, unflag.Accepted)
	assert.False(t, attempts.stored(1).QuestionsFlagged.Contains(101))
}

func TestProcessFlagWorksBeforeAnyAnswer(t *testing.T) {
	svc, attempts, answers := newCheckpointFixture(t)

	result := svc.ProcessFlag(1, 102, true)

	require.True(t, result.Accepted)
	assert.Nil(t, answers.stored(1, 102))
	assert.True(t, attempts.stored(1).QuestionsFlagged.Contains(102))
}

func TestConcurrentCheckpointsAcrossAttempts(t *testing.T) {
	attempts := newFakeAttemptRepo(activeAttempt(1), activeAttempt(2), activeAttempt(3))
	answers := newFakeAnswerRepo()
	questions := newFakeQuestionRepo(map[uint]uint{101: 1})
	cfg := &config.Config{Session: config.Session{CheckpointDebounce: testDebounce}}
	svc := NewCheckpointService(cfg, attempts, questions, answers)

	var wg sync.WaitGroup
	for attemptID := uint(1); attemptID <= 3; attemptID++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			svc.ProcessCheckpoint(id, checkpointReq(101, fmt.Sprintf(`{"attempt":%d}`, id)))
		}(attemptID)
	}
	wg.Wait()

	for attemptID := uint(1); attemptID <= 3; attemptID++ {
		stored := answers.stored(attemptID, 101)
		require.NotNil(t, stored)
		assert.Equal(t, 1, stored.Sequence)
	}
}
