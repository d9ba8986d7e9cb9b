package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
	"github.com/E1venking/Kuleli-English-Centre/internal/logger"
	"github.com/E1venking/Kuleli-English-Centre/internal/repository"
)

type stubEvaluator struct {
	mu   sync.Mutex
	out  *exam.Outcome
	err  error
	subs []*exam.Submission
}

func (e *stubEvaluator) Evaluate(ctx context.Context, sub *exam.Submission) (*exam.Outcome, error) {
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	out, err := e.out, e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	copied := *out
	return &copied, nil
}

func (e *stubEvaluator) lastSub() *exam.Submission {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.subs) == 0 {
		return nil
	}
	return e.subs[len(e.subs)-1]
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(sessionID, event string, payload interface{}) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

type memReportRepo struct {
	mu   sync.Mutex
	rows []repository.ExamReportRow
}

func (r *memReportRepo) Save(ctx context.Context, row *repository.ExamReportRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row.ID = uuid.New()
	row.CreatedAt = time.Now()
	r.rows = append(r.rows, *row)
	return nil
}

func (r *memReportRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]repository.ExamReportRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ExamReportRow
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memReportRepo) GetBySession(ctx context.Context, sessionID uuid.UUID) (*repository.ExamReportRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SessionID == sessionID {
			copied := row
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memReportRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func newTestExamService(eval exam.Evaluator, archive *ArchiveService) *ExamService {
	return NewExamService(ExamServiceDeps{
		Evaluator: eval,
		Archive:   archive,
		Logger:    logger.NewNop(),
	})
}

func waitStatus(t *testing.T, svc *ExamService, id uuid.UUID, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot(id)
		return err == nil && snap.Status == status
	}, 2*time.Second, 5*time.Millisecond)
}

// completePart drives the current part from Idle to part_completed with one
// recorded answer. With no synthesizer configured, prompts auto-advance past
// playback.
func completePart(t *testing.T, svc *ExamService, id uuid.UUID) {
	t.Helper()

	snap, err := svc.Start(context.Background(), id)
	require.NoError(t, err)

	if snap.Status == "user_prep" {
		snap, err = svc.BeginSpeaking(context.Background(), id)
		require.NoError(t, err)
	}
	require.Equal(t, "user_speaking", snap.Status)

	require.NoError(t, svc.AppendAudio(id, []byte("chunk-1 ")))
	require.NoError(t, svc.AppendAudio(id, []byte("chunk-2")))

	// The evaluation goroutine may land before the snapshot is taken, so only
	// the terminal state is asserted.
	_, err = svc.StopSpeaking(id, false)
	require.NoError(t, err)

	waitStatus(t, svc, id, "part_completed")
}

func TestExamSessionLifecycle(t *testing.T) {
	eval := &stubEvaluator{out: &exam.Outcome{
		Transcript: "hello",
		ReplyText:  "thanks",
		Continue:   false,
		Feedback:   exam.FeedbackRecord{TaskAchievement: 4, Pronunciation: 4, Grammar: 4, FluencyCoherence: 4},
	}}
	svc := newTestExamService(eval, nil)
	defer svc.Close()

	broadcaster := &recordingBroadcaster{}
	svc.SetBroadcaster(broadcaster)

	sess := svc.CreateSession(uuid.New())
	completePart(t, svc, sess.ID)

	// Uploaded chunks arrived concatenated.
	sub := eval.lastSub()
	require.NotNil(t, sub)
	assert.Equal(t, []byte("chunk-1 chunk-2"), sub.Audio)
	assert.Equal(t, exam.PartIntro, sub.Part)

	assert.True(t, broadcaster.has("processing"))
	assert.True(t, broadcaster.has("part_completed"))

	// Reports are not available mid-exam.
	_, err := svc.Report(sess.ID)
	require.Error(t, err)
}

func TestExamFullRunArchivesReport(t *testing.T) {
	eval := &stubEvaluator{out: &exam.Outcome{
		Transcript: "answer",
		ReplyText:  "noted",
		Continue:   false,
		Feedback:   exam.FeedbackRecord{TaskAchievement: 8, Pronunciation: 7, Grammar: 9, FluencyCoherence: 8},
	}}
	repo := &memReportRepo{}
	archive := NewArchiveService(nil, repo, logger.NewNop())
	svc := newTestExamService(eval, archive)
	defer svc.Close()

	userID := uuid.New()
	sess := svc.CreateSession(userID)

	for i := 0; i < 3; i++ {
		completePart(t, svc, sess.ID)
		_, err := svc.NextPart(sess.ID)
		require.NoError(t, err)
	}

	waitStatus(t, svc, sess.ID, "completed")

	rep, err := svc.Report(sess.ID)
	require.NoError(t, err)
	// Intro clamps each sub-score to 5: 20 + 32 + 32.
	assert.Equal(t, 84, rep.Total)
	assert.Equal(t, 100, rep.Max)

	// With no Pub/Sub configured the archive writes straight to the store.
	require.Eventually(t, func() bool { return repo.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	row, err := repo.GetBySession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, userID, row.UserID)
	assert.Equal(t, 84, row.Total)

	var stored exam.Report
	require.NoError(t, json.Unmarshal(row.Report, &stored))
	assert.Len(t, stored.Parts, 3)
}

func TestExamEvaluationFailureLeavesRetry(t *testing.T) {
	eval := &stubEvaluator{err: fmt.Errorf("provider down")}
	svc := newTestExamService(eval, nil)
	defer svc.Close()

	sess := svc.CreateSession(uuid.New())

	snap, err := svc.Start(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "user_speaking", snap.Status)
	require.NoError(t, svc.AppendAudio(sess.ID, []byte("audio")))
	_, err = svc.StopSpeaking(sess.ID, false)
	require.NoError(t, err)

	waitStatus(t, svc, sess.ID, "idle")
	snap, err = svc.Snapshot(sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Error)
	assert.Zero(t, snap.Turn)

	// The student can retry the same turn.
	snap, err = svc.BeginSpeaking(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "user_speaking", snap.Status)
}

func TestExamAppendAudioRequiresActiveRecording(t *testing.T) {
	svc := newTestExamService(&stubEvaluator{}, nil)
	defer svc.Close()

	sess := svc.CreateSession(uuid.New())
	err := svc.AppendAudio(sess.ID, []byte("early"))
	require.Error(t, err)
}

func TestExamUnknownSession(t *testing.T) {
	svc := newTestExamService(&stubEvaluator{}, nil)
	defer svc.Close()

	_, err := svc.Snapshot(uuid.New())
	require.Error(t, err)
	_, err = svc.Start(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestExamInvalidTransitionSurfacesConflict(t *testing.T) {
	svc := newTestExamService(&stubEvaluator{}, nil)
	defer svc.Close()

	sess := svc.CreateSession(uuid.New())
	_, err := svc.NextPart(sess.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TRANSITION")
}

func TestExamCloseSessionStopsTracking(t *testing.T) {
	svc := newTestExamService(&stubEvaluator{}, nil)

	sess := svc.CreateSession(uuid.New())
	svc.CloseSession(sess.ID)

	_, err := svc.Snapshot(sess.ID)
	require.Error(t, err)
}
