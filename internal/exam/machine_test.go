package exam

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSynth struct {
	clip Clip
}

func (s stubSynth) Synthesize(ctx context.Context, text string) Clip { return s.clip }

type stubTopics struct {
	topic string
	err   error
}

func (s stubTopics) Topic(ctx context.Context, part Part) (string, error) { return s.topic, s.err }

type stubIllus struct {
	url string
	ok  bool
}

func (s stubIllus) Illustrate(ctx context.Context, topic string) (string, bool) { return s.url, s.ok }

type stubRecorder struct {
	startErr error
	stopErr  error
	data     []byte

	starts   int
	discards int
}

func (r *stubRecorder) Start(ctx context.Context) error {
	r.starts++
	return r.startErr
}

func (r *stubRecorder) Stop() ([]byte, error) {
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	return r.data, nil
}

func (r *stubRecorder) Discard() { r.discards++ }

type eventLog struct {
	events []string
	subs   []*Submission
}

func (l *eventLog) hooks() Hooks {
	return Hooks{
		OnSubmit:     func(sub *Submission) { l.subs = append(l.subs, sub) },
		OnTransition: func(event string, snap Snapshot) { l.events = append(l.events, event) },
	}
}

func (l *eventLog) lastSub() *Submission {
	if len(l.subs) == 0 {
		return nil
	}
	return l.subs[len(l.subs)-1]
}

func audibleClip() Clip { return Clip{URL: "https://cdn.example.com/clip.mp3"} }

func newTestMachine(rec *stubRecorder) (*Machine, *eventLog) {
	log := &eventLog{}
	m := NewMachine(
		stubSynth{clip: audibleClip()},
		stubTopics{topic: "Describe the scene at a busy market."},
		stubIllus{url: "https://cdn.example.com/topic.png", ok: true},
		rec,
		log.hooks(),
	)
	return m, log
}

func outcome(reply string, cont bool, ta, pr, gr, fl int) *Outcome {
	return &Outcome{
		Transcript: "transcribed answer",
		ReplyText:  reply,
		Continue:   cont,
		Feedback: FeedbackRecord{
			TaskAchievement:  ta,
			Pronunciation:    pr,
			Grammar:          gr,
			FluencyCoherence: fl,
			Commentary:       "ok",
		},
	}
}

// toSpeaking drives the machine from Idle to UserSpeaking in the current part.
func toSpeaking(t *testing.T, m *Machine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.Equal(t, StatusAISpeaking, m.Status())
	require.NoError(t, m.PlaybackFinished(ctx))
	if m.Status() == StatusUserPrep {
		require.NoError(t, m.BeginSpeaking(ctx))
	}
	require.Equal(t, StatusUserSpeaking, m.Status())
}

func TestIntroGoesStraightToSpeaking(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	snap := m.Snapshot()
	assert.Equal(t, "intro", snap.Part)
	assert.Equal(t, IntroPrompt, snap.Prompt)
	assert.Empty(t, snap.ImageURL)

	// The intro has no preparation phase.
	require.NoError(t, m.PlaybackFinished(ctx))
	assert.Equal(t, StatusUserSpeaking, m.Status())
	assert.Equal(t, SpeakingSeconds, m.Snapshot().Remaining)
	assert.Equal(t, 1, rec.starts)
	assert.Contains(t, log.events, "user_speaking")
}

func TestPictureHasPrepOnFirstTurnOnly(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	// Finish the intro quickly.
	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 4, 4, 4, 4)))
	require.NoError(t, m.NextPart())

	require.NoError(t, m.Start(ctx))
	snap := m.Snapshot()
	assert.Equal(t, "picture", snap.Part)
	assert.Equal(t, "Describe the scene at a busy market.", snap.Prompt)
	assert.Equal(t, "https://cdn.example.com/topic.png", snap.ImageURL)

	require.NoError(t, m.PlaybackFinished(ctx))
	assert.Equal(t, StatusUserPrep, m.Status())
	assert.Equal(t, PrepSeconds, m.Snapshot().Remaining)

	require.NoError(t, m.BeginSpeaking(ctx))
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("tell me more", true, 5, 5, 5, 5)))

	// Follow-up turn: the reply is spoken and recording starts with no prep.
	assert.Equal(t, StatusAISpeaking, m.Status())
	assert.Equal(t, "tell me more", m.Snapshot().Prompt)
	require.NoError(t, m.PlaybackFinished(ctx))
	assert.Equal(t, StatusUserSpeaking, m.Status())
}

func TestTurnCapOverridesContinueSignal(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	for i := 0; i < MaxTurns; i++ {
		require.NoError(t, m.StopSpeaking(false))
		assert.Equal(t, i, log.lastSub().Turn)
		// The service keeps asking for more; the cap must win.
		require.NoError(t, m.EvaluationSucceeded(ctx, outcome("and another thing?", true, 4, 4, 4, 4)))
		if i < MaxTurns-1 {
			require.NoError(t, m.PlaybackFinished(ctx))
		}
	}

	assert.Equal(t, StatusPartCompleted, m.Status())
	assert.Equal(t, MaxTurns, m.Turn())

	rec2, ok := m.PartResult(PartIntro)
	require.True(t, ok)
	assert.Equal(t, 16, rec2.Score())
}

func TestServiceStopSignalEndsPartEarly(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("thank you", false, 3, 3, 3, 3)))

	assert.Equal(t, StatusPartCompleted, m.Status())
	assert.Equal(t, 1, m.Turn())
}

func TestStopSpeakingWithFinishForcesCompletion(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(true))
	assert.True(t, log.lastSub().Finish)

	// Continue=true from the service must not keep the part alive.
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("more?", true, 2, 2, 2, 2)))
	assert.Equal(t, StatusPartCompleted, m.Status())
}

func TestSkipCommitsZeroRecord(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)

	toSpeaking(t, m)
	require.NoError(t, m.Skip())

	assert.Equal(t, StatusPartCompleted, m.Status())
	assert.Equal(t, 1, rec.discards)

	skipped, ok := m.PartResult(PartIntro)
	require.True(t, ok)
	assert.True(t, skipped.Skipped)
	assert.Zero(t, skipped.Score())
}

func TestSkipFromPrep(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 1, 1, 1, 1)))
	require.NoError(t, m.NextPart())

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.PlaybackFinished(ctx))
	require.Equal(t, StatusUserPrep, m.Status())

	require.NoError(t, m.Skip())
	assert.Equal(t, StatusPartCompleted, m.Status())
	// Nothing was recording during prep.
	assert.Zero(t, rec.discards)
}

func TestFinishWillinglyRejectedBeforeFirstTurn(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)

	toSpeaking(t, m)
	err := m.FinishWillingly()
	require.Error(t, err)
	assert.Equal(t, StatusUserSpeaking, m.Status())
}

func TestFinishWillinglyCommitsLastRecord(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("go on", true, 4, 3, 4, 3)))
	require.NoError(t, m.PlaybackFinished(ctx))
	require.Equal(t, StatusUserSpeaking, m.Status())

	require.NoError(t, m.FinishWillingly())
	assert.Equal(t, StatusPartCompleted, m.Status())
	assert.Equal(t, 1, rec.discards)

	committed, ok := m.PartResult(PartIntro)
	require.True(t, ok)
	assert.Equal(t, 14, committed.Score())
}

func TestFailedEvaluationAllowsRetry(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationFailed(errors.New("provider exploded")))

	snap := m.Snapshot()
	assert.Equal(t, StatusIdle, m.Status())
	assert.Equal(t, ApologyPrompt, snap.Prompt)
	assert.NotEmpty(t, snap.Error)
	// No turn consumed, nothing committed.
	assert.Zero(t, m.Turn())
	_, ok := m.PartResult(PartIntro)
	assert.False(t, ok)
	assert.Contains(t, log.events, "evaluation_failed")

	// Retry the same turn.
	require.NoError(t, m.BeginSpeaking(ctx))
	require.Equal(t, StatusUserSpeaking, m.Status())
	require.NoError(t, m.StopSpeaking(false))
	assert.Zero(t, log.lastSub().Turn)
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 5, 5, 5, 5)))
	assert.Equal(t, StatusPartCompleted, m.Status())
	assert.Empty(t, m.Snapshot().Error)
}

func TestRecorderStartFailureReturnsToIdle(t *testing.T) {
	rec := &stubRecorder{startErr: errors.New("microphone busy")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	err := m.PlaybackFinished(ctx)
	require.Error(t, err)

	assert.Equal(t, StatusIdle, m.Status())
	assert.Contains(t, log.events, "recorder_failed")
	assert.NotEmpty(t, m.Snapshot().Error)
}

func TestEmptyRecordingFailsTheTurn(t *testing.T) {
	rec := &stubRecorder{stopErr: errors.New("no audio captured")}
	m, _ := newTestMachine(rec)

	toSpeaking(t, m)
	err := m.StopSpeaking(false)
	require.Error(t, err)
	assert.Equal(t, StatusIdle, m.Status())
	assert.Equal(t, ApologyPrompt, m.Snapshot().Prompt)
	assert.Zero(t, m.Turn())
}

func TestPrepCountdownExpiryStartsSpeaking(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 1, 1, 1, 1)))
	require.NoError(t, m.NextPart())
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.PlaybackFinished(ctx))
	require.Equal(t, StatusUserPrep, m.Status())

	for i := 0; i < PrepSeconds-1; i++ {
		m.Tick()
		assert.Equal(t, StatusUserPrep, m.Status())
	}
	assert.Equal(t, 1, m.Snapshot().Remaining)

	// The expiring tick transitions exactly once.
	m.Tick()
	assert.Equal(t, StatusUserSpeaking, m.Status())
	assert.Equal(t, SpeakingSeconds, m.Snapshot().Remaining)
}

func TestSpeakingCountdownExpirySubmits(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)

	toSpeaking(t, m)
	for i := 0; i < SpeakingSeconds; i++ {
		m.Tick()
	}
	assert.Equal(t, StatusProcessing, m.Status())
	require.NotNil(t, log.lastSub())
	assert.False(t, log.lastSub().Finish)

	// Further ticks in Processing are no-ops and never go negative.
	m.Tick()
	m.Tick()
	assert.Equal(t, StatusProcessing, m.Status())
	assert.GreaterOrEqual(t, m.Snapshot().Remaining, 0)
}

func TestSubmissionCarriesHistoryAndAudio(t *testing.T) {
	rec := &stubRecorder{data: []byte("first answer")}
	m, log := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	sub := log.lastSub()
	require.NotNil(t, sub)
	assert.Equal(t, []byte("first answer"), sub.Audio)
	assert.Empty(t, sub.History)

	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("and then?", true, 4, 4, 4, 4)))
	require.NoError(t, m.PlaybackFinished(ctx))
	require.NoError(t, m.StopSpeaking(false))

	sub = log.lastSub()
	require.Len(t, sub.History, 2)
	assert.Equal(t, RoleUser, sub.History[0].Role)
	assert.Equal(t, "transcribed answer", sub.History[0].Content)
	assert.Equal(t, RoleAssistant, sub.History[1].Role)
	assert.Equal(t, "and then?", sub.History[1].Content)
}

func TestFullExamAggregatesTo81(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	scores := [][4]int{
		{4, 4, 4, 4}, // intro: 16 of 20
		{8, 7, 9, 8}, // picture: 32 of 40
		{9, 8, 7, 9}, // discussion: 33 of 40
	}

	for _, sc := range scores {
		toSpeaking(t, m)
		require.NoError(t, m.StopSpeaking(false))
		require.NoError(t, m.EvaluationSucceeded(ctx, outcome("noted", false, sc[0], sc[1], sc[2], sc[3])))
		require.Equal(t, StatusPartCompleted, m.Status())
		require.NoError(t, m.NextPart())
	}

	assert.Equal(t, StatusCompleted, m.Status())

	report, err := m.Report()
	require.NoError(t, err)
	assert.Equal(t, 81, report.Total)
	assert.Equal(t, AggregateMax, report.Max)
	require.Len(t, report.Parts, 3)
	assert.Equal(t, "intro", report.Parts[0].Part)
	assert.Equal(t, 16, report.Parts[0].Score)
	assert.Equal(t, 20, report.Parts[0].Max)
	assert.Equal(t, 32, report.Parts[1].Score)
	assert.Equal(t, 33, report.Parts[2].Score)
}

func TestScoresClampedToCategoryMax(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	// Intro sub-scores cap at 5; negatives floor at 0.
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 9, -2, 5, 7)))

	committed, ok := m.PartResult(PartIntro)
	require.True(t, ok)
	assert.Equal(t, 5, committed.TaskAchievement)
	assert.Equal(t, 0, committed.Pronunciation)
	assert.Equal(t, 15, committed.Score())
}

func TestTopicGeneratorFallback(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	log := &eventLog{}
	m := NewMachine(
		stubSynth{clip: audibleClip()},
		stubTopics{err: errors.New("provider down")},
		stubIllus{},
		rec,
		log.hooks(),
	)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 1, 1, 1, 1)))
	require.NoError(t, m.NextPart())

	require.NoError(t, m.Start(ctx))
	snap := m.Snapshot()
	assert.Equal(t, PartPicture.DefaultTopic(), snap.Prompt)
	assert.Empty(t, snap.ImageURL)
}

func TestFallbackClipAutoAdvances(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	log := &eventLog{}
	m := NewMachine(
		stubSynth{clip: FallbackClip()},
		stubTopics{topic: "topic"},
		stubIllus{},
		rec,
		log.hooks(),
	)

	// With no audio to play, the intro drops straight into recording.
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StatusUserSpeaking, m.Status())
	assert.True(t, m.Snapshot().Clip.Fallback)
}

func TestInvalidTransitionsRejected(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	var te *TransitionError

	require.ErrorAs(t, m.PlaybackFinished(ctx), &te)
	require.ErrorAs(t, m.StopSpeaking(false), &te)
	require.ErrorAs(t, m.NextPart(), &te)
	require.ErrorAs(t, m.Skip(), &te)
	require.ErrorAs(t, m.EvaluationSucceeded(ctx, outcome("x", false, 1, 1, 1, 1)), &te)
	require.ErrorAs(t, m.EvaluationFailed(errors.New("x")), &te)
	_, err := m.Report()
	require.ErrorAs(t, err, &te)

	require.NoError(t, m.Start(ctx))
	// Starting twice is invalid.
	require.ErrorAs(t, m.Start(ctx), &te)
	// BeginSpeaking is not valid while the prompt is playing.
	require.ErrorAs(t, m.BeginSpeaking(ctx), &te)
}

func TestDuplicateStopRejectedWhileProcessing(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, log := newTestMachine(rec)

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.Error(t, m.StopSpeaking(false))
	// Only one submission went out.
	assert.Len(t, log.subs, 1)
}

func TestNextPartResetsState(t *testing.T) {
	rec := &stubRecorder{data: []byte("audio")}
	m, _ := newTestMachine(rec)
	ctx := context.Background()

	toSpeaking(t, m)
	require.NoError(t, m.StopSpeaking(false))
	require.NoError(t, m.EvaluationSucceeded(ctx, outcome("bye", false, 2, 2, 2, 2)))
	require.NoError(t, m.NextPart())

	snap := m.Snapshot()
	assert.Equal(t, "picture", snap.Part)
	assert.Equal(t, 2, snap.PartNumber)
	assert.Equal(t, "idle", snap.Status)
	assert.Zero(t, m.Turn())
	assert.Empty(t, snap.Prompt)
	assert.Empty(t, snap.Error)
}

func TestCountdownTickFiresExactlyOnce(t *testing.T) {
	var c countdown
	c.reset(3)

	assert.False(t, c.tick())
	assert.False(t, c.tick())
	assert.True(t, c.tick())
	// Exhausted: no second fire, never negative.
	assert.False(t, c.tick())
	assert.Equal(t, 0, c.remaining)
}
