package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/E1venking/Kuleli-English-Centre/internal/logger"
)

const sampleAnalysis = `{"feedback": {
	"task_achievement": 7, "pronunciation": 6, "grammar": 8, "fluency_coherence": 7,
	"commentary": "Solid attempt.",
	"mistakes": [{"mistake": "goed", "correction": "went", "category": "grammar"}]
}}`

// gatedChat blocks each call until released, recording the prompts it saw.
type gatedChat struct {
	release chan struct{}
	resp    string
	err     error

	mu      sync.Mutex
	prompts []string
}

func newGatedChat(resp string) *gatedChat {
	return &gatedChat{release: make(chan struct{}), resp: resp}
}

func (c *gatedChat) Chat(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, message)
	c.mu.Unlock()

	select {
	case <-c.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.resp, c.err
}

func (c *gatedChat) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.prompts))
	copy(out, c.prompts)
	return out
}

func waitEntry(t *testing.T, svc *TutorService, sessionID, entryID string, done func(TutorEntry) bool) TutorEntry {
	t.Helper()
	var entry TutorEntry
	require.Eventually(t, func() bool {
		e, ok := svc.Entry(sessionID, entryID)
		if !ok {
			return false
		}
		entry = e
		return done(e)
	}, 2*time.Second, 5*time.Millisecond)
	return entry
}

func TestTutorReplyLandsBeforeAnalysis(t *testing.T) {
	replier := newGatedChat("Nice! What happened next?")
	analyzer := newGatedChat(sampleAnalysis)
	svc := NewTutorService(replier, analyzer, nil, logger.NewNop())

	sessionID := svc.StartSession()
	entryID, err := svc.Say(context.Background(), sessionID, "Yesterday I goed to the park.")
	require.NoError(t, err)

	close(replier.release)
	entry := waitEntry(t, svc, sessionID, entryID, func(e TutorEntry) bool { return e.ReplyDone })
	assert.Equal(t, "Nice! What happened next?", entry.Reply)
	assert.False(t, entry.AnalysisDone)
	assert.Nil(t, entry.Analysis)

	close(analyzer.release)
	entry = waitEntry(t, svc, sessionID, entryID, func(e TutorEntry) bool { return e.AnalysisDone })
	require.NotNil(t, entry.Analysis)
	assert.Equal(t, 28, entry.Analysis.Score())
	// The earlier reply survived the analysis patch.
	assert.Equal(t, "Nice! What happened next?", entry.Reply)
}

func TestTutorAnalysisLandsBeforeReply(t *testing.T) {
	replier := newGatedChat("Sounds fun!")
	analyzer := newGatedChat(sampleAnalysis)
	svc := NewTutorService(replier, analyzer, nil, logger.NewNop())

	sessionID := svc.StartSession()
	entryID, err := svc.Say(context.Background(), sessionID, "I visited my grandmother.")
	require.NoError(t, err)

	close(analyzer.release)
	entry := waitEntry(t, svc, sessionID, entryID, func(e TutorEntry) bool { return e.AnalysisDone })
	require.NotNil(t, entry.Analysis)
	assert.False(t, entry.ReplyDone)

	close(replier.release)
	entry = waitEntry(t, svc, sessionID, entryID, func(e TutorEntry) bool { return e.ReplyDone })
	assert.Equal(t, "Sounds fun!", entry.Reply)
	// The earlier analysis survived the reply patch.
	require.NotNil(t, entry.Analysis)
	assert.Equal(t, 28, entry.Analysis.Score())
}

func TestTutorHistoryCarriesIntoNextTurn(t *testing.T) {
	replier := newGatedChat("Great!")
	analyzer := newGatedChat(sampleAnalysis)
	close(replier.release)
	close(analyzer.release)
	svc := NewTutorService(replier, analyzer, nil, logger.NewNop())

	sessionID := svc.StartSession()
	first, err := svc.Say(context.Background(), sessionID, "Hello, my name is Deniz.")
	require.NoError(t, err)
	waitEntry(t, svc, sessionID, first, func(e TutorEntry) bool { return e.ReplyDone && e.AnalysisDone })

	second, err := svc.Say(context.Background(), sessionID, "I am learning English.")
	require.NoError(t, err)
	waitEntry(t, svc, sessionID, second, func(e TutorEntry) bool { return e.ReplyDone })

	prompts := replier.seen()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Hello, my name is Deniz.")
	assert.Contains(t, prompts[1], "Great!")

	entries, err := svc.Transcript(sessionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Hello, my name is Deniz.", entries[0].Utterance)
}

func TestTutorSayValidation(t *testing.T) {
	svc := NewTutorService(nil, nil, nil, logger.NewNop())

	sessionID := svc.StartSession()
	_, err := svc.Say(context.Background(), sessionID, "   ")
	require.Error(t, err)

	_, err = svc.Say(context.Background(), "missing", "hello")
	require.Error(t, err)

	_, err = svc.Transcript("missing")
	require.Error(t, err)
}

func TestTutorFailedJobStillCompletesEntry(t *testing.T) {
	replier := newGatedChat("")
	replier.err = context.DeadlineExceeded
	analyzer := newGatedChat(sampleAnalysis)
	close(replier.release)
	close(analyzer.release)
	svc := NewTutorService(replier, analyzer, nil, logger.NewNop())

	sessionID := svc.StartSession()
	entryID, err := svc.Say(context.Background(), sessionID, "Testing failures.")
	require.NoError(t, err)

	entry := waitEntry(t, svc, sessionID, entryID, func(e TutorEntry) bool { return e.ReplyDone && e.AnalysisDone })
	assert.Empty(t, entry.Reply)
	require.NotNil(t, entry.Analysis)
}
