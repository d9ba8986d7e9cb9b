package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

const (
	tutorReplyKeyPrefix      = "tutor:reply:"
	tutorTranscriptKeyPrefix = "tutor:transcript:"
	tutorReplyTTL            = 60 * time.Second
	tutorReplyTimeout        = 10 * time.Second
)

// ChatProvider is the narrow LLM surface the tutor's analysis uses. Both the
// Gemini and OpenAI clients satisfy it.
type ChatProvider interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Replier produces the fast conversational reply. The flash-lite client
// satisfies it.
type Replier interface {
	Chat(ctx context.Context, message string) (string, error)
}

// TutorEntry is one utterance in a practice conversation, patched in place
// as the reply and the analysis land.
type TutorEntry struct {
	ID           string               `json:"id"`
	Utterance    string               `json:"utterance"`
	Reply        string               `json:"reply,omitempty"`
	Analysis     *exam.FeedbackRecord `json:"analysis,omitempty"`
	ReplyDone    bool                 `json:"reply_done"`
	AnalysisDone bool                 `json:"analysis_done"`
	CreatedAt    time.Time            `json:"created_at"`
}

// TutorEvent is one item on a request's reply queue: the fast reply or the
// full analysis, whichever finished.
type TutorEvent struct {
	Type  string     `json:"type"` // "reply" or "analysis"
	Error string     `json:"error,omitempty"`
	Entry TutorEntry `json:"entry"`
}

type tutorSession struct {
	mu      sync.Mutex
	id      string
	entries []*TutorEntry
	history []exam.Message
}

// TutorService runs free-form speaking practice outside the exam. Each
// utterance fans out into two concurrent jobs: a low-latency conversational
// reply and a full feedback analysis. Both patch the same transcript entry
// regardless of completion order; clients long-poll the reply queue for
// whichever lands first.
type TutorService struct {
	replier     Replier
	analyzer    ChatProvider
	redisClient *client.RedisClient
	log         zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*tutorSession
}

// NewTutorService creates a new tutor service.
func NewTutorService(replier Replier, analyzer ChatProvider, redisClient *client.RedisClient, log zerolog.Logger) *TutorService {
	return &TutorService{
		replier:     replier,
		analyzer:    analyzer,
		redisClient: redisClient,
		log:         log,
		sessions:    make(map[string]*tutorSession),
	}
}

// StartSession opens a new practice conversation and returns its ID.
func (s *TutorService) StartSession() string {
	id := uuid.New().String()
	s.mu.Lock()
	s.sessions[id] = &tutorSession{id: id}
	s.mu.Unlock()
	return id
}

func (s *TutorService) session(id string) (*tutorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.NotFound("tutor session")
	}
	return sess, nil
}

// Say records one utterance and kicks off the reply and analysis jobs. It
// returns immediately with the entry ID; results arrive on the reply queue
// and in the transcript.
func (s *TutorService) Say(ctx context.Context, sessionID, utterance string) (string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", errors.Validation("utterance is required")
	}

	sess, err := s.session(sessionID)
	if err != nil {
		return "", err
	}

	entry := &TutorEntry{
		ID:        fmt.Sprintf("req_%s", uuid.New().String()[:8]),
		Utterance: utterance,
		CreatedAt: time.Now().UTC(),
	}

	sess.mu.Lock()
	sess.entries = append(sess.entries, entry)
	history := make([]exam.Message, len(sess.history))
	copy(history, sess.history)
	sess.mu.Unlock()

	go s.processReply(sess, entry, history)
	go s.processAnalysis(sess, entry, history)

	return entry.ID, nil
}

// processReply produces the fast conversational reply and appends the turn
// to the session history.
func (s *TutorService) processReply(sess *tutorSession, entry *TutorEntry, history []exam.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var reply string
	var err error
	if s.replier != nil {
		reply, err = s.replier.Chat(ctx, buildTutorReplyPrompt(history, entry.Utterance))
	} else {
		err = fmt.Errorf("replier not configured")
	}

	sess.mu.Lock()
	if err == nil {
		entry.Reply = strings.TrimSpace(reply)
		sess.history = append(sess.history,
			exam.Message{Role: exam.RoleUser, Content: entry.Utterance},
			exam.Message{Role: exam.RoleAssistant, Content: entry.Reply},
		)
	}
	entry.ReplyDone = true
	snapshot := *entry
	sess.mu.Unlock()

	s.publishEvent(ctx, sess.id, "reply", snapshot, err)
}

// processAnalysis produces the full feedback record for the utterance.
func (s *TutorService) processAnalysis(sess *tutorSession, entry *TutorEntry, history []exam.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var fb *exam.FeedbackRecord
	var err error
	if s.analyzer != nil {
		fb, err = s.analyze(ctx, entry.Utterance, history)
	} else {
		err = fmt.Errorf("analyzer not configured")
	}

	sess.mu.Lock()
	if err == nil {
		entry.Analysis = fb
	}
	entry.AnalysisDone = true
	snapshot := *entry
	sess.mu.Unlock()

	s.publishEvent(ctx, sess.id, "analysis", snapshot, err)
}

func (s *TutorService) analyze(ctx context.Context, utterance string, history []exam.Message) (*exam.FeedbackRecord, error) {
	raw, err := s.analyzer.Chat(ctx, buildTutorAnalysisPrompt(history, utterance))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Feedback *exam.FeedbackRecord `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	if payload.Feedback == nil {
		return nil, fmt.Errorf("analysis response missing feedback object")
	}

	fb := payload.Feedback.Clamp(10)
	return &fb, nil
}

// publishEvent pushes the completion onto the entry's reply queue and
// snapshots the patched entry into the transcript hash.
func (s *TutorService) publishEvent(ctx context.Context, sessionID, eventType string, entry TutorEntry, procErr error) {
	if procErr != nil {
		s.log.Warn().Err(procErr).
			Str("session_id", sessionID).
			Str("type", eventType).
			Str("entry_id", entry.ID).
			Msg("Tutor job failed")
	}

	if s.redisClient == nil {
		return
	}

	event := TutorEvent{Type: eventType, Entry: entry}
	if procErr != nil {
		event.Error = procErr.Error()
	}

	queueKey := tutorReplyKeyPrefix + entry.ID
	if err := s.redisClient.RPush(ctx, queueKey, event); err != nil {
		s.log.Error().Err(err).Str("key", queueKey).Msg("Failed to push tutor event")
		return
	}
	if err := s.redisClient.SetExpiry(ctx, queueKey, tutorReplyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", queueKey).Msg("Failed to set tutor queue TTL")
	}

	data, err := json.Marshal(entry)
	if err == nil {
		transcriptKey := tutorTranscriptKeyPrefix + sessionID
		if err := s.redisClient.HSet(ctx, transcriptKey, entry.ID, string(data)); err != nil {
			s.log.Warn().Err(err).Str("key", transcriptKey).Msg("Failed to snapshot transcript entry")
		}
	}
}

// GetEvent long-polls the next completion for a request: the fast reply or
// the analysis, whichever is ready. Returns nil with no error on timeout.
func (s *TutorService) GetEvent(ctx context.Context, requestID string) (*TutorEvent, error) {
	if s.redisClient == nil {
		return nil, errors.New(errors.ErrInternal, "reply queue not configured")
	}

	data, err := s.redisClient.BLPop(ctx, tutorReplyTimeout, tutorReplyKeyPrefix+requestID)
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrInternal, "failed to poll tutor events", err)
	}

	var event TutorEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "malformed tutor event", err)
	}
	return &event, nil
}

// Entry returns a copy of one transcript entry.
func (s *TutorService) Entry(sessionID, entryID string) (TutorEntry, bool) {
	sess, err := s.session(sessionID)
	if err != nil {
		return TutorEntry{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, e := range sess.entries {
		if e.ID == entryID {
			return *e, true
		}
	}
	return TutorEntry{}, false
}

// Transcript returns a copy of the session's entries in order.
func (s *TutorService) Transcript(sessionID string) ([]TutorEntry, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]TutorEntry, len(sess.entries))
	for i, e := range sess.entries {
		out[i] = *e
	}
	return out, nil
}

func buildTutorReplyPrompt(history []exam.Message, utterance string) string {
	var sb strings.Builder
	sb.WriteString("You are a friendly English conversation tutor. Reply naturally in 1-2 sentences and keep the conversation going.\n")
	for _, msg := range history {
		speaker := "Student"
		if msg.Role == exam.RoleAssistant {
			speaker = "Tutor"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, msg.Content)
	}
	fmt.Fprintf(&sb, "Student: %s\nTutor:", utterance)
	return sb.String()
}

func buildTutorAnalysisPrompt(history []exam.Message, utterance string) string {
	var sb strings.Builder
	sb.WriteString("You are an English language coach. Analyze the student's utterance below.\n")
	if len(history) > 0 {
		sb.WriteString("Conversation context:\n")
		for _, msg := range history {
			speaker := "Student"
			if msg.Role == exam.RoleAssistant {
				speaker = "Tutor"
			}
			fmt.Fprintf(&sb, "%s: %s\n", speaker, msg.Content)
		}
	}
	fmt.Fprintf(&sb, `Utterance: %q

Each sub-score is an integer from 0 to 10.
Output STRICTLY raw JSON (no markdown backticks):
{
  "feedback": {
    "task_achievement": 0,
    "pronunciation": 0,
    "grammar": 0,
    "fluency_coherence": 0,
    "commentary": "2-3 sentences of feedback",
    "mistakes": [{"mistake": "", "correction": "", "category": "grammar|pronunciation|vocabulary"}],
    "weaknesses": [""],
    "improvements": [""]
  }
}
`, utterance)
	return sb.String()
}
