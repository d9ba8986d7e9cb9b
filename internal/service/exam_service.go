package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

const (
	defaultTickInterval = time.Second
	defaultEvalTimeout  = 90 * time.Second
)

// Broadcaster pushes session events to connected clients. The websocket hub
// implements it; a nil broadcaster just drops events.
type Broadcaster interface {
	Broadcast(sessionID string, event string, payload interface{})
}

// SessionEvent is the payload broadcast on every machine transition and tick.
type SessionEvent struct {
	SessionID string        `json:"session_id"`
	Event     string        `json:"event"`
	Snapshot  exam.Snapshot `json:"snapshot"`
}

// ExamSession is one live exam: a state machine, its audio buffer and the
// ticker goroutine driving the countdowns.
type ExamSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	machine  *exam.Machine
	recorder *bufferRecorder
	cancel   context.CancelFunc
}

// ExamServiceDeps bundles the collaborators of the session runner. Evaluator
// is required; everything else degrades gracefully when nil.
type ExamServiceDeps struct {
	Evaluator   exam.Evaluator
	Synthesizer exam.Synthesizer
	Topics      exam.TopicGenerator
	Illustrator exam.Illustrator
	Archive     *ArchiveService
	Recordings  *client.StorageClient
	Logger      zerolog.Logger
}

// ExamService owns the live exam sessions. Each session's machine is driven
// by client events arriving over HTTP, a one-second ticker, and evaluation
// results landing from background goroutines.
type ExamService struct {
	deps        ExamServiceDeps
	broadcaster Broadcaster
	log         zerolog.Logger

	tickInterval time.Duration
	evalTimeout  time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*ExamSession
}

// NewExamService creates a new exam session service.
func NewExamService(deps ExamServiceDeps) *ExamService {
	return &ExamService{
		deps:         deps,
		log:          deps.Logger,
		tickInterval: defaultTickInterval,
		evalTimeout:  defaultEvalTimeout,
		sessions:     make(map[uuid.UUID]*ExamSession),
	}
}

// SetBroadcaster attaches the websocket hub. Called once during wiring,
// before any session exists.
func (s *ExamService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CreateSession starts a new exam session for the user and launches its
// ticker.
func (s *ExamService) CreateSession(userID uuid.UUID) *ExamSession {
	sess := &ExamSession{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		recorder:  newBufferRecorder(),
	}

	hooks := exam.Hooks{
		OnSubmit: func(sub *exam.Submission) {
			go s.process(sess, sub)
		},
		OnTransition: func(event string, snap exam.Snapshot) {
			s.onTransition(sess, event, snap)
		},
	}
	sess.machine = exam.NewMachine(s.deps.Synthesizer, s.deps.Topics, s.deps.Illustrator, sess.recorder, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	go s.runTicker(ctx, sess.machine)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("user_id", userID.String()).
		Msg("Exam session created")
	return sess
}

// Session returns a live session by ID.
func (s *ExamService) Session(id uuid.UUID) (*ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.NotFound("exam session")
	}
	return sess, nil
}

// Start begins the current part of the session.
func (s *ExamService) Start(ctx context.Context, id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.Start(ctx); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// PlaybackFinished reports that the client finished playing the prompt audio.
func (s *ExamService) PlaybackFinished(ctx context.Context, id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.PlaybackFinished(ctx); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// BeginSpeaking cuts preparation short (or retries after a failed
// evaluation) and starts recording.
func (s *ExamService) BeginSpeaking(ctx context.Context, id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.BeginSpeaking(ctx); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// AppendAudio buffers one uploaded chunk of the active recording.
func (s *ExamService) AppendAudio(id uuid.UUID, chunk []byte) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := sess.recorder.Append(chunk); err != nil {
		return errors.Wrap(errors.ErrValidation, "no active recording", err)
	}
	return nil
}

// StopSpeaking ends the recording and submits it for evaluation. With finish
// set, the part completes once this answer is scored.
func (s *ExamService) StopSpeaking(id uuid.UUID, finish bool) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.StopSpeaking(finish); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// Skip abandons the current part with an all-zero record.
func (s *ExamService) Skip(id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.Skip(); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// Finish ends the part on the last received feedback without a fresh
// submission.
func (s *ExamService) Finish(id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.FinishWillingly(); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// NextPart leaves the part-completed screen.
func (s *ExamService) NextPart(id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	if err := sess.machine.NextPart(); err != nil {
		return exam.Snapshot{}, mapMachineErr(err)
	}
	return sess.machine.Snapshot(), nil
}

// Snapshot returns the session's current visible state.
func (s *ExamService) Snapshot(id uuid.UUID) (exam.Snapshot, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Snapshot{}, err
	}
	return sess.machine.Snapshot(), nil
}

// Report returns the final aggregate report of a completed session.
func (s *ExamService) Report(id uuid.UUID) (exam.Report, error) {
	sess, err := s.Session(id)
	if err != nil {
		return exam.Report{}, err
	}
	rep, err := sess.machine.Report()
	if err != nil {
		return exam.Report{}, mapMachineErr(err)
	}
	return rep, nil
}

// CloseSession stops a session's ticker and removes it.
func (s *ExamService) CloseSession(id uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok && sess.cancel != nil {
		sess.cancel()
	}
}

// Close tears down every live session. Called on shutdown.
func (s *ExamService) Close() {
	s.mu.Lock()
	sessions := make([]*ExamSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[uuid.UUID]*ExamSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
	}
}

// runTicker drives the machine's countdowns at one-second resolution. Ticks
// outside a counting state are no-ops inside the machine.
func (s *ExamService) runTicker(ctx context.Context, m *exam.Machine) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Status() == exam.StatusCompleted {
				return
			}
			m.Tick()
		}
	}
}

// process runs one submission's evaluation off the machine's lock and
// delivers the result back as an event. The recording is retained in cloud
// storage on the side.
func (s *ExamService) process(sess *ExamSession, sub *exam.Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), s.evalTimeout)
	defer cancel()

	go s.retainRecording(sess, sub)

	out, err := s.deps.Evaluator.Evaluate(ctx, sub)
	if err != nil {
		s.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("part", sub.Part.String()).
			Msg("Evaluation failed")
		if ferr := sess.machine.EvaluationFailed(err); ferr != nil {
			s.log.Warn().Err(ferr).Msg("Stale evaluation failure dropped")
		}
		return
	}

	if serr := sess.machine.EvaluationSucceeded(ctx, out); serr != nil {
		s.log.Warn().Err(serr).Msg("Stale evaluation result dropped")
	}
}

// retainRecording stores the raw answer audio in the private bucket. Failures
// are logged and never touch the exam flow.
func (s *ExamService) retainRecording(sess *ExamSession, sub *exam.Submission) {
	if s.deps.Recordings == nil || len(sub.Audio) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	object := fmt.Sprintf("recordings/%s/%s-turn%d.webm", sess.ID, sub.Part, sub.Turn)
	if _, err := s.deps.Recordings.Upload(ctx, object, sub.Audio); err != nil {
		s.log.Warn().Err(err).Str("object", object).Msg("Failed to retain answer recording")
	}
}

// onTransition fans each machine event out to connected clients and, on
// session completion, ships the report to the archive.
func (s *ExamService) onTransition(sess *ExamSession, event string, snap exam.Snapshot) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(sess.ID.String(), event, SessionEvent{
			SessionID: sess.ID.String(),
			Event:     event,
			Snapshot:  snap,
		})
	}

	if event == "completed" {
		go s.archiveReport(sess)
	}

	if event != "tick" {
		s.log.Debug().
			Str("session_id", sess.ID.String()).
			Str("event", event).
			Str("status", snap.Status).
			Msg("Session transition")
	}
}

func (s *ExamService) archiveReport(sess *ExamSession) {
	if s.deps.Archive == nil {
		return
	}

	rep, err := sess.machine.Report()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.deps.Archive.Publish(ctx, ArchivedReport{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Report:    rep,
	}); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to publish exam report")
	}
}

func mapMachineErr(err error) error {
	var te *exam.TransitionError
	if stderrors.As(err, &te) {
		return errors.InvalidTransition(te.Error())
	}
	return err
}

// bufferRecorder implements exam.Recorder over chunked HTTP uploads. Start
// opens the buffer (releasing anything a prior stream left behind), Append
// accumulates chunks, Stop yields exactly one blob.
type bufferRecorder struct {
	mu     sync.Mutex
	active bool
	buf    []byte
}

func newBufferRecorder() *bufferRecorder {
	return &bufferRecorder{}
}

func (r *bufferRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	r.active = true
	return nil
}

func (r *bufferRecorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return fmt.Errorf("no active recording")
	}
	r.buf = append(r.buf, chunk...)
	return nil
}

func (r *bufferRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, fmt.Errorf("no active recording")
	}
	r.active = false
	if len(r.buf) == 0 {
		return nil, fmt.Errorf("no audio captured")
	}
	blob := r.buf
	r.buf = nil
	return blob, nil
}

func (r *bufferRecorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.buf = nil
}
