package exam

import (
	"context"
	"fmt"
	"sync"
)

// Status is the single active state of an exam session.
type Status int

const (
	StatusIdle Status = iota
	StatusAISpeaking
	StatusUserPrep
	StatusUserSpeaking
	StatusProcessing
	StatusPartCompleted
	StatusCompleted
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAISpeaking:
		return "ai_speaking"
	case StatusUserPrep:
		return "user_prep"
	case StatusUserSpeaking:
		return "user_speaking"
	case StatusProcessing:
		return "processing"
	case StatusPartCompleted:
		return "part_completed"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// TransitionError reports an event arriving in a state that does not accept it.
type TransitionError struct {
	Event  string
	Status Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q not valid in state %q", e.Event, e.Status)
}

// Snapshot is the externally visible state of the machine, rendered on every
// transition and streamed to the client.
type Snapshot struct {
	Part       string `json:"part"`
	PartNumber int    `json:"part_number"`
	Status     string `json:"status"`
	Turn       int    `json:"turn"`
	Prompt     string `json:"prompt"`
	Clip       Clip   `json:"clip"`
	ImageURL   string `json:"image_url,omitempty"`
	Remaining  int    `json:"remaining"`
	Total      int    `json:"total"`
	Error      string `json:"error,omitempty"`
}

// Hooks are the machine's outbound callbacks. OnSubmit receives each
// submission entering Processing; OnTransition observes every state change
// and countdown tick. Both are invoked outside the machine lock and must not
// call back into the machine synchronously.
type Hooks struct {
	OnSubmit     func(*Submission)
	OnTransition func(event string, snap Snapshot)
}

// Machine drives one exam session through its parts, enforcing the
// preparation/speaking countdowns and the turn cap, and delegating all
// semantic work to its collaborators. All event methods serialize on one
// lock; the machine spawns no goroutines of its own. Asynchronous work is
// the caller's concern, delivered back as events.
type Machine struct {
	mu       sync.Mutex
	synth    Synthesizer
	topics   TopicGenerator
	illus    Illustrator
	recorder Recorder
	hooks    Hooks

	part   Part
	status Status
	turn   int

	prompt   string
	topic    string
	clip     Clip
	imageURL string
	timer    countdown

	history         []Message
	lastFeedback    *FeedbackRecord
	results         *Results
	finishRequested bool
	lastErr         string

	pendingSub    *Submission
	pendingEvents []pendingEvent
}

type pendingEvent struct {
	name string
	snap Snapshot
}

// NewMachine creates a machine positioned at the introduction part, idle.
func NewMachine(synth Synthesizer, topics TopicGenerator, illus Illustrator, recorder Recorder, hooks Hooks) *Machine {
	return &Machine{
		synth:    synth,
		topics:   topics,
		illus:    illus,
		recorder: recorder,
		hooks:    hooks,
		part:     PartIntro,
		status:   StatusIdle,
		results:  NewResults(),
	}
}

// run executes one event under the lock, then flushes observer calls and the
// pending submission outside it.
func (m *Machine) run(fn func() error) error {
	m.mu.Lock()
	err := fn()
	sub := m.pendingSub
	events := m.pendingEvents
	m.pendingSub = nil
	m.pendingEvents = nil
	m.mu.Unlock()

	for _, ev := range events {
		if m.hooks.OnTransition != nil {
			m.hooks.OnTransition(ev.name, ev.snap)
		}
	}
	if sub != nil && m.hooks.OnSubmit != nil {
		m.hooks.OnSubmit(sub)
	}
	return err
}

func (m *Machine) emit(event string) {
	m.pendingEvents = append(m.pendingEvents, pendingEvent{event, m.snapshotLocked()})
}

func (m *Machine) invalid(event string) error {
	return &TransitionError{Event: event, Status: m.status}
}

// Start enters the current part: it loads the part prompt (static for the
// introduction, generated topic and optional illustration otherwise),
// synthesizes it and moves to AISpeaking.
func (m *Machine) Start(ctx context.Context) error {
	return m.run(func() error {
		if m.status != StatusIdle || m.prompt != "" {
			return m.invalid("start")
		}

		if m.part.HasPrep() {
			m.topic = m.part.DefaultTopic()
			if m.topics != nil {
				if topic, err := m.topics.Topic(ctx, m.part); err == nil && topic != "" {
					m.topic = topic
				}
			}
			if m.illus != nil {
				if url, ok := m.illus.Illustrate(ctx, m.topic); ok {
					m.imageURL = url
				}
			}
			m.prompt = m.topic
		} else {
			m.topic = IntroPrompt
			m.prompt = IntroPrompt
		}

		m.speakPromptLocked(ctx)
		m.emit("start")
		m.autoAdvanceFallbackLocked(ctx)
		return nil
	})
}

// speakPromptLocked synthesizes the current prompt and enters AISpeaking.
func (m *Machine) speakPromptLocked(ctx context.Context) {
	m.clip = FallbackClip()
	if m.synth != nil {
		m.clip = m.synth.Synthesize(ctx, m.prompt)
	}
	m.status = StatusAISpeaking
}

// autoAdvanceFallbackLocked treats playback as instantly complete when the
// synthesizer returned the fallback sentinel and there is no audio to wait on.
func (m *Machine) autoAdvanceFallbackLocked(ctx context.Context) {
	if m.status == StatusAISpeaking && m.clip.Fallback && m.clip.URL == "" {
		m.playbackFinishedLocked(ctx)
	}
}

// PlaybackFinished signals that the prompt audio finished playing.
func (m *Machine) PlaybackFinished(ctx context.Context) error {
	return m.run(func() error {
		if m.status != StatusAISpeaking {
			return m.invalid("playback_finished")
		}
		return m.playbackFinishedLocked(ctx)
	})
}

func (m *Machine) playbackFinishedLocked(ctx context.Context) error {
	// First Picture/Discussion turn gets a preparation phase; the intro and
	// every follow-up turn go straight to recording.
	if m.part.HasPrep() && m.turn == 0 {
		m.status = StatusUserPrep
		m.timer.reset(PrepSeconds)
		m.emit("user_prep")
		return nil
	}
	return m.startSpeakingLocked(ctx)
}

// BeginSpeaking starts recording. It is valid from UserPrep (the student
// chose to start early) and from Idle after a failed evaluation (retry of the
// same turn).
func (m *Machine) BeginSpeaking(ctx context.Context) error {
	return m.run(func() error {
		switch {
		case m.status == StatusUserPrep:
			return m.startSpeakingLocked(ctx)
		case m.status == StatusIdle && m.lastErr != "":
			return m.startSpeakingLocked(ctx)
		default:
			return m.invalid("begin_speaking")
		}
	})
}

func (m *Machine) startSpeakingLocked(ctx context.Context) error {
	// The recorder releases any prior stream; recording and prompt playback
	// are mutually exclusive by construction of the state machine.
	if m.recorder != nil {
		if err := m.recorder.Start(ctx); err != nil {
			// Microphone failure is fatal to the turn: no recording proceeds.
			m.lastErr = err.Error()
			m.status = StatusIdle
			m.emit("recorder_failed")
			return err
		}
	}
	m.lastErr = ""
	m.status = StatusUserSpeaking
	m.timer.reset(SpeakingSeconds)
	m.emit("user_speaking")
	return nil
}

// Tick advances the countdown by one second. It only has effect in UserPrep
// and UserSpeaking; expiry fires the corresponding transition exactly once.
func (m *Machine) Tick() {
	_ = m.run(func() error {
		switch m.status {
		case StatusUserPrep:
			if m.timer.tick() {
				return m.startSpeakingLocked(context.Background())
			}
			m.emit("tick")
		case StatusUserSpeaking:
			if m.timer.tick() {
				return m.stopSpeakingLocked(false)
			}
			m.emit("tick")
		}
		return nil
	})
}

// StopSpeaking ends the recording and submits it for evaluation. With finish
// set, the part completes once this submission's evaluation lands, regardless
// of the service's continue signal. While a submission is outstanding
// (Processing) further stops are rejected, preventing duplicate turn
// increments.
func (m *Machine) StopSpeaking(finish bool) error {
	return m.run(func() error {
		if m.status != StatusUserSpeaking {
			return m.invalid("stop_speaking")
		}
		return m.stopSpeakingLocked(finish)
	})
}

func (m *Machine) stopSpeakingLocked(finish bool) error {
	var audio []byte
	if m.recorder != nil {
		blob, err := m.recorder.Stop()
		if err != nil {
			m.failTurnLocked(err)
			return err
		}
		audio = blob
	}

	m.finishRequested = finish
	m.status = StatusProcessing
	m.timer.clear()

	history := make([]Message, len(m.history))
	copy(history, m.history)
	m.pendingSub = &Submission{
		Part:    m.part,
		Turn:    m.turn,
		Audio:   audio,
		Context: m.topic,
		History: history,
		Finish:  finish,
	}
	m.emit("processing")
	return nil
}

// EvaluationSucceeded delivers the adapter's outcome for the outstanding
// submission. The turn counter increments exactly once here; the part
// completes when the service signals stop, the student asked to finish, or
// the turn cap is reached. The cap always overrides a continue signal.
func (m *Machine) EvaluationSucceeded(ctx context.Context, out *Outcome) error {
	return m.run(func() error {
		if m.status != StatusProcessing {
			return m.invalid("evaluation_succeeded")
		}

		m.turn++
		fb := out.Feedback.Clamp(m.part.CategoryMax())
		m.lastFeedback = &fb
		m.lastErr = ""
		m.history = append(m.history,
			Message{Role: RoleUser, Content: out.Transcript},
			Message{Role: RoleAssistant, Content: out.ReplyText},
		)

		if !out.Continue || m.finishRequested || m.turn >= MaxTurns {
			m.completePartLocked(fb)
			return nil
		}

		// Next follow-up turn: the reply becomes the prompt.
		m.prompt = out.ReplyText
		m.speakPromptLocked(ctx)
		m.emit("follow_up")
		m.autoAdvanceFallbackLocked(ctx)
		return nil
	})
}

// EvaluationFailed reports a terminal adapter failure for the outstanding
// submission. The turn counter and results are untouched; the visible prompt
// becomes an apology and the student may retry the same turn.
func (m *Machine) EvaluationFailed(err error) error {
	return m.run(func() error {
		if m.status != StatusProcessing {
			return m.invalid("evaluation_failed")
		}
		m.failTurnLocked(err)
		return nil
	})
}

func (m *Machine) failTurnLocked(err error) {
	m.prompt = ApologyPrompt
	m.clip = Clip{}
	m.finishRequested = false
	m.lastErr = err.Error()
	m.status = StatusIdle
	m.timer.clear()
	m.emit("evaluation_failed")
}

// Skip abandons the current part: any active recording is discarded and an
// all-zero record tagged as skipped is committed.
func (m *Machine) Skip() error {
	return m.run(func() error {
		if m.status != StatusUserPrep && m.status != StatusUserSpeaking {
			return m.invalid("skip")
		}
		if m.status == StatusUserSpeaking && m.recorder != nil {
			m.recorder.Discard()
		}
		m.completePartLocked(SkippedRecord())
		return nil
	})
}

// FinishWillingly ends the part on the last received feedback record without
// a fresh submission. It is rejected before any successful turn, since there
// is no record to commit.
func (m *Machine) FinishWillingly() error {
	return m.run(func() error {
		if m.status != StatusUserSpeaking {
			return m.invalid("finish")
		}
		if m.turn == 0 || m.lastFeedback == nil {
			return fmt.Errorf("cannot finish %s: no completed turn to score", m.part)
		}
		if m.recorder != nil {
			m.recorder.Discard()
		}
		m.completePartLocked(*m.lastFeedback)
		return nil
	})
}

func (m *Machine) completePartLocked(rec FeedbackRecord) {
	// Single assignment into the results history: all four sub-scores and the
	// commentary land together or not at all.
	m.results.Commit(m.part, rec)
	m.finishRequested = false
	m.timer.clear()
	m.status = StatusPartCompleted
	m.emit("part_completed")
}

// NextPart leaves the part-completed screen: it advances to the next part
// (resetting the turn counter) or, after the discussion part, completes the
// session.
func (m *Machine) NextPart() error {
	return m.run(func() error {
		if m.status != StatusPartCompleted {
			return m.invalid("next_part")
		}

		next, ok := m.part.Next()
		if !ok {
			m.status = StatusCompleted
			m.emit("completed")
			return nil
		}

		m.part = next
		m.turn = 0
		m.prompt = ""
		m.topic = ""
		m.imageURL = ""
		m.clip = Clip{}
		m.history = nil
		m.lastFeedback = nil
		m.lastErr = ""
		m.status = StatusIdle
		m.emit("next_part")
		return nil
	})
}

// Report returns the aggregate 100-point report. Only available once the
// session has completed.
func (m *Machine) Report() (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusCompleted {
		return Report{}, m.invalid("report")
	}
	return m.results.Report(), nil
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Counting reports whether the machine is in a state whose countdown should
// be ticked. The timer must not run in any other state.
func (m *Machine) Counting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusUserPrep || m.status == StatusUserSpeaking
}

// Turn returns the number of completed submissions in the current part.
func (m *Machine) Turn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// PartResult returns the committed record for a part, if any.
func (m *Machine) PartResult(part Part) (FeedbackRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results.Record(part)
}

// Snapshot renders the externally visible state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Part:       m.part.String(),
		PartNumber: m.part.Number(),
		Status:     m.status.String(),
		Turn:       m.turn,
		Prompt:     m.prompt,
		Clip:       m.clip,
		ImageURL:   m.imageURL,
		Remaining:  m.timer.remaining,
		Total:      m.timer.total,
		Error:      m.lastErr,
	}
}
