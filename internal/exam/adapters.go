package exam

import "context"

// Clip is a playable piece of synthesized speech. When Fallback is set the
// primary synthesis service was unavailable and the client should use local
// speech playback; the machine then treats playback as instantly complete.
type Clip struct {
	URL      string `json:"url,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// FallbackClip is the sentinel returned on terminal synthesis failure.
func FallbackClip() Clip {
	return Clip{Fallback: true}
}

// Synthesizer turns prompt text into playable audio. Implementations must not
// fail on transient errors; on terminal failure they return the fallback
// sentinel instead of an error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) Clip
}

// Outcome is the evaluation adapter's verdict on one submission. Feedback is
// always present, even when Continue is false; adapters reject responses
// without it as malformed.
type Outcome struct {
	Transcript string         `json:"transcript"`
	ReplyText  string         `json:"reply_text"`
	Feedback   FeedbackRecord `json:"feedback"`
	Continue   bool           `json:"continue"`
}

// Evaluator scores one recorded answer. It is the sole gate for the
// Processing transition; terminal errors surface to the machine unretried
// (transient rate limits are the adapter's own problem).
type Evaluator interface {
	Evaluate(ctx context.Context, sub *Submission) (*Outcome, error)
}

// TopicGenerator produces the prompt topic for Picture/Discussion parts.
// Callers fall back to Part.DefaultTopic on error rather than block.
type TopicGenerator interface {
	Topic(ctx context.Context, part Part) (string, error)
}

// Illustrator produces an optional illustrative image for a topic. Absence
// (ok == false) never blocks part progression.
type Illustrator interface {
	Illustrate(ctx context.Context, topic string) (url string, ok bool)
}

// Recorder captures the student's audio. Start releases any prior stream
// before opening a new one; Stop yields exactly one blob per recording
// session; Discard drops a recording without producing a blob.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
	Discard()
}

// Submission is the unit of work handed to the evaluator when the machine
// enters Processing.
type Submission struct {
	Part    Part
	Turn    int // completed turns before this submission (0 for the primary answer)
	Audio   []byte
	Context string // the prompt/topic the student answered
	History []Message
	Finish  bool // student asked to finish the part with this answer
}
