package exam

// Part identifies one scripted segment of the speaking exam.
// Parts are ordered: introduction, picture comparison, open discussion.
type Part int

const (
	PartIntro Part = iota
	PartPicture
	PartDiscussion
)

const (
	// MaxTurns caps the number of evaluated submissions per part
	// (one primary answer plus two follow-ups).
	MaxTurns = 3

	// PrepSeconds is the preparation countdown for parts that have one.
	PrepSeconds = 60

	// SpeakingSeconds is the recording countdown for every part.
	SpeakingSeconds = 120

	// AggregateMax is the nominal maximum of the final report
	// (Intro 20 + Picture 40 + Discussion 40).
	AggregateMax = 100
)

// String returns the part name.
func (p Part) String() string {
	switch p {
	case PartIntro:
		return "intro"
	case PartPicture:
		return "picture"
	case PartDiscussion:
		return "discussion"
	default:
		return "unknown"
	}
}

// Number returns the 1-based part number.
func (p Part) Number() int {
	return int(p) + 1
}

// CategoryMax returns the maximum for each of the four sub-scores.
func (p Part) CategoryMax() int {
	if p == PartIntro {
		return 5
	}
	return 10
}

// Max returns the maximum total score for the part.
func (p Part) Max() int {
	return p.CategoryMax() * 4
}

// HasPrep reports whether the part starts with a preparation countdown
// before the first recording. Follow-up turns never have one.
func (p Part) HasPrep() bool {
	return p != PartIntro
}

// Next returns the following part, or false if p is the last one.
func (p Part) Next() (Part, bool) {
	if p >= PartDiscussion {
		return p, false
	}
	return p + 1, true
}

// IntroPrompt is the static opening prompt for the introduction part.
const IntroPrompt = "Welcome to your speaking exam. Please introduce yourself: " +
	"tell me about your background, your studies or work, and your hobbies."

// ApologyPrompt replaces the visible prompt after a failed evaluation,
// leaving the student free to retry the same turn.
const ApologyPrompt = "I'm sorry, I couldn't process your answer. " +
	"Please try recording it again."

// DefaultTopic returns the fixed fallback topic used when the topic
// generator is unavailable.
func (p Part) DefaultTopic() string {
	switch p {
	case PartPicture:
		return "Compare two photographs of a busy city street and a quiet village road."
	case PartDiscussion:
		return "Do you think technology has made it easier or harder for people to learn languages?"
	default:
		return IntroPrompt
	}
}
