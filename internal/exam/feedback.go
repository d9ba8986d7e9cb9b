package exam

// MistakeCategory classifies a corrected mistake.
type MistakeCategory string

const (
	MistakeGrammar       MistakeCategory = "grammar"
	MistakePronunciation MistakeCategory = "pronunciation"
	MistakeVocabulary    MistakeCategory = "vocabulary"
)

// Valid reports whether the category is one of the known values.
func (c MistakeCategory) Valid() bool {
	switch c {
	case MistakeGrammar, MistakePronunciation, MistakeVocabulary:
		return true
	}
	return false
}

// Mistake is one (mistake, correction, category) triple from the evaluator.
type Mistake struct {
	Text       string          `json:"mistake"`
	Correction string          `json:"correction"`
	Category   MistakeCategory `json:"category"`
}

// FeedbackRecord is the structured scoring and commentary returned per turn.
// Each sub-score is bounded by the part's category maximum.
type FeedbackRecord struct {
	TaskAchievement  int       `json:"task_achievement"`
	Pronunciation    int       `json:"pronunciation"`
	Grammar          int       `json:"grammar"`
	FluencyCoherence int       `json:"fluency_coherence"`
	Commentary       string    `json:"commentary"`
	Mistakes         []Mistake `json:"mistakes,omitempty"`
	Weaknesses       []string  `json:"weaknesses,omitempty"`
	Improvements     []string  `json:"improvements,omitempty"`
	Skipped          bool      `json:"skipped,omitempty"`
}

// Score returns the sum of the four sub-scores.
func (r FeedbackRecord) Score() int {
	return r.TaskAchievement + r.Pronunciation + r.Grammar + r.FluencyCoherence
}

// Clamp bounds every sub-score into [0, max] and returns the result.
func (r FeedbackRecord) Clamp(max int) FeedbackRecord {
	r.TaskAchievement = clamp(r.TaskAchievement, max)
	r.Pronunciation = clamp(r.Pronunciation, max)
	r.Grammar = clamp(r.Grammar, max)
	r.FluencyCoherence = clamp(r.FluencyCoherence, max)
	return r
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// SkippedRecord returns the zero-valued record written when a part is skipped.
func SkippedRecord() FeedbackRecord {
	return FeedbackRecord{
		Commentary: "Part skipped by the student.",
		Skipped:    true,
	}
}

// Results maps each part to its latest committed FeedbackRecord. A part's
// record is overwritten only when the part is replayed. Commits are atomic:
// the whole record is written in one assignment or not at all.
type Results struct {
	records map[Part]FeedbackRecord
}

// NewResults returns an empty results history.
func NewResults() *Results {
	return &Results{records: make(map[Part]FeedbackRecord)}
}

// Commit writes the record for a part, replacing any previous one.
func (r *Results) Commit(part Part, rec FeedbackRecord) {
	r.records[part] = rec
}

// Record returns the committed record for a part, if any.
func (r *Results) Record(part Part) (FeedbackRecord, bool) {
	rec, ok := r.records[part]
	return rec, ok
}

// PartScore returns the total score for one part (0 if not committed).
func (r *Results) PartScore(part Part) int {
	return r.records[part].Score()
}

// Total returns the sum of all committed part scores.
func (r *Results) Total() int {
	total := 0
	for _, rec := range r.records {
		total += rec.Score()
	}
	return total
}

// PartReport is one part's entry in the final report.
type PartReport struct {
	Part     string         `json:"part"`
	Score    int            `json:"score"`
	Max      int            `json:"max"`
	Feedback FeedbackRecord `json:"feedback"`
}

// Report is the read-only aggregate produced when the session completes.
type Report struct {
	Parts []PartReport `json:"parts"`
	Total int          `json:"total"`
	Max   int          `json:"max"`
}

// Report aggregates the committed records into the 100-point report.
// Parts are listed in exam order; uncommitted parts are omitted.
func (r *Results) Report() Report {
	report := Report{Max: AggregateMax}
	for _, part := range []Part{PartIntro, PartPicture, PartDiscussion} {
		rec, ok := r.records[part]
		if !ok {
			continue
		}
		report.Parts = append(report.Parts, PartReport{
			Part:     part.String(),
			Score:    rec.Score(),
			Max:      part.Max(),
			Feedback: rec,
		})
		report.Total += rec.Score()
	}
	return report
}
