package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackScoreAndClamp(t *testing.T) {
	rec := FeedbackRecord{TaskAchievement: 12, Pronunciation: -1, Grammar: 5, FluencyCoherence: 10}

	clamped := rec.Clamp(10)
	assert.Equal(t, 10, clamped.TaskAchievement)
	assert.Equal(t, 0, clamped.Pronunciation)
	assert.Equal(t, 5, clamped.Grammar)
	assert.Equal(t, 10, clamped.FluencyCoherence)
	assert.Equal(t, 25, clamped.Score())

	// The original is untouched.
	assert.Equal(t, 12, rec.TaskAchievement)
}

func TestMistakeCategoryValid(t *testing.T) {
	assert.True(t, MistakeGrammar.Valid())
	assert.True(t, MistakePronunciation.Valid())
	assert.True(t, MistakeVocabulary.Valid())
	assert.False(t, MistakeCategory("spelling").Valid())
	assert.False(t, MistakeCategory("").Valid())
}

func TestResultsCommitOverwrites(t *testing.T) {
	r := NewResults()
	r.Commit(PartIntro, FeedbackRecord{TaskAchievement: 2})
	r.Commit(PartIntro, FeedbackRecord{TaskAchievement: 4})

	rec, ok := r.Record(PartIntro)
	require.True(t, ok)
	assert.Equal(t, 4, rec.TaskAchievement)
	assert.Equal(t, 4, r.Total())
}

func TestReportOrdersPartsAndOmitsUncommitted(t *testing.T) {
	r := NewResults()
	r.Commit(PartDiscussion, FeedbackRecord{TaskAchievement: 9, Pronunciation: 8, Grammar: 7, FluencyCoherence: 9})
	r.Commit(PartIntro, FeedbackRecord{TaskAchievement: 4, Pronunciation: 4, Grammar: 4, FluencyCoherence: 4})

	report := r.Report()
	require.Len(t, report.Parts, 2)
	assert.Equal(t, "intro", report.Parts[0].Part)
	assert.Equal(t, "discussion", report.Parts[1].Part)
	assert.Equal(t, 49, report.Total)
	assert.Equal(t, AggregateMax, report.Max)
}

func TestSkippedRecordScoresZero(t *testing.T) {
	rec := SkippedRecord()
	assert.True(t, rec.Skipped)
	assert.Zero(t, rec.Score())
}

func TestPartProperties(t *testing.T) {
	assert.Equal(t, 5, PartIntro.CategoryMax())
	assert.Equal(t, 20, PartIntro.Max())
	assert.Equal(t, 10, PartPicture.CategoryMax())
	assert.Equal(t, 40, PartDiscussion.Max())

	assert.False(t, PartIntro.HasPrep())
	assert.True(t, PartPicture.HasPrep())
	assert.True(t, PartDiscussion.HasPrep())

	next, ok := PartIntro.Next()
	require.True(t, ok)
	assert.Equal(t, PartPicture, next)
	next, ok = PartPicture.Next()
	require.True(t, ok)
	assert.Equal(t, PartDiscussion, next)
	_, ok = PartDiscussion.Next()
	assert.False(t, ok)

	// The three part maxima add up to the aggregate.
	assert.Equal(t, AggregateMax, PartIntro.Max()+PartPicture.Max()+PartDiscussion.Max())
}

func TestValidateHistory(t *testing.T) {
	require.NoError(t, ValidateHistory(nil))
	require.NoError(t, ValidateHistory([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}))

	err := ValidateHistory([]Message{{Role: "system", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system")
}
