package service

import (
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

const sampleVerdict = `{
	"reply_text": "Could you tell me more about your studies?",
	"continue": true,
	"feedback": {
		"task_achievement": 4,
		"pronunciation": 3,
		"grammar": 4,
		"fluency_coherence": 5,
		"commentary": "Good start.",
		"mistakes": [
			{"mistake": "I has", "correction": "I have", "category": "grammar"},
			{"mistake": "uh", "correction": "", "category": "filler"}
		],
		"weaknesses": ["short answers"],
		"improvements": ["expand with examples"]
	}
}`

func TestParseEvaluation(t *testing.T) {
	out, err := parseEvaluation(sampleVerdict, 5)
	require.NoError(t, err)

	assert.Equal(t, "Could you tell me more about your studies?", out.ReplyText)
	assert.True(t, out.Continue)
	assert.Equal(t, 16, out.Feedback.Score())
	assert.Equal(t, "Good start.", out.Feedback.Commentary)

	// The mistake with an unknown category is dropped.
	require.Len(t, out.Feedback.Mistakes, 1)
	assert.Equal(t, exam.MistakeGrammar, out.Feedback.Mistakes[0].Category)
}

func TestParseEvaluationStripsFences(t *testing.T) {
	fenced := "```json\n" + sampleVerdict + "\n```"
	out, err := parseEvaluation(fenced, 5)
	require.NoError(t, err)
	assert.True(t, out.Continue)
}

func TestParseEvaluationClampsScores(t *testing.T) {
	raw := `{"reply_text": "ok", "continue": false, "feedback": {
		"task_achievement": 99, "pronunciation": -3, "grammar": 5, "fluency_coherence": 4,
		"commentary": "x"}}`

	out, err := parseEvaluation(raw, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Feedback.TaskAchievement)
	assert.Equal(t, 0, out.Feedback.Pronunciation)
}

func TestParseEvaluationRejectsMissingFeedback(t *testing.T) {
	_, err := parseEvaluation(`{"reply_text": "ok", "continue": false}`, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feedback")
}

func TestParseEvaluationRejectsGarbage(t *testing.T) {
	_, err := parseEvaluation("I think the student did well overall!", 5)
	require.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, isTransient(&openai.APIError{HTTPStatusCode: 503}))
	assert.False(t, isTransient(&openai.APIError{HTTPStatusCode: 400}))

	assert.True(t, isTransient(fmt.Errorf("googleapi: Error 429: quota exceeded")))
	assert.True(t, isTransient(fmt.Errorf("model is overloaded")))
	assert.False(t, isTransient(fmt.Errorf("invalid credentials")))
}

func TestBuildExamPrompt(t *testing.T) {
	sub := &exam.Submission{
		Part:    exam.PartPicture,
		Turn:    1,
		Context: "Describe a busy market.",
		History: []exam.Message{
			{Role: exam.RoleUser, Content: "I see many people"},
			{Role: exam.RoleAssistant, Content: "What are they doing?"},
		},
		Finish: true,
	}

	prompt := buildExamPrompt(sub, "they are buying fruit", 82)

	assert.Contains(t, prompt, "part 2 of 3")
	assert.Contains(t, prompt, "Describe a busy market.")
	assert.Contains(t, prompt, "answer 2 of at most 3")
	assert.Contains(t, prompt, "Student: I see many people")
	assert.Contains(t, prompt, "Examiner: What are they doing?")
	assert.Contains(t, prompt, `"they are buying fruit"`)
	assert.Contains(t, prompt, "pronunciation score (0-100): 82")
	assert.Contains(t, prompt, "0 to 10")
	assert.Contains(t, prompt, `set "continue" to false`)
}
