package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/E1venking/Kuleli-English-Centre/internal/logger"
)

type cannedChat struct {
	resp   string
	err    error
	prompt string
}

func (c *cannedChat) Chat(ctx context.Context, message string) (string, error) {
	c.prompt = message
	return c.resp, c.err
}

const essay = "Learning a second language opens doors that stay closed otherwise. " +
	"It changes how you see your own language and it connects you with people " +
	"you would never have met. In my experience the hardest part is not grammar " +
	"but the courage to speak badly in front of strangers."

func TestWritingEvaluate(t *testing.T) {
	provider := &cannedChat{resp: "```json\n" + sampleAnalysis + "\n```"}
	svc := NewWritingService(provider, logger.NewNop())

	result, err := svc.Evaluate(context.Background(), "Why learn a second language?", essay)
	require.NoError(t, err)

	assert.Equal(t, 28, result.Score)
	assert.Equal(t, 40, result.Max)
	assert.Equal(t, "Solid attempt.", result.Feedback.Commentary)

	assert.Contains(t, provider.prompt, "Why learn a second language?")
	assert.Contains(t, provider.prompt, "courage to speak badly")
}

func TestWritingEvaluateValidation(t *testing.T) {
	svc := NewWritingService(&cannedChat{}, logger.NewNop())
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, "", essay)
	require.Error(t, err)

	_, err = svc.Evaluate(ctx, "task", "too short")
	require.Error(t, err)

	_, err = svc.Evaluate(ctx, "task", strings.Repeat("word ", 5000))
	require.Error(t, err)
}

func TestWritingEvaluateMalformedResponse(t *testing.T) {
	svc := NewWritingService(&cannedChat{resp: "A lovely essay, well done!"}, logger.NewNop())
	_, err := svc.Evaluate(context.Background(), "task", essay)
	require.Error(t, err)

	svc = NewWritingService(&cannedChat{resp: `{"no_feedback": true}`}, logger.NewNop())
	_, err = svc.Evaluate(context.Background(), "task", essay)
	require.Error(t, err)
}

func TestWritingEvaluateProviderError(t *testing.T) {
	svc := NewWritingService(&cannedChat{err: fmt.Errorf("quota exceeded")}, logger.NewNop())
	_, err := svc.Evaluate(context.Background(), "task", essay)
	require.Error(t, err)
}
