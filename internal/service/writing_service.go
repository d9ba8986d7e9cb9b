package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

const (
	writingCategoryMax = 10
	writingMinWords    = 20
	writingMaxChars    = 20000
)

// WritingEvaluation is the scored verdict on one submitted essay.
type WritingEvaluation struct {
	Feedback exam.FeedbackRecord `json:"feedback"`
	Score    int                 `json:"score"`
	Max      int                 `json:"max"`
}

// WritingService scores written essays with the same feedback structure the
// speaking exam uses, minus the audio pipeline.
type WritingService struct {
	provider ChatProvider
	log      zerolog.Logger
}

// NewWritingService creates a new writing service.
func NewWritingService(provider ChatProvider, log zerolog.Logger) *WritingService {
	return &WritingService{provider: provider, log: log}
}

// Evaluate scores one essay against its task.
func (s *WritingService) Evaluate(ctx context.Context, task, essay string) (*WritingEvaluation, error) {
	task = strings.TrimSpace(task)
	essay = strings.TrimSpace(essay)

	if task == "" {
		return nil, errors.Validation("task is required")
	}
	if len(essay) > writingMaxChars {
		return nil, errors.Validation("essay is too long")
	}
	if len(strings.Fields(essay)) < writingMinWords {
		return nil, errors.Validation(fmt.Sprintf("essay must be at least %d words", writingMinWords))
	}
	if s.provider == nil {
		return nil, errors.New(errors.ErrAIService, "writing evaluator not configured")
	}

	raw, err := s.provider.Chat(ctx, buildWritingPrompt(task, essay))
	if err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "writing evaluation failed", err)
	}

	var payload struct {
		Feedback *exam.FeedbackRecord `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "malformed writing evaluation", err)
	}
	if payload.Feedback == nil {
		return nil, errors.New(errors.ErrAIService, "writing evaluation missing feedback object")
	}

	fb := payload.Feedback.Clamp(writingCategoryMax)

	s.log.Info().Int("score", fb.Score()).Msg("Essay evaluated")
	return &WritingEvaluation{
		Feedback: fb,
		Score:    fb.Score(),
		Max:      4 * writingCategoryMax,
	}, nil
}

func buildWritingPrompt(task, essay string) string {
	return fmt.Sprintf(`You are an English writing examiner.
Task: %s

The student's essay:
%s

Each sub-score is an integer from 0 to %d. For writing, "pronunciation" scores
spelling and punctuation and "fluency_coherence" scores structure and flow.
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
`, task, essay, writingCategoryMax)
}
