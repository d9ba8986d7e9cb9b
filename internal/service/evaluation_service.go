package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

// maxEvalRetries bounds the adapter-internal retry of transient provider
// failures. The state machine itself never retries.
const maxEvalRetries = 3

// EvaluationService scores recorded answers. It transcribes the audio,
// prompts the configured provider and parses the strict-JSON verdict into an
// exam.Outcome. It implements exam.Evaluator.
type EvaluationService struct {
	provider      string // "gemini" or "openai"
	geminiClient  *client.GeminiClient
	openaiClient  *client.OpenAIClient
	azureClient   *client.AzureSpeechClient
	whisperClient *client.AzureWhisperClient
	log           zerolog.Logger
}

// NewEvaluationService creates a new evaluation service.
func NewEvaluationService(
	provider string,
	geminiClient *client.GeminiClient,
	openaiClient *client.OpenAIClient,
	azureClient *client.AzureSpeechClient,
	whisperClient *client.AzureWhisperClient,
	log zerolog.Logger,
) *EvaluationService {
	return &EvaluationService{
		provider:      provider,
		geminiClient:  geminiClient,
		openaiClient:  openaiClient,
		azureClient:   azureClient,
		whisperClient: whisperClient,
		log:           log,
	}
}

// Evaluate scores one submission. Histories are validated here, at the
// adapter boundary; a response without a feedback object is malformed and
// surfaces as a terminal error.
func (s *EvaluationService) Evaluate(ctx context.Context, sub *exam.Submission) (*exam.Outcome, error) {
	if err := exam.ValidateHistory(sub.History); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid conversation history", err)
	}

	transcript, pronScore, err := s.transcribe(ctx, sub.Audio)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "failed to transcribe answer", err)
	}

	prompt := buildExamPrompt(sub, transcript, pronScore)

	raw, err := s.chatWithRetry(ctx, prompt, sub.History)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "evaluation request failed", err)
	}

	out, err := parseEvaluation(raw, sub.Part.CategoryMax())
	if err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "malformed evaluation response", err)
	}

	out.Transcript = transcript

	s.log.Info().
		Str("part", sub.Part.String()).
		Int("turn", sub.Turn).
		Int("score", out.Feedback.Score()).
		Bool("continue", out.Continue).
		Msg("Answer evaluated")

	return out, nil
}

// transcribe prefers the Azure pronunciation assessment (transcript plus
// pronunciation score) and falls back to Whisper.
func (s *EvaluationService) transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	if s.azureClient != nil {
		result, err := s.azureClient.AssessPronunciation(ctx, audio, "", "en-US")
		if err == nil {
			transcript, score := client.TranscriptFromAssessment(result)
			if transcript != "" {
				return transcript, score, nil
			}
		} else {
			s.log.Warn().Err(err).Msg("Pronunciation assessment failed, trying Whisper")
		}
	}

	if s.whisperClient != nil {
		resp, err := s.whisperClient.Transcribe(ctx, audio, "en")
		if err != nil {
			return "", 0, err
		}
		return resp.Text, 0, nil
	}

	return "", 0, fmt.Errorf("no transcription backend configured")
}

// chatWithRetry calls the configured provider, retrying transient
// rate-limit and availability failures with exponential backoff.
func (s *EvaluationService) chatWithRetry(ctx context.Context, prompt string, history []exam.Message) (string, error) {
	var raw string

	op := func() error {
		var err error
		raw, err = s.chat(ctx, prompt, history)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxEvalRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return raw, nil
}

func (s *EvaluationService) chat(ctx context.Context, prompt string, history []exam.Message) (string, error) {
	switch s.provider {
	case "openai":
		if s.openaiClient == nil {
			return "", errors.New(errors.ErrAIService, "OpenAI client not configured")
		}
		messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
		for _, msg := range history {
			role := openai.ChatMessageRoleUser
			if msg.Role == exam.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		})
		return s.openaiClient.ChatWithHistory(ctx, messages)

	default:
		if s.geminiClient == nil {
			return "", errors.New(errors.ErrAIService, "Gemini client not configured")
		}
		return s.geminiClient.Chat(ctx, prompt)
	}
}

// isTransient reports whether the provider error is worth retrying.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if ok := asOpenAIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "overloaded")
}

func asOpenAIError(err error, target **openai.APIError) bool {
	for err != nil {
		if apiErr, ok := err.(*openai.APIError); ok {
			*target = apiErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// buildExamPrompt renders the examiner prompt for one submission.
func buildExamPrompt(sub *exam.Submission, transcript string, pronScore float64) string {
	var sb strings.Builder

	catMax := sub.Part.CategoryMax()
	fmt.Fprintf(&sb, `You are a strict but encouraging English speaking examiner.
The student is taking part %d of 3 (%s) of a speaking exam.
Part topic: %s
This is answer %d of at most %d for this part.
`, sub.Part.Number(), sub.Part, sub.Context, sub.Turn+1, exam.MaxTurns)

	if len(sub.History) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range sub.History {
			speaker := "Student"
			if msg.Role == exam.RoleAssistant {
				speaker = "Examiner"
			}
			fmt.Fprintf(&sb, "%s: %s\n", speaker, msg.Content)
		}
	}

	fmt.Fprintf(&sb, "\nThe student's latest answer (transcribed): %q\n", transcript)
	if pronScore > 0 {
		fmt.Fprintf(&sb, "Automated pronunciation score (0-100): %.0f\n", pronScore)
	}
	if sub.Finish {
		sb.WriteString("The student asked to finish this part after this answer; set \"continue\" to false.\n")
	}

	fmt.Fprintf(&sb, `
Score the answer and decide whether one more follow-up question is worthwhile.
Each sub-score is an integer from 0 to %d.
Output STRICTLY raw JSON (no markdown backticks) with this structure:
{
  "reply_text": "your follow-up question, or a short closing remark if continue is false",
  "continue": true,
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
The "feedback" object is mandatory even when "continue" is false.
`, catMax)

	return sb.String()
}

// parseEvaluation decodes the provider's reply. The feedback object is
// required; sub-scores are clamped into [0, categoryMax]; mistakes with
// unknown categories are dropped.
func parseEvaluation(raw string, categoryMax int) (*exam.Outcome, error) {
	clean := stripFences(raw)

	var payload struct {
		ReplyText string               `json:"reply_text"`
		Continue  bool                 `json:"continue"`
		Feedback  *exam.FeedbackRecord `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation JSON: %w. Raw: %s", err, clean)
	}
	if payload.Feedback == nil {
		return nil, fmt.Errorf("evaluation response missing feedback object")
	}

	fb := payload.Feedback.Clamp(categoryMax)

	valid := fb.Mistakes[:0]
	for _, m := range fb.Mistakes {
		if m.Category.Valid() {
			valid = append(valid, m)
		}
	}
	fb.Mistakes = valid

	return &exam.Outcome{
		ReplyText: strings.TrimSpace(payload.ReplyText),
		Continue:  payload.Continue,
		Feedback:  fb,
	}, nil
}

// stripFences removes the markdown code fences some models wrap JSON in.
func stripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
