package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

// TopicService generates the Picture/Discussion prompts and their optional
// illustrations. Topics come from Gemini; illustrations are Imagen renders
// uploaded to R2. It implements exam.TopicGenerator and exam.Illustrator.
type TopicService struct {
	geminiClient *client.GeminiClient
	r2Client     *client.CloudflareClient
	log          zerolog.Logger
}

// NewTopicService creates a new topic service.
func NewTopicService(geminiClient *client.GeminiClient, r2Client *client.CloudflareClient, log zerolog.Logger) *TopicService {
	return &TopicService{
		geminiClient: geminiClient,
		r2Client:     r2Client,
		log:          log,
	}
}

// Topic generates a fresh prompt for the part. Callers fall back to the
// part's default topic on error.
func (s *TopicService) Topic(ctx context.Context, part exam.Part) (string, error) {
	if s.geminiClient == nil {
		return "", errors.New(errors.ErrAIService, "topic generator not configured")
	}

	var prompt string
	switch part {
	case exam.PartPicture:
		prompt = `Write one topic sentence for a speaking exam where the student describes ` +
			`and compares an everyday scene. One sentence, second person, no preamble. ` +
			`Example: "Describe the scene at a busy train station on a Monday morning."`
	case exam.PartDiscussion:
		prompt = `Write one open discussion question for an English speaking exam, suitable ` +
			`for an intermediate learner, about society, technology or daily life. ` +
			`One sentence, no preamble.`
	default:
		return "", errors.New(errors.ErrValidation, "part has no generated topic")
	}

	topic, err := s.geminiClient.Chat(ctx, prompt)
	if err != nil {
		return "", errors.Wrap(errors.ErrAIService, "failed to generate topic", err)
	}

	topic = strings.Trim(strings.TrimSpace(topic), `"`)
	if topic == "" {
		return "", errors.New(errors.ErrAIService, "empty topic from provider")
	}

	s.log.Info().Str("part", part.String()).Str("topic", topic).Msg("Topic generated")
	return topic, nil
}

// Illustrate renders an image for the topic and uploads it to the public
// bucket. Absence never blocks the exam; failures just return ok == false.
func (s *TopicService) Illustrate(ctx context.Context, topic string) (string, bool) {
	if s.geminiClient == nil || s.r2Client == nil {
		return "", false
	}

	image, err := s.geminiClient.GenerateImage(ctx, fmt.Sprintf(
		"A clear, realistic photo illustrating: %s. No text or captions in the image.", topic,
	))
	if err != nil {
		s.log.Warn().Err(err).Msg("Topic illustration failed")
		return "", false
	}

	key := fmt.Sprintf("images/exam-%s.png", uuid.New().String())
	url, err := s.r2Client.UploadR2Object(ctx, key, image, "image/png")
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upload topic illustration")
		return "", false
	}

	return url, true
}
