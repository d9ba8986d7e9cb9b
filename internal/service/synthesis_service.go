package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
)

// SynthesisService turns prompt text into hosted audio: Azure TTS renders the
// MP3 and Cloudflare R2 serves it from the public bucket. Any failure along
// the way degrades to the fallback clip so the exam never blocks on speech.
// It implements exam.Synthesizer.
type SynthesisService struct {
	azureClient *client.AzureSpeechClient
	r2Client    *client.CloudflareClient
	voice       string
	log         zerolog.Logger
}

// NewSynthesisService creates a new synthesis service.
func NewSynthesisService(azureClient *client.AzureSpeechClient, r2Client *client.CloudflareClient, voice string, log zerolog.Logger) *SynthesisService {
	return &SynthesisService{
		azureClient: azureClient,
		r2Client:    r2Client,
		voice:       voice,
		log:         log,
	}
}

// Synthesize renders the text and returns the public clip URL, or the
// fallback sentinel when synthesis or upload is unavailable.
func (s *SynthesisService) Synthesize(ctx context.Context, text string) exam.Clip {
	if s.azureClient == nil || s.r2Client == nil {
		return exam.FallbackClip()
	}

	audio, err := s.azureClient.Synthesize(ctx, text, s.voice)
	if err != nil {
		s.log.Warn().Err(err).Msg("Speech synthesis failed, falling back to local playback")
		return exam.FallbackClip()
	}

	key := fmt.Sprintf("tts/%s.mp3", uuid.New().String())
	url, err := s.r2Client.UploadR2Object(ctx, key, audio, "audio/mpeg")
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upload synthesized audio, falling back to local playback")
		return exam.FallbackClip()
	}

	return exam.Clip{URL: url}
}
