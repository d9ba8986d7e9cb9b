package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
)

// AzureSpeechClient wraps the Azure AI Speech REST API: text-to-speech for
// exam prompts and speech-to-text with pronunciation assessment for answers.
type AzureSpeechClient struct {
	apiKey string
	region string
	client *http.Client
}

// NewAzureSpeechClient creates a new Azure Speech client.
func NewAzureSpeechClient(apiKey, region string) *AzureSpeechClient {
	return &AzureSpeechClient{
		apiKey: apiKey,
		region: region,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Synthesize converts prompt text to MP3 audio using the TTS REST API.
// Docs: https://learn.microsoft.com/en-us/azure/ai-services/speech-service/rest-text-to-speech
func (c *AzureSpeechClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if c.apiKey == "" || c.region == "" {
		return nil, errors.New(errors.ErrAIService, "Azure Speech credentials not configured")
	}
	if voice == "" {
		voice = "en-US-JennyNeural"
	}

	endpoint := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", c.region)

	ssml := fmt.Sprintf(
		`<speak version='1.0' xml:lang='en-US'><voice name='%s'>%s</voice></speak>`,
		voice, escapeSSML(text),
	)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "audio-16khz-32kbitrate-mono-mp3")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure tts api error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

func escapeSSML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}

// AssessPronunciation sends a WAV recording to the Speech-to-Text short audio
// API with pronunciation assessment enabled and returns the raw JSON
// response. With an empty reference text it yields the transcript plus
// unscripted pronunciation scores.
// Docs: https://learn.microsoft.com/en-us/azure/ai-services/speech-service/rest-speech-to-text-short
func (c *AzureSpeechClient) AssessPronunciation(ctx context.Context, audioData []byte, referenceText, language string) (map[string]interface{}, error) {
	if c.apiKey == "" || c.region == "" {
		return nil, errors.New(errors.ErrAIService, "Azure Speech credentials not configured")
	}
	if language == "" {
		language = "en-US"
	}

	u := url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.stt.speech.microsoft.com", c.region),
		Path:   "/speech/recognition/conversation/cognitiveservices/v1",
	}

	q := u.Query()
	q.Set("language", language)
	q.Set("format", "detailed")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audioData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	pronAssessmentParams := map[string]interface{}{
		"ReferenceText": referenceText,
		"GradingSystem": "HundredMark",
		"Granularity":   "Word",
		"Dimension":     "Comprehensive",
	}

	jsonBytes, err := json.Marshal(pronAssessmentParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	// The assessment config travels base64-encoded in a header.
	req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(jsonBytes))
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Accept", "application/json;text/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure speech api error %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result, nil
}

// TranscriptFromAssessment extracts the display transcript and the overall
// pronunciation score from an assessment response.
func TranscriptFromAssessment(result map[string]interface{}) (string, float64) {
	transcript := ""
	if displayText, ok := result["DisplayText"].(string); ok {
		transcript = displayText
	}

	var score float64
	if nbest, ok := result["NBest"].([]interface{}); ok && len(nbest) > 0 {
		if first, ok := nbest[0].(map[string]interface{}); ok {
			if pronScore, ok := first["PronScore"].(float64); ok {
				score = pronScore
			}
		}
	}

	return transcript, score
}
