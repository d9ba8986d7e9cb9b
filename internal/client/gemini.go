package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/genai"
)

// GeminiClient wraps the Google Vertex AI Gemini client. It serves the exam
// evaluator, the topic generator and (via the Imagen REST API) the
// illustration generator.
type GeminiClient struct {
	client    *genai.Client
	model     string
	projectID string
	location  string
	creds     *google.Credentials // for REST API calls (Imagen)
}

// NewGeminiClient creates a new Gemini client using Vertex AI with
// application-default credentials.
func NewGeminiClient(ctx context.Context, projectID, location string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	creds, _ := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")

	return &GeminiClient{
		client:    client,
		model:     "gemini-2.0-flash",
		projectID: projectID,
		location:  location,
		creds:     creds,
	}, nil
}

// NewGeminiClientWithCredentials creates a new Gemini client from raw service
// account JSON (as decoded from GEMINI_SA_BASE64). The SDK discovers
// credentials through GOOGLE_APPLICATION_CREDENTIALS, so the JSON is written
// to a private file first.
func NewGeminiClientWithCredentials(ctx context.Context, projectID, location string, saJSON []byte) (*GeminiClient, error) {
	path := filepath.Join(os.TempDir(), "gemini-sa.json")
	if err := os.WriteFile(path, saJSON, 0600); err != nil {
		return nil, fmt.Errorf("failed to write service account file: %w", err)
	}
	if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path); err != nil {
		return nil, fmt.Errorf("failed to set GOOGLE_APPLICATION_CREDENTIALS: %w", err)
	}

	cfg := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, saJSON, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return &GeminiClient{
		client:    client,
		model:     "gemini-2.0-flash",
		projectID: projectID,
		location:  location,
		creds:     creds,
	}, nil
}

// WithModel sets the model to use.
func (c *GeminiClient) WithModel(model string) *GeminiClient {
	c.model = model
	return c
}

// Close closes the client.
func (c *GeminiClient) Close() {
	// No explicit close needed for the genai SDK
}

// Chat sends a chat message and returns the response.
func (c *GeminiClient) Chat(ctx context.Context, message string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(message), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Complete generates a completion for the given prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, prompt)
}

// GenerateImage generates an image from a prompt using Imagen via REST API.
func (c *GeminiClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	url := fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		c.location, c.projectID, c.location, "imagen-3.0-generate-001")

	reqBody := map[string]interface{}{
		"instances": []map[string]interface{}{
			{"prompt": prompt},
		},
		"parameters": map[string]interface{}{
			"sampleCount":      1,
			"aspectRatio":      "4:3",
			"personGeneration": "allow_adult",
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	var token *oauth2.Token
	if c.creds != nil {
		token, err = c.creds.TokenSource.Token()
	} else {
		creds, cerr := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if cerr != nil {
			return nil, fmt.Errorf("failed to get credentials: %w", cerr)
		}
		token, err = creds.TokenSource.Token()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagen api error: status %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	predictions, ok := result["predictions"].([]interface{})
	if !ok || len(predictions) == 0 {
		return nil, fmt.Errorf("no predictions found")
	}

	firstPred := predictions[0]
	var b64Str string
	if str, ok := firstPred.(string); ok {
		b64Str = str
	} else if obj, ok := firstPred.(map[string]interface{}); ok {
		if val, ok := obj["bytesBase64Encoded"].(string); ok {
			b64Str = val
		} else if val, ok := obj["image"].(string); ok {
			b64Str = val
		} else {
			return nil, fmt.Errorf("unknown prediction format")
		}
	} else {
		return nil, fmt.Errorf("unknown prediction type")
	}

	return base64.StdEncoding.DecodeString(b64Str)
}
