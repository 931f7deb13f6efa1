package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ElevenLabs is a batch-and-streaming HTTP TTS provider. Voice is a
// concrete ElevenLabs voice ID; it does not support voice_style.
type ElevenLabs struct {
	apiKey string
	url    string
	client *http.Client
}

func NewElevenLabs(apiKey string) *ElevenLabs {
	return &ElevenLabs{
		apiKey: apiKey,
		url:    "https://api.elevenlabs.io/v1/text-to-speech",
		client: http.DefaultClient,
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapBatch: true, CapStream: true}
}

func (e *ElevenLabs) CacheAffectingParams() []string {
	return []string{"stability", "similarity_boost", "model_id"}
}

func (e *ElevenLabs) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.elevenlabs.io/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs list voices (status %d): %s", resp.StatusCode, body)
	}

	var result struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name})
	}
	return voices, nil
}

func (e *ElevenLabs) HasVoice(id string) bool { return id != "" }

func (e *ElevenLabs) HealthCheck(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.elevenlabs.io/v1/user", nil)
	if err != nil {
		return Health{Status: HealthError, Detail: err.Error()}, nil
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Health{Status: HealthError, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Health{Status: HealthDegraded, Detail: resp.Status}, nil
	}
	if resp.StatusCode >= 400 {
		return Health{Status: HealthError, Detail: resp.Status}, nil
	}
	return Health{Status: HealthOK}, nil
}

func (e *ElevenLabs) requestBody(text string, speed float64, extras map[string]string) ([]byte, error) {
	payload := map[string]interface{}{
		"text":     text,
		"model_id": extras["model_id"],
		"voice_settings": map[string]interface{}{
			"stability":        parseFloatOr(extras["stability"], 0.5),
			"similarity_boost": parseFloatOr(extras["similarity_boost"], 0.75),
			"speed":            speed,
		},
	}
	return json.Marshal(payload)
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voice string, speed float64, extras map[string]string) ([]byte, error) {
	body, err := e.requestBody(text, speed, extras)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", e.url, voice), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error (status %d): %s", resp.StatusCode, respBody)
	}

	return io.ReadAll(resp.Body)
}

func (e *ElevenLabs) SynthesizeStream(ctx context.Context, text, voice string, speed float64, onChunk func([]byte) error) error {
	body, err := e.requestBody(text, speed, nil)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/stream", e.url, voice), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs stream error (status %d): %s", resp.StatusCode, respBody)
	}

	reader := bufio.NewReaderSize(resp.Body, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cbErr := onChunk(chunk); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseFloatOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return fallback
	}
	return f
}
