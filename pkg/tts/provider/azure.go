package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Azure is a batch-only provider speaking the Azure Cognitive Services
// Speech SSML synthesis endpoint.
type Azure struct {
	apiKey string
	region string
	client *http.Client
}

func NewAzure(apiKey, region string) *Azure {
	return &Azure{apiKey: apiKey, region: region, client: http.DefaultClient}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapBatch: true}
}

func (a *Azure) CacheAffectingParams() []string { return []string{"pitch", "style"} }

func (a *Azure) endpoint() string {
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", a.region)
}

func (a *Azure) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/voices/list", a.region), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure list voices (status %d): %s", resp.StatusCode, body)
	}

	var entries []struct {
		ShortName string `json:"ShortName"`
		Locale    string `json:"Locale"`
		Gender    string `json:"Gender"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(entries))
	for _, e := range entries {
		voices = append(voices, Voice{ID: e.ShortName, Name: e.ShortName, Language: e.Locale, Gender: e.Gender})
	}
	return voices, nil
}

func (a *Azure) HasVoice(id string) bool { return id != "" }

func (a *Azure) HealthCheck(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/voices/list", a.region), nil)
	if err != nil {
		return Health{Status: HealthError, Detail: err.Error()}, nil
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Health{Status: HealthError, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Health{Status: HealthDegraded, Detail: resp.Status}, nil
	case resp.StatusCode >= 400:
		return Health{Status: HealthError, Detail: resp.Status}, nil
	default:
		return Health{Status: HealthOK}, nil
	}
}

func (a *Azure) ssml(text, voice string, speed float64, extras map[string]string) string {
	rate := fmt.Sprintf("%.0f%%", (speed-1.0)*100)
	pitch := extras["pitch"]
	if pitch == "" {
		pitch = "0%"
	}
	return fmt.Sprintf(
		`<speak version="1.0" xml:lang="en-US"><voice name="%s"><prosody rate="%s" pitch="%s">%s</prosody></voice></speak>`,
		voice, rate, pitch, text)
}

func (a *Azure) Synthesize(ctx context.Context, text, voice string, speed float64, extras map[string]string) ([]byte, error) {
	body := a.ssml(text, voice, speed, extras)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "riff-16khz-16bit-mono-pcm")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure error (status %d): %s", resp.StatusCode, respBody)
	}

	return io.ReadAll(resp.Body)
}
