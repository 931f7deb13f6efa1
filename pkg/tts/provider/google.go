package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Google is a batch provider advertising voice_style: when the caller
// passes a free-form instruction instead of a voice ID (e.g. "speak
// like a calm, reassuring nurse"), it is forwarded verbatim as a prompt
// alongside the base voice. Cache keys must include it verbatim (spec.md
// §4.1) so styled and identified requests never collide; the Cache
// component does this simply by hashing whatever string it's given.
type Google struct {
	apiKey string
	client *http.Client
}

func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey, client: http.DefaultClient}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Capabilities() map[Capability]bool {
	return map[Capability]bool{CapBatch: true, CapVoiceStyle: true}
}

func (g *Google) CacheAffectingParams() []string { return []string{"style_prompt"} }

func (g *Google) ListVoices(ctx context.Context) ([]Voice, error) {
	url := "https://texttospeech.googleapis.com/v1/voices?key=" + g.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google list voices (status %d): %s", resp.StatusCode, body)
	}

	var result struct {
		Voices []struct {
			Name         string   `json:"name"`
			LanguageCodes []string `json:"languageCodes"`
			SsmlGender   string   `json:"ssmlGender"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		voices = append(voices, Voice{ID: v.Name, Name: v.Name, Language: lang, Gender: v.SsmlGender})
	}
	return voices, nil
}

func (g *Google) HasVoice(id string) bool { return id != "" }

func (g *Google) HealthCheck(ctx context.Context) (Health, error) {
	_, err := g.ListVoices(ctx)
	if err != nil {
		return Health{Status: HealthError, Detail: err.Error()}, nil
	}
	return Health{Status: HealthOK}, nil
}

// Synthesize treats voice as a concrete voice name unless extras["style_prompt"]
// is set or voice looks like an instruction (contains a space); in either
// case voice itself is taken to be the free-form style instruction
// (CapVoiceStyle contract: callers pass the instruction as voice).
func (g *Google) Synthesize(ctx context.Context, text, voice string, speed float64, extras map[string]string) ([]byte, error) {
	isStyled := extras["style_prompt"] != "" || looksLikeInstruction(voice)

	input := map[string]interface{}{"text": text}
	voiceParams := map[string]interface{}{"languageCode": "en-US"}
	if isStyled {
		input["prompt"] = voice
		voiceParams["name"] = "en-US-Studio-O"
	} else {
		voiceParams["name"] = voice
	}

	payload := map[string]interface{}{
		"input": input,
		"voice": voiceParams,
		"audioConfig": map[string]interface{}{
			"audioEncoding": "LINEAR16",
			"speakingRate":  speed,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := "https://texttospeech.googleapis.com/v1/text:synthesize?key=" + g.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google error (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return base64.StdEncoding.DecodeString(result.AudioContent)
}

func looksLikeInstruction(voice string) bool {
	for _, r := range voice {
		if r == ' ' {
			return true
		}
	}
	return false
}
