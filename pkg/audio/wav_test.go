package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestFromWAV_RoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	sampleRate := 16000
	wav := NewWavBuffer(pcm, sampleRate)

	chunk, err := FromWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error decoding wav: %v", err)
	}
	if chunk.SampleRate != sampleRate {
		t.Errorf("expected sample rate %d, got %d", sampleRate, chunk.SampleRate)
	}
	if chunk.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", chunk.Channels)
	}
	if chunk.BitsPerSample != 16 {
		t.Errorf("expected 16 bits per sample, got %d", chunk.BitsPerSample)
	}
	if !bytes.Equal(chunk.PCM, pcm) {
		t.Errorf("expected decoded PCM %v, got %v", pcm, chunk.PCM)
	}
}

func TestFromWAV_RejectsTruncatedData(t *testing.T) {
	if _, err := FromWAV([]byte("short")); err == nil {
		t.Errorf("expected an error decoding truncated data")
	}
}

func TestFromWAV_RejectsNonRIFF(t *testing.T) {
	bad := make([]byte, 44)
	copy(bad, "JUNKxxxxWAVExxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	if _, err := FromWAV(bad); err == nil {
		t.Errorf("expected an error decoding a non-RIFF file")
	}
}
