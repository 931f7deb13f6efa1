package carrier

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu       sync.Mutex
	uploads  int
	failNext int // number of upcoming calls to fail
}

func (f *fakeUploader) UploadChunk(callControlID string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.failNext > 0 {
		f.failNext--
		return errors.New("upload failed")
	}
	return nil
}

func TestSession_StreamsChunksToUploader(t *testing.T) {
	up := &fakeUploader{}
	s := NewSession("call-1", FormatWAV, 8000, 2, 1, up)
	s.Start()
	defer s.Terminate(nil)

	s.AddAudio([]byte("audio-bytes"), 100)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().TotalChunksSent == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected one chunk to be uploaded, got stats=%+v", s.Stats())
}

func TestSession_TerminatesAfterMaxConsecutiveErrors(t *testing.T) {
	up := &fakeUploader{failNext: 10}
	s := NewSession("call-2", FormatWAV, 8000, 2, 1, up)
	s.MaxConsecutiveErrors = 2
	s.Start()

	s.AddAudio([]byte("a"), 50)
	s.AddAudio([]byte("b"), 50)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == SessionTerminated {
			stats := s.Stats()
			if stats.ConsecutiveErrors < 2 {
				t.Fatalf("expected at least 2 consecutive errors before termination, got %d", stats.ConsecutiveErrors)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected session to terminate after max_consecutive_errors uploads failed")
}

func TestSession_PauseStopsConsumptionUntilResumed(t *testing.T) {
	up := &fakeUploader{}
	s := NewSession("call-3", FormatWAV, 8000, 2, 1, up)
	s.Start()
	defer s.Terminate(nil)

	if !s.Pause() {
		t.Fatalf("expected pause to succeed while streaming")
	}
	s.AddAudio([]byte("queued"), 50)

	time.Sleep(50 * time.Millisecond)
	if s.Stats().TotalChunksSent != 0 {
		t.Fatalf("expected no uploads while paused")
	}

	if !s.Resume() {
		t.Fatalf("expected resume to succeed while paused")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().TotalChunksSent == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected queued chunk to upload after resume")
}

func TestSession_CompleteStopsWorker(t *testing.T) {
	up := &fakeUploader{}
	s := NewSession("call-4", FormatWAV, 8000, 2, 1, up)
	s.Start()

	if !s.Complete() {
		t.Fatalf("expected complete to succeed")
	}
	if s.State() != SessionCompleted {
		t.Fatalf("expected state Completed, got %s", s.State())
	}
}
