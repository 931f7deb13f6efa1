// Package carrier streams synthesized audio into a live call against
// a Telnyx-shaped Call Control API (spec.md §6): streaming_start,
// chunked streaming uploads, and streaming_stop, with a bounded-retry
// uploader worker and automatic termination past a consecutive-error
// threshold.
package carrier

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/buffer"
)

// SessionState is the lifecycle of one carrier streaming session
// (spec.md §6).
type SessionState string

const (
	SessionInitializing SessionState = "initializing"
	SessionReady         SessionState = "ready"
	SessionStreaming     SessionState = "streaming"
	SessionPaused        SessionState = "paused"
	SessionCompleted     SessionState = "completed"
	SessionError         SessionState = "error"
	SessionTerminated    SessionState = "terminated"
)

// AudioFormat is the wire content-type of uploaded chunks.
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatRaw AudioFormat = "raw"
	FormatMP3 AudioFormat = "mp3"
)

func (f AudioFormat) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mp3"
	case FormatRaw:
		return "audio/raw"
	default:
		return "audio/wav"
	}
}

// Uploader uploads one chunk of audio to the carrier for a call.
// Implemented by Manager; factored out so Session can be tested
// without an HTTP dependency.
type Uploader interface {
	UploadChunk(callControlID string, data []byte, contentType string) error
}

// SessionStats is a snapshot of one session's streaming activity.
type SessionStats struct {
	State              SessionState
	TotalChunksSent    uint64
	TotalBytesSent     uint64
	UploadErrors       uint64
	ConsecutiveErrors  int
	AvgUploadLatencyMs float64
	Error              error
}

// Session manages one call's streaming lifecycle: a buffer of
// outgoing audio chunks plus a background uploader worker.
type Session struct {
	CallControlID string
	ClientState   string
	CommandID     string
	StreamID      string

	Format       AudioFormat
	SampleRate   int
	SampleWidth  int
	Channels     int

	MaxConsecutiveErrors int

	buf      *buffer.Buffer
	uploader Uploader

	mu                sync.Mutex
	state             SessionState
	createdAt         time.Time
	startedAt         time.Time
	lastActivity      time.Time
	completedAt       time.Time
	err               error
	totalChunksSent   uint64
	totalBytesSent    uint64
	uploadErrors      uint64
	consecutiveErrors int
	latenciesMs       []float64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSession builds a session bound to an audio buffer and an uploader
// (the Manager, in production), but not yet started.
func NewSession(callControlID string, format AudioFormat, sampleRate, sampleWidth, channels int, uploader Uploader) *Session {
	thresholds := buffer.DefaultThresholds()
	return &Session{
		CallControlID:        callControlID,
		Format:               format,
		SampleRate:           sampleRate,
		SampleWidth:          sampleWidth,
		Channels:             channels,
		MaxConsecutiveErrors: 3,
		buf:                  buffer.New(256, thresholds),
		uploader:             uploader,
		state:                SessionInitializing,
		createdAt:            time.Now(),
	}
}

// Start transitions to Streaming and launches the upload worker.
// Idempotent if already streaming or paused.
func (s *Session) Start() bool {
	s.mu.Lock()
	if s.state == SessionStreaming || s.state == SessionPaused {
		s.mu.Unlock()
		return true
	}

	s.state = SessionReady
	s.startedAt = time.Now()
	s.lastActivity = s.startedAt
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = SessionStreaming
	s.mu.Unlock()

	go s.uploadWorker()
	return true
}

// AddAudio enqueues audio data for upload. Fails unless the session is
// Ready, Streaming or Paused; audio added while paused is uploaded after
// Resume.
func (s *Session) AddAudio(data []byte, durationMs float64) bool {
	s.mu.Lock()
	if s.state != SessionReady && s.state != SessionStreaming && s.state != SessionPaused {
		s.mu.Unlock()
		return false
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return s.buf.AddChunk(buffer.Chunk{Data: data, DurationMs: durationMs})
}

// Pause suspends uploading without discarding buffered audio.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionStreaming {
		return false
	}
	s.state = SessionPaused
	return true
}

// Resume continues uploading after a Pause.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPaused {
		return false
	}
	s.state = SessionStreaming
	s.lastActivity = time.Now()
	return true
}

// Complete moves the session to Completed and stops the upload worker at
// its next loop; audio still buffered is not uploaded.
func (s *Session) Complete() bool {
	s.mu.Lock()
	if s.state == SessionCompleted || s.state == SessionTerminated {
		s.mu.Unlock()
		return true
	}
	s.state = SessionCompleted
	s.completedAt = time.Now()
	stopCh := s.stopCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	return true
}

// Terminate ends the session immediately with an error.
func (s *Session) Terminate(err error) {
	s.mu.Lock()
	if s.state == SessionTerminated {
		s.mu.Unlock()
		return
	}
	s.state = SessionTerminated
	s.completedAt = time.Now()
	s.err = err
	stopCh := s.stopCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.buf.Clear()
}

// uploadWorker pulls chunks from the buffer and uploads them until
// stopped, terminating the session after MaxConsecutiveErrors uploads
// fail in a row.
func (s *Session) uploadWorker() {
	defer func() {
		s.mu.Lock()
		doneCh := s.doneCh
		s.mu.Unlock()
		if doneCh != nil {
			close(doneCh)
		}
	}()

	for {
		s.mu.Lock()
		stopCh := s.stopCh
		state := s.state
		s.mu.Unlock()

		select {
		case <-stopCh:
			return
		default:
		}

		if state != SessionStreaming {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		chunk, ok := s.buf.GetChunk()
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		start := time.Now()
		err := s.uploader.UploadChunk(s.CallControlID, chunk.Data, s.Format.ContentType())
		latency := float64(time.Since(start).Milliseconds())

		s.mu.Lock()
		if err == nil {
			s.totalChunksSent++
			s.totalBytesSent += uint64(len(chunk.Data))
			s.consecutiveErrors = 0
			s.latenciesMs = append(s.latenciesMs, latency)
			if len(s.latenciesMs) > 100 {
				s.latenciesMs = s.latenciesMs[len(s.latenciesMs)-100:]
			}
			s.mu.Unlock()
			continue
		}

		s.uploadErrors++
		s.consecutiveErrors++
		tooMany := s.consecutiveErrors >= s.MaxConsecutiveErrors
		s.mu.Unlock()

		if tooMany {
			s.Terminate(err)
			return
		}
	}
}

// Stats returns a snapshot of session activity.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg float64
	if len(s.latenciesMs) > 0 {
		var sum float64
		for _, v := range s.latenciesMs {
			sum += v
		}
		avg = sum / float64(len(s.latenciesMs))
	}

	return SessionStats{
		State:              s.state,
		TotalChunksSent:    s.totalChunksSent,
		TotalBytesSent:     s.totalBytesSent,
		UploadErrors:       s.uploadErrors,
		ConsecutiveErrors:  s.consecutiveErrors,
		AvgUploadLatencyMs: avg,
		Error:              s.err,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IdleFor reports how long it has been since the session last saw
// activity, used by the manager's session-timeout sweep.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}
