package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Chunk is a decoded WAV file: its format parameters and raw PCM samples.
type Chunk struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	PCM           []byte
}

func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// FromWAV decodes a canonical PCM WAV file produced by NewWavBuffer (or
// anything using the same fmt/data chunk layout), returning its format
// parameters and raw PCM samples.
func FromWAV(data []byte) (Chunk, error) {
	if len(data) < 44 {
		return Chunk{}, fmt.Errorf("audio: wav data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Chunk{}, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var c Chunk
	r := bytes.NewReader(data[12:])
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Chunk{}, fmt.Errorf("audio: truncated chunk header: %w", err)
		}

		body := make([]byte, size)
		if _, err := r.Read(body); err != nil {
			return Chunk{}, fmt.Errorf("audio: truncated %q chunk: %w", id, err)
		}
		// Chunks are word-aligned; skip the pad byte on odd sizes.
		if size%2 == 1 {
			r.Seek(1, 1)
		}

		switch string(id[:]) {
		case "fmt ":
			if len(body) < 16 {
				return Chunk{}, fmt.Errorf("audio: fmt chunk too short: %d bytes", len(body))
			}
			c.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			c.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			c.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			c.PCM = body
		}
	}

	if c.PCM == nil {
		return Chunk{}, fmt.Errorf("audio: no data chunk found")
	}
	return c, nil
}
