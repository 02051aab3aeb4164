// internal/stt/pipeline.go
package stt

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ladderup/match-service/internal/grading"
	"github.com/ladderup/match-service/internal/room"
)

// Audio arrives as raw little-endian int16 PCM at 16kHz, matching what the
// browser capture pipeline ships over the room socket.
const (
	SampleRate     = 16000
	bytesPerSample = 2

	// DefaultChunkSeconds is how much buffered audio triggers a
	// transcription pass.
	DefaultChunkSeconds = 3.0
	// DefaultOverlapSeconds is the raw-audio tail carried into the next
	// chunk for acoustic continuity. Tunable; zero disables the overlap.
	DefaultOverlapSeconds = 0.5
)

// Transcriber converts normalized float32 samples into recognized text
// segments. The model itself (whisper) runs out of process.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, lang string) ([]string, error)
}

type playerBuffer struct {
	chunks  [][]byte
	samples int
}

// Pipeline buffers each player's streamed audio, transcribes it in chunks,
// accumulates per-player transcripts for the match, and grades the joined
// transcripts when the match ends. All state is process-local, like the
// connection registry it broadcasts through.
type Pipeline struct {
	mu          sync.Mutex
	buffers     map[string]*playerBuffer // matchID:uid
	transcripts map[string][]string      // matchID:uid -> recognized segments in arrival order

	rooms       *room.Service
	registry    *room.Registry
	transcriber Transcriber
	grader      grading.Grader
	logger      *logrus.Logger

	ChunkSeconds   float64
	OverlapSeconds float64
	Language       string
}

// NewPipeline wires the audio/transcript pipeline with default thresholds.
func NewPipeline(rooms *room.Service, registry *room.Registry, transcriber Transcriber, grader grading.Grader, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		buffers:        make(map[string]*playerBuffer),
		transcripts:    make(map[string][]string),
		rooms:          rooms,
		registry:       registry,
		transcriber:    transcriber,
		grader:         grader,
		logger:         logger,
		ChunkSeconds:   DefaultChunkSeconds,
		OverlapSeconds: DefaultOverlapSeconds,
		Language:       "en",
	}
}

func bufferKey(matchID, uid string) string {
	return matchID + ":" + uid
}

// Ingest appends a raw audio chunk to the player's buffer. Once the buffer
// holds at least ChunkSeconds of audio it is run through the transcriber;
// recognized text extends the player's transcript and is broadcast to the
// room for live display.
func (p *Pipeline) Ingest(ctx context.Context, matchID, uid string, chunk []byte) {
	key := bufferKey(matchID, uid)

	p.mu.Lock()
	buf, ok := p.buffers[key]
	if !ok {
		buf = &playerBuffer{}
		p.buffers[key] = buf
	}
	buf.chunks = append(buf.chunks, chunk)
	buf.samples += len(chunk) / bytesPerSample

	if float64(buf.samples)/SampleRate < p.ChunkSeconds {
		p.mu.Unlock()
		return
	}

	// Take the buffered audio out under the lock, keep the overlap tail, and
	// transcribe without holding the lock.
	raw := make([]byte, 0, buf.samples*bytesPerSample)
	for _, c := range buf.chunks {
		raw = append(raw, c...)
	}
	overlapBytes := int(SampleRate*p.OverlapSeconds) * bytesPerSample
	if overlapBytes > 0 && overlapBytes < len(raw) {
		tail := raw[len(raw)-overlapBytes:]
		buf.chunks = [][]byte{tail}
		buf.samples = len(tail) / bytesPerSample
	} else {
		buf.chunks = nil
		buf.samples = 0
	}
	p.mu.Unlock()

	text, err := p.transcribe(ctx, raw)
	if err != nil {
		p.logger.Warnf("room %s: transcription failed for player %s: %v", matchID, uid, err)
		return
	}
	if text == "" {
		return
	}

	p.mu.Lock()
	p.transcripts[key] = append(p.transcripts[key], text)
	p.mu.Unlock()

	p.registry.Broadcast(matchID, map[string]interface{}{
		"type":      "transcription",
		"player":    uid,
		"text":      text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, "")
}

// transcribe normalizes raw int16 PCM and joins the recognized segments into
// one trimmed string.
func (p *Pipeline) transcribe(ctx context.Context, raw []byte) (string, error) {
	samples := make([]float32, 0, len(raw)/bytesPerSample)
	for i := 0; i+1 < len(raw); i += bytesPerSample {
		s := int16(binary.LittleEndian.Uint16(raw[i:]))
		samples = append(samples, float32(s)/32768.0)
	}

	segments, err := p.transcriber.Transcribe(ctx, samples, p.Language)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(seg)
	}
	return b.String(), nil
}

// Transcript returns the joined transcript accumulated so far for a player.
func (p *Pipeline) Transcript(matchID, uid string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.transcripts[bufferKey(matchID, uid)], " ")
}

// DropBuffer discards a player's raw audio buffer, e.g. when their socket
// closes. The transcript survives so the match can still be graded.
func (p *Pipeline) DropBuffer(matchID, uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.buffers, bufferKey(matchID, uid))
}

// FinalizeAndGrade grades each player's accumulated transcript and
// broadcasts the combined result. A grading failure for one player becomes
// that player's error entry and never blocks the other. All buffers and
// transcripts for the match are discarded afterwards; the transcript is a
// one-shot resource.
func (p *Pipeline) FinalizeAndGrade(ctx context.Context, matchID string) {
	r, err := p.rooms.GetRoom(ctx, matchID)
	if err != nil {
		p.logger.Errorf("room %s: cannot grade, room lookup failed: %v", matchID, err)
		p.discard(matchID)
		return
	}

	results := make(map[string]grading.Result, 2)
	for _, uid := range []string{r.Player1UID, r.Player2UID} {
		answer := p.Transcript(matchID, uid)
		if answer == "" {
			results[uid] = grading.Result{Err: "no answer recorded"}
			continue
		}

		result, err := p.grader.Grade(ctx, answer, r.QuestionID, uid)
		if err != nil {
			p.logger.Warnf("room %s: grading failed for player %s: %v", matchID, uid, err)
			if result.Feedback == "" {
				result = grading.FallbackResult("grading failed")
			}
			if result.Err == "" {
				result.Err = err.Error()
			}
		}
		results[uid] = result
	}

	p.registry.Broadcast(matchID, map[string]interface{}{
		"type":     "match_graded",
		"match_id": matchID,
		"results":  results,
	}, "")

	p.discard(matchID)
}

// discard drops every buffer and transcript belonging to the match.
func (p *Pipeline) discard(matchID string) {
	prefix := matchID + ":"
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.buffers {
		if strings.HasPrefix(key, prefix) {
			delete(p.buffers, key)
		}
	}
	for key := range p.transcripts {
		if strings.HasPrefix(key, prefix) {
			delete(p.transcripts, key)
		}
	}
}
