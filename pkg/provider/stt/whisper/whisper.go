// Package whisper implements stt.Provider with the whisper.cpp CGO bindings,
// transcribing in-process. The whisper.cpp static library (libwhisper.a) and
// headers must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// This provider is for deployments without a whisper CLI on disk. It does not
// expose beam-size control — the bindings fix the sampling strategy — so the
// orchestrator's wide-beam retry degrades to a plain re-run here. Clinics
// that want the quality retry should use the whispercli provider.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/pkruczek/vetsono/pkg/provider/stt"
	"github.com/pkruczek/vetsono/pkg/types"
)

const defaultLanguage = "pl"

// Provider implements stt.Provider using whisper.cpp Go bindings. The model
// is loaded once and shared; each Transcribe call creates its own context,
// so concurrent calls do not interfere.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the default transcription language. Defaults to "pl".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The audio file must be a 16 kHz mono
// 16-bit PCM WAV; audio codec handling is out of scope here.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts stt.TranscribeOptions) (*stt.Result, error) {
	if audioPath == "" {
		return nil, fmt.Errorf("%w: audioPath is required", types.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples, err := readWAVSamples(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", types.ErrUpstream, err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	started := time.Now()

	// Inference runs in a goroutine so a timeout can abandon it. The
	// binding has no cancellation hook; an abandoned run finishes in the
	// background and its output is discarded.
	type inferResult struct {
		text string
		segs []stt.Segment
		err  error
	}
	done := make(chan inferResult, 1)
	go func() {
		text, segs, err := p.infer(samples, lang)
		done <- inferResult{text: text, segs: segs, err: err}
	}()

	var bound <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		bound = t.C
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: whisper inference: %v", types.ErrUpstream, ctx.Err())
	case <-bound:
		return nil, fmt.Errorf("%w: whisper inference exceeded %s", types.ErrUpstream, opts.Timeout)
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: whisper inference: %v", types.ErrUpstream, r.err)
		}
		return &stt.Result{
			Text:     r.text,
			Segments: r.segs,
			Duration: time.Since(started),
		}, nil
	}
}

// infer runs whisper.cpp over the samples using a fresh context. Contexts are
// not thread-safe, but the shared model is.
func (p *Provider) infer(samples []float32, lang string) (string, []stt.Segment, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", nil, fmt.Errorf("create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", nil, fmt.Errorf("process audio: %w", err)
	}

	var (
		parts []string
		segs  []stt.Segment
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segs = append(segs, stt.Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  text,
		})
	}

	return strings.Join(parts, "\n"), segs, nil
}

// readWAVSamples loads a 16-bit little-endian PCM WAV file and converts it to
// float32 mono samples in [-1, 1). Stereo input is averaged to mono.
func readWAVSamples(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	channels := int(binary.LittleEndian.Uint16(raw[22:24]))
	if channels < 1 {
		channels = 1
	}

	// Locate the data chunk; fmt chunk size varies.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		if id == "data" {
			return pcm16ToFloat32(raw[off+8:min(off+8+size, len(raw))], channels), nil
		}
		off += 8 + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, errors.New("no data chunk found")
}

// pcm16ToFloat32 converts interleaved 16-bit PCM to mono float32.
func pcm16ToFloat32(pcm []byte, channels int) []float32 {
	frames := len(pcm) / 2 / channels
	out := make([]float32, 0, frames)
	for f := 0; f < frames; f++ {
		var acc float64
		for c := 0; c < channels; c++ {
			i := (f*channels + c) * 2
			acc += float64(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		}
		out = append(out, float32(acc/float64(channels)/math.MaxInt16))
	}
	return out
}
