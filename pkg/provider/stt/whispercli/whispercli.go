// Package whispercli implements stt.Provider by shelling out to the
// whisper.cpp command-line binary.
//
// The binary runs as a separate OS process with a hard wall-clock bound: on
// timeout the process group is killed and the run is treated as having
// produced nothing. Output is read from the text artifact the process writes
// next to the audio file (-otxt), never from a partially flushed stdout of a
// killed process.
package whispercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkruczek/vetsono/pkg/provider/stt"
	"github.com/pkruczek/vetsono/pkg/types"
)

const (
	defaultLanguage = "pl"
	defaultBeamSize = 2
	defaultTimeout  = 10 * time.Minute
)

// Provider runs the whisper.cpp CLI for each transcription request.
type Provider struct {
	binaryPath string
	modelPath  string
	language   string
	threads    int
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the default transcription language. Defaults to "pl".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads passed to the binary.
// Zero lets the binary decide.
func WithThreads(n int) Option {
	return func(p *Provider) { p.threads = n }
}

// New constructs a Provider that invokes the whisper binary at binaryPath
// with the ggml model at modelPath.
func New(binaryPath, modelPath string, opts ...Option) (*Provider, error) {
	if binaryPath == "" {
		return nil, errors.New("whispercli: binaryPath must not be empty")
	}
	if modelPath == "" {
		return nil, errors.New("whispercli: modelPath must not be empty")
	}

	p := &Provider{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// BinaryPath returns the configured binary location, used by health checks.
func (p *Provider) BinaryPath() string { return p.binaryPath }

// Transcribe implements stt.Provider. The external process is bounded by the
// earlier of ctx and opts.Timeout; when the bound expires the process is
// killed and the run reports an upstream failure.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts stt.TranscribeOptions) (*stt.Result, error) {
	if audioPath == "" {
		return nil, fmt.Errorf("%w: audioPath is required", types.ErrValidation)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	beam := opts.BeamSize
	if beam <= 0 {
		beam = defaultBeamSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// whisper-cli writes "<output prefix>.txt" when given -otxt.
	outPrefix := audioPath + ".vetsono"

	args := []string{
		"-m", p.modelPath,
		"-l", lang,
		"-bs", strconv.Itoa(beam),
		"-otxt",
		"-of", outPrefix,
		"-f", audioPath,
	}
	if p.threads > 0 {
		args = append(args, "-t", strconv.Itoa(p.threads))
	}

	cmd := exec.CommandContext(runCtx, p.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Kill, don't politely interrupt: a wedged decoder must not outlive its
	// budget.
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	txtPath := outPrefix + ".txt"
	defer os.Remove(txtPath)

	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%w: whisper process killed after %s", types.ErrUpstream, elapsed.Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%w: whisper process: %v (stderr: %s)", types.ErrUpstream, err, types.Preview(stderr.String()))
	}

	raw, readErr := os.ReadFile(txtPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: whisper output artifact: %v", types.ErrUpstream, readErr)
	}

	text := strings.TrimSpace(string(raw))
	return &stt.Result{
		Text:     text,
		Segments: parseSegments(text),
		Duration: elapsed,
	}, nil
}

// segmentRe matches whisper.cpp's bracketed timestamp lines:
// [00:00:01.000 --> 00:00:02.500]  text
var segmentRe = regexp.MustCompile(`^\[(\d{2}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2}):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`)

// parseSegments extracts per-line timing when the artifact carries whisper's
// bracketed timestamps. Plain-text artifacts yield no segments.
func parseSegments(text string) []stt.Segment {
	var segs []stt.Segment
	for _, line := range strings.Split(text, "\n") {
		m := segmentRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		segs = append(segs, stt.Segment{
			Start: stamp(m[1], m[2], m[3], m[4]),
			End:   stamp(m[5], m[6], m[7], m[8]),
			Text:  strings.TrimSpace(m[9]),
		})
	}
	return segs
}

// stamp converts hh, mm, ss, mmm capture groups into a duration.
func stamp(hh, mm, ss, ms string) time.Duration {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	milli, _ := strconv.Atoi(ms)
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(milli)*time.Millisecond
}
