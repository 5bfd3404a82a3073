package health

import (
	"context"
	"fmt"
	"os"

	"github.com/pkruczek/vetsono/pkg/provider/llm"
)

// Pinger is the subset of a database pool used for readiness probes.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a [Checker] that pings the exam store's database.
func Database(db Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// WhisperBinary returns a [Checker] that verifies the transcription binary
// exists and is executable.
func WhisperBinary(path string) Checker {
	return Checker{
		Name: "whisper",
		Check: func(_ context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			if info.Mode().Perm()&0o111 == 0 {
				return fmt.Errorf("%s is not executable", path)
			}
			return nil
		},
	}
}

// LLM returns a [Checker] that probes the language model backend with a
// token count. The probe is cheap: it must not spend completion tokens on
// every readiness poll.
func LLM(p llm.Provider) Checker {
	return Checker{
		Name: "llm",
		Check: func(_ context.Context) error {
			if _, err := p.CountTokens([]llm.Message{{Role: "user", Content: "ping"}}); err != nil {
				return fmt.Errorf("count tokens: %w", err)
			}
			return nil
		},
	}
}
