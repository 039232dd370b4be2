package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendOutcome(_ context.Context, item outcome.Item) error {
	return s.encode("outcome", item)
}

func (s *Stdout) SendComplete(_ context.Context, c outcome.Completion) error {
	return s.encode("complete", c)
}

func (s *Stdout) SendReport(_ context.Context, r *outcome.Report) error {
	return s.encode("report", r)
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) encode(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: typ, Data: data})
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
