package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"strings"

	"github.com/stevecastle/photomaxx/store"
	"golang.org/x/sync/errgroup"
)

// PromptAttempts is the number of attempts a prompt run must request.
const PromptAttempts = 5

// Errors returned by RunPrompt and Provider.
var (
	ErrPromptRequired  = errors.New("prompt is required")
	ErrAttemptCount    = fmt.Errorf("prompt runs must request exactly %d attempts", PromptAttempts)
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyGeneration = errors.New("provider returned no image")
)

// GenerateRequest is one attempt of a prompt run as seen by a Provider.
type GenerateRequest struct {
	Source   []byte
	MimeType string
	Prompt   string
	Attempt  int // 1-based
	Attempts int
}

// Generated is a provider's answer to one GenerateRequest.
type Generated struct {
	Image         []byte
	MimeType      string
	RevisedPrompt string
	Meta          map[string]any
}

// Provider produces an edited image from a source photo and a prompt.
// Generate is called concurrently, once per attempt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Generated, error)
}

// RegisterProvider makes p available to Provider under p.Name().
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// Provider returns the registered provider called name.
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func mimeFromPath(p string) string {
	if strings.EqualFold(path.Ext(p), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

func extFromMime(m string) string {
	switch m {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}

// RunPrompt asks p for attempts edits of the image concurrently and records
// them as one prompt run. Any failed attempt fails the run and nothing is
// recorded.
func (s *Service) RunPrompt(ctx context.Context, imageID string, p Provider, prompt string, attempts int) (*RunResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}
	if attempts != PromptAttempts {
		return nil, fmt.Errorf("%w: got %d", ErrAttemptCount, attempts)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownProvider)
	}
	src, srcPath, err := s.loadSourceWithPath(ctx, imageID)
	if err != nil {
		return nil, err
	}

	results := make([]*Generated, attempts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.promptWorkers(attempts))
	for i := range attempts {
		g.Go(func() error {
			gen, err := p.Generate(gctx, GenerateRequest{
				Source:   src,
				MimeType: mimeFromPath(srcPath),
				Prompt:   prompt,
				Attempt:  i + 1,
				Attempts: attempts,
			})
			if err != nil {
				return fmt.Errorf("%s attempt %d: %w", p.Name(), i+1, err)
			}
			if gen == nil || len(gen.Image) == 0 {
				return fmt.Errorf("%s attempt %d: %w", p.Name(), i+1, ErrEmptyGeneration)
			}
			results[i] = gen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Prompt run failed", "image", imageID, "provider", p.Name(), "error", err)
		return nil, err
	}

	run := &store.Run{ID: store.NewID(), ImageID: imageID, Mode: store.ModePrompt, Provider: p.Name(), UserPrompt: prompt}
	outs := make([]output, len(results))
	for i, gen := range results {
		meta := map[string]any{}
		maps.Copy(meta, gen.Meta)
		meta["provider"] = p.Name()
		outs[i] = output{
			name:          fmt.Sprintf("%s-%d.%s", run.ID, i+1, extFromMime(gen.MimeType)),
			data:          gen.Image,
			meta:          meta,
			revisedPrompt: gen.RevisedPrompt,
		}
	}
	return s.record(ctx, run, outs)
}

func (s *Service) promptWorkers(n int) int {
	if w := s.cfg.BatchWorkers; w > 0 && w < n {
		return w
	}
	return n
}
