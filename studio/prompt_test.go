package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stevecastle/photomaxx/filters"
	"github.com/stevecastle/photomaxx/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []GenerateRequest
	failAt  int
	emptyAt int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if req.Attempt == f.failAt {
		return nil, errors.New("quota exceeded")
	}
	if req.Attempt == f.emptyAt {
		return &Generated{MimeType: "image/png"}, nil
	}
	return &Generated{
		Image:         []byte(fmt.Sprintf("image-%d", req.Attempt)),
		MimeType:      "image/png",
		RevisedPrompt: fmt.Sprintf("%s #%d", req.Prompt, req.Attempt),
		Meta:          map[string]any{"seed": req.Attempt},
	}, nil
}

func countRows(t *testing.T, svc *Service, table string) int {
	t.Helper()
	var n int
	require.NoError(t, svc.store.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRunPrompt(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)
	fake := &fakeProvider{}

	res, err := svc.RunPrompt(ctx, img.ID, fake, "  make it warmer  ", PromptAttempts)
	require.NoError(t, err)

	assert.Equal(t, store.ModePrompt, res.Run.Mode)
	assert.Equal(t, "fake", res.Run.Provider)
	assert.Equal(t, "make it warmer", res.Run.UserPrompt)
	require.Len(t, fake.calls, PromptAttempts)
	for _, c := range fake.calls {
		assert.Equal(t, "image/png", c.MimeType)
		assert.Equal(t, PromptAttempts, c.Attempts)
		assert.NotEmpty(t, c.Source)
	}

	require.Len(t, res.Attempts, PromptAttempts)
	for i, a := range res.Attempts {
		n := i + 1
		assert.Equal(t, n, a.Index)
		assert.Equal(t, fmt.Sprintf("outputs/%s-%d.png", res.Run.ID, n), a.OutputPath)
		assert.Equal(t, fmt.Sprintf("make it warmer #%d", n), a.RevisedPrompt)

		var meta map[string]any
		require.NoError(t, json.Unmarshal(a.Meta, &meta))
		assert.Equal(t, "fake", meta["provider"])
		assert.EqualValues(t, n, meta["seed"])

		abs, err := svc.Abs(a.OutputPath)
		require.NoError(t, err)
		data, err := os.ReadFile(abs)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("image-%d", n), string(data))
	}

	stored, err := svc.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, "fake", stored.Run.Provider)
	assert.Equal(t, "make it warmer #1", stored.Attempts[0].RevisedPrompt)
}

func TestRunPromptValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)
	fake := &fakeProvider{}

	_, err := svc.RunPrompt(ctx, img.ID, fake, "   ", PromptAttempts)
	assert.ErrorIs(t, err, ErrPromptRequired)
	_, err = svc.RunPrompt(ctx, img.ID, fake, "warmer", 3)
	assert.ErrorIs(t, err, ErrAttemptCount)
	_, err = svc.RunPrompt(ctx, "missing", fake, "warmer", PromptAttempts)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, fake.calls)
}

func TestRunPromptFailsFast(t *testing.T) {
	for name, fake := range map[string]*fakeProvider{
		"provider error": {failAt: 3},
		"empty image":    {emptyAt: 2},
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t)
			ctx := context.Background()
			img := importTestImage(t, svc)

			res, err := svc.RunPrompt(ctx, img.ID, fake, "warmer", PromptAttempts)
			require.Error(t, err)
			assert.Nil(t, res)
			if fake.emptyAt != 0 {
				assert.ErrorIs(t, err, ErrEmptyGeneration)
			}
			assert.Zero(t, countRows(t, svc, "runs"))
			assert.Zero(t, countRows(t, svc, "attempts"))
		})
	}
}

func TestRunPromptLocalProvider(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)

	p, err := svc.Provider("local")
	require.NoError(t, err)
	_, err = svc.Provider("openai")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	res, err := svc.RunPrompt(ctx, img.ID, p, "vintage film look", PromptAttempts)
	require.NoError(t, err)
	require.Len(t, res.Attempts, PromptAttempts)

	seen := map[string]bool{}
	for i, a := range res.Attempts {
		assert.Equal(t, fmt.Sprintf("outputs/%s-%d.jpg", res.Run.ID, i+1), a.OutputPath)
		var meta map[string]any
		require.NoError(t, json.Unmarshal(a.Meta, &meta))
		seen[meta["filterId"].(string)] = true
		if i == 0 {
			assert.Equal(t, string(filters.FilmWarm), meta["filterId"])
		}
	}
	assert.Len(t, seen, len(filters.Catalog()))
}

func TestBestPreset(t *testing.T) {
	defs := filters.Catalog()
	tests := []struct {
		prompt string
		want   filters.FilterID
	}{
		{"golden glow please", filters.GoldenHour},
		{"crisp sharp headshot", filters.CleanSharp},
		{"soft dreamy portrait", filters.SoftPortrait},
		{"vintage film", filters.FilmWarm},
		{"xyz", filters.GoldenHour},
	}
	for _, tt := range tests {
		if got := defs[bestPreset(defs, tt.prompt)].ID; got != tt.want {
			t.Errorf("bestPreset(%q) = %s; want %s", tt.prompt, got, tt.want)
		}
	}
}

func TestRecordRemovesFilesOnFailure(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)

	// A second attempt whose file collides with a directory makes the
	// write fail after the first attempt is already on disk.
	run := &store.Run{ID: store.NewID(), ImageID: img.ID, Mode: store.ModePreset}
	blocked, err := svc.Abs("outputs/" + run.ID + "-2.jpg")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(blocked, 0755))

	_, err = svc.record(ctx, run, []output{
		{name: run.ID + "-1.jpg", data: []byte("one")},
		{name: run.ID + "-2.jpg", data: []byte("two")},
	})
	require.Error(t, err)

	first, err := svc.Abs("outputs/" + run.ID + "-1.jpg")
	require.NoError(t, err)
	assert.NoFileExists(t, first)
	_, err = svc.store.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, countRows(t, svc, "attempts"))
}
