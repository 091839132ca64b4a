// Package studio ties the filter pipeline to the data directory and the
// database: importing originals, running presets, picking winners and
// saving copies.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevecastle/photomaxx/appconfig"
	"github.com/stevecastle/photomaxx/contactsheet"
	"github.com/stevecastle/photomaxx/filters"
	"github.com/stevecastle/photomaxx/store"
)

var (
	// ErrUnsupportedFormat is returned by Import for anything but JPEG or PNG.
	ErrUnsupportedFormat = errors.New("unsupported image format: only JPEG and PNG are accepted")
	// ErrAttemptNotInRun is returned by PickWinner when the attempt belongs
	// to a different run.
	ErrAttemptNotInRun = errors.New("attempt does not belong to run")
)

// RunResult is a run together with its attempts in index order.
type RunResult struct {
	Run      store.Run       `json:"run"`
	Attempts []store.Attempt `json:"attempts"`
}

// Service runs presets and prompt generations over imported images and
// records the results.
type Service struct {
	cfg        appconfig.Config
	configPath string
	store      *store.Store
	runner     filters.Runner
	providers  map[string]Provider
	now        func() time.Time
}

// New returns a service rendering with the quality and worker settings in
// cfg. The local PresetProvider is registered for prompt runs.
func New(cfg appconfig.Config, configPath string, st *store.Store) *Service {
	s := &Service{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		runner:     filters.Runner{Quality: cfg.JPEGQuality, Workers: cfg.BatchWorkers},
		providers:  map[string]Provider{},
		now:        time.Now,
	}
	s.RegisterProvider(PresetProvider{Runner: s.runner})
	return s
}

// Abs resolves a stored slash-separated path under the data directory.
func (s *Service) Abs(rel string) (string, error) {
	return s.cfg.SafeJoin(strings.Split(rel, "/")...)
}

func sniffExt(data []byte) (string, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	}
	return "", ErrUnsupportedFormat
}

// Import copies the file at src into the uploads directory and records it.
func (s *Service) Import(ctx context.Context, src string) (*store.Image, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	return s.ImportBytes(ctx, data)
}

// ImportBytes stores an encoded JPEG or PNG as a new image.
func (s *Service) ImportBytes(ctx context.Context, data []byte) (*store.Image, error) {
	ext, err := sniffExt(data)
	if err != nil {
		return nil, err
	}
	img := &store.Image{ID: store.NewID()}
	img.OriginalPath = path.Join("uploads", img.ID+ext)
	if err := s.writeFile(img.OriginalPath, data); err != nil {
		return nil, err
	}
	if err := s.store.InsertImage(ctx, img); err != nil {
		return nil, err
	}
	slog.Info("Imported image", "image", img.ID, "path", img.OriginalPath)
	return img, nil
}

func (s *Service) writeFile(rel string, data []byte) error {
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(abs), err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func (s *Service) readFile(rel string) ([]byte, error) {
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (s *Service) loadSource(ctx context.Context, imageID string) ([]byte, error) {
	data, _, err := s.loadSourceWithPath(ctx, imageID)
	return data, err
}

func (s *Service) loadSourceWithPath(ctx context.Context, imageID string) ([]byte, string, error) {
	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, "", err
	}
	data, err := s.readFile(img.OriginalPath)
	if err != nil {
		return nil, "", fmt.Errorf("read original for image %s: %w", imageID, err)
	}
	return data, img.OriginalPath, nil
}

// RunPresets renders every preset over the image and records the results
// as one run with attempts numbered from 1 in catalog order.
func (s *Service) RunPresets(ctx context.Context, imageID string) (*RunResult, error) {
	src, err := s.loadSource(ctx, imageID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	attempts, err := s.runner.ApplyAll(src)
	if err != nil {
		slog.Error("Preset batch failed", "image", imageID, "error", err)
		return nil, err
	}
	slog.Debug("Rendered presets", "image", imageID, "count", len(attempts), "elapsed", s.now().Sub(start))
	run := &store.Run{ID: store.NewID(), ImageID: imageID, Mode: store.ModePreset}
	return s.record(ctx, run, presetOutputs(run.ID, attempts))
}

// RunPreset renders a single preset and records it as its own run.
func (s *Service) RunPreset(ctx context.Context, imageID string, id filters.FilterID) (*RunResult, error) {
	if _, err := filters.Lookup(id); err != nil {
		return nil, err
	}
	src, err := s.loadSource(ctx, imageID)
	if err != nil {
		return nil, err
	}
	a, err := s.runner.Apply(src, id)
	if err != nil {
		return nil, err
	}
	run := &store.Run{ID: store.NewID(), ImageID: imageID, Mode: store.ModePreset, PresetID: string(id)}
	return s.record(ctx, run, presetOutputs(run.ID, []filters.Attempt{*a}))
}

// output is one rendered or generated file waiting to be recorded.
type output struct {
	name          string
	data          []byte
	meta          any
	revisedPrompt string
}

func presetOutputs(runID string, attempts []filters.Attempt) []output {
	outs := make([]output, len(attempts))
	for i, a := range attempts {
		outs[i] = output{name: fmt.Sprintf("%s-%s.jpg", runID, a.FilterID), data: a.Output, meta: a.Meta}
	}
	return outs
}

// record writes outs under outputs/ and inserts the run with one attempt
// per output, numbered from 1, in a single transaction. On failure the
// transaction rolls back and any files already written are removed.
func (s *Service) record(ctx context.Context, run *store.Run, outs []output) (*RunResult, error) {
	var written []string
	res := &RunResult{}
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return err
		}
		for i, o := range outs {
			rel := path.Join("outputs", o.name)
			if err := s.writeFile(rel, o.data); err != nil {
				return err
			}
			written = append(written, rel)
			row := &store.Attempt{RunID: run.ID, Index: i + 1, OutputPath: rel, RevisedPrompt: o.revisedPrompt}
			if err := tx.AddAttempt(ctx, row, o.meta); err != nil {
				return err
			}
			res.Attempts = append(res.Attempts, *row)
		}
		return nil
	})
	if err != nil {
		s.removeFiles(written)
		return nil, err
	}
	res.Run = *run
	slog.Info("Recorded run", "run", run.ID, "image", run.ImageID, "mode", run.Mode, "attempts", len(res.Attempts))
	return res, nil
}

func (s *Service) removeFiles(rels []string) {
	for _, rel := range rels {
		abs, err := s.Abs(rel)
		if err != nil {
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove partial output", "path", rel, "error", err)
		}
	}
}

// GetRun returns a stored run with its attempts.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunResult{Run: *run, Attempts: attempts}, nil
}

// ListRuns returns an image's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, imageID string) ([]store.Run, error) {
	if _, err := s.store.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, imageID)
}

// PickWinner marks attemptID as the favourite of runID. Picking again
// replaces the earlier choice.
func (s *Service) PickWinner(ctx context.Context, runID, attemptID string) (*store.Winner, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.RunID != runID {
		return nil, fmt.Errorf("%w: attempt %s, run %s", ErrAttemptNotInRun, attemptID, runID)
	}
	w, err := s.store.SetWinner(ctx, runID, attemptID)
	if err != nil {
		return nil, err
	}
	slog.Info("Picked winner", "run", runID, "attempt", attemptID)
	return w, nil
}

// Save copies an attempt's output to a new file in the outputs directory
// and returns its absolute path.
func (s *Service) Save(ctx context.Context, attemptID string) (string, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", err
	}
	data, err := s.readFile(a.OutputPath)
	if err != nil {
		return "", fmt.Errorf("read attempt %s: %w", attemptID, err)
	}
	ext := path.Ext(a.OutputPath)
	if ext == "" {
		ext = ".jpg"
	}
	rel := path.Join("outputs", fmt.Sprintf("saved-%s-%d%s", attemptID, s.now().UnixMilli(), ext))
	if err := s.writeFile(rel, data); err != nil {
		return "", err
	}
	if _, err := s.store.AddSavedOutput(ctx, attemptID, rel); err != nil {
		return "", err
	}
	slog.Info("Saved attempt", "attempt", attemptID, "path", rel)
	return s.Abs(rel)
}

// ContactSheet lays a run's attempts out on one JPEG next to the outputs
// and returns its absolute path.
func (s *Service) ContactSheet(ctx context.Context, runID string) (string, error) {
	res, err := s.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	tiles := make([]contactsheet.Tile, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		data, err := s.readFile(a.OutputPath)
		if err != nil {
			return "", fmt.Errorf("read attempt %s: %w", a.ID, err)
		}
		img, err := filters.Decode(data)
		if err != nil {
			return "", fmt.Errorf("decode attempt %s: %w", a.ID, err)
		}
		tiles = append(tiles, contactsheet.Tile{Label: attemptLabel(a), Image: img})
	}
	sheet, err := contactsheet.Build(tiles, contactsheet.Options{
		Columns:    s.cfg.Sheet.Columns,
		ThumbWidth: s.cfg.Sheet.ThumbWidth,
	})
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := contactsheet.Encode(&buf, sheet, s.cfg.JPEGQuality); err != nil {
		return "", fmt.Errorf("encode contact sheet: %w", err)
	}
	rel := path.Join("outputs", runID+"-sheet.jpg")
	if err := s.writeFile(rel, buf.Bytes()); err != nil {
		return "", err
	}
	return s.Abs(rel)
}

func attemptLabel(a store.Attempt) string {
	var meta filters.Meta
	if err := json.Unmarshal(a.Meta, &meta); err == nil && meta.FilterName != "" {
		return meta.FilterName
	}
	return path.Base(a.OutputPath)
}
