package studio

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stevecastle/photomaxx/appconfig"
	"github.com/stevecastle/photomaxx/filters"
	"github.com/stevecastle/photomaxx/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	st, err := store.New(ctx, db)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := appconfig.Config{
		DBPath:       filepath.Join(dir, "app.db"),
		DataDir:      filepath.Join(dir, "data"),
		JPEGQuality:  90,
		BatchWorkers: 2,
	}
	cfg.Sheet.Columns = 3
	cfg.Sheet.ThumbWidth = 48
	require.NoError(t, cfg.EnsureDataDirs())

	svc := New(cfg, filepath.Join(dir, "config.json"), st)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return svc
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(40 + x*4), uint8(60 + y*4), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func importTestImage(t *testing.T, svc *Service) *store.Image {
	t.Helper()
	img, err := svc.ImportBytes(context.Background(), pngBytes(t, 32, 24))
	require.NoError(t, err)
	return img
}

func TestImportRejectsUnsupported(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for name, data := range map[string][]byte{
		"gif":  []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"),
		"text": []byte("not an image at all"),
	} {
		_, err := svc.ImportBytes(ctx, data)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}
}

func TestImportFromPath(t *testing.T) {
	svc := newTestService(t)
	src := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(src, pngBytes(t, 16, 16), 0644))

	img, err := svc.Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "uploads/"+img.ID+".png", img.OriginalPath)

	abs, err := svc.Abs(img.OriginalPath)
	require.NoError(t, err)
	assert.FileExists(t, abs)

	_, err = svc.Import(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunPresets(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)

	res, err := svc.RunPresets(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ModePreset, res.Run.Mode)

	catalog := filters.Catalog()
	require.Len(t, res.Attempts, len(catalog))
	for i, a := range res.Attempts {
		assert.Equal(t, i+1, a.Index)
		assert.Equal(t, "outputs/"+res.Run.ID+"-"+string(catalog[i].ID)+".jpg", a.OutputPath)

		var meta filters.Meta
		require.NoError(t, json.Unmarshal(a.Meta, &meta))
		assert.Equal(t, catalog[i].ID, meta.FilterID)
		assert.True(t, meta.NoCrop)

		abs, err := svc.Abs(a.OutputPath)
		require.NoError(t, err)
		assert.FileExists(t, abs)
	}

	stored, err := svc.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Attempts, len(catalog))
}

func TestRunPresetsMissingImage(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.RunPresets(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunPreset(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)

	res, err := svc.RunPreset(ctx, img.ID, filters.VividPop)
	require.NoError(t, err)
	assert.Equal(t, string(filters.VividPop), res.Run.PresetID)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, res.Attempts[0].Index)

	_, err = svc.RunPreset(ctx, img.ID, "sepia")
	var unknown *filters.UnknownFilterError
	assert.ErrorAs(t, err, &unknown)

	runs, err := svc.ListRuns(ctx, img.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPickWinner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)

	first, err := svc.RunPreset(ctx, img.ID, filters.GoldenHour)
	require.NoError(t, err)
	second, err := svc.RunPreset(ctx, img.ID, filters.FilmWarm)
	require.NoError(t, err)

	w, err := svc.PickWinner(ctx, first.Run.ID, first.Attempts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, first.Attempts[0].ID, w.AttemptID)

	_, err = svc.PickWinner(ctx, first.Run.ID, second.Attempts[0].ID)
	assert.ErrorIs(t, err, ErrAttemptNotInRun)

	_, err = svc.PickWinner(ctx, "missing", first.Attempts[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSave(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)
	res, err := svc.RunPreset(ctx, img.ID, filters.CleanSharp)
	require.NoError(t, err)
	attempt := res.Attempts[0]

	saved, err := svc.Save(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, "saved-"+attempt.ID+"-1700000000123.jpg", filepath.Base(saved))

	orig, err := svc.Abs(attempt.OutputPath)
	require.NoError(t, err)
	want, err := os.ReadFile(orig)
	require.NoError(t, err)
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rows, err := svc.store.ListSavedOutputs(ctx, attempt.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, strings.HasPrefix(rows[0].SavedPath, "outputs/saved-"))

	_, err = svc.Save(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestContactSheet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	img := importTestImage(t, svc)
	res, err := svc.RunPresets(ctx, img.ID)
	require.NoError(t, err)

	sheet, err := svc.ContactSheet(ctx, res.Run.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(sheet)
	require.NoError(t, err)
	decoded, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	// 3 columns of 48px thumbnails with 16px gutters
	assert.Equal(t, 3*48+4*16, decoded.Bounds().Dx())
}

func TestHealth(t *testing.T) {
	svc := newTestService(t)
	h := svc.Health(context.Background())
	assert.True(t, h.OK)
	assert.True(t, h.Database)
	assert.True(t, h.UploadsDir)
	assert.NotEmpty(t, h.ConfigPath)

	require.NoError(t, os.RemoveAll(svc.cfg.OutputsDir()))
	h = svc.Health(context.Background())
	assert.False(t, h.OK)
	assert.False(t, h.OutputsDir)
}
