package catalog

import (
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gigatile/internal/provider"
)

func fixedDimensions(size image.Point) DimensionFunc {
	return func(string) (image.Point, error) { return size, nil }
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newCatalog(t *testing.T, dir string) *Catalog {
	return New(dir, Options{TileSize: 256, BackgroundSize: 512, Dimensions: fixedDimensions(image.Pt(4000, 3000))}, zaptest.NewLogger(t))
}

func TestScanRegistersNewSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scan.tif"), "pixels")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	c := newCatalog(t, dir)
	require.NoError(t, c.Scan())

	images := c.Images()
	require.Len(t, images, 1)
	img := images[0]
	_, err := uuid.Parse(img.ID)
	require.NoError(t, err)
	assert.Equal(t, KindSource, img.Kind)
	assert.Equal(t, "scan.tif", img.OriginalFilename)
	assert.Equal(t, img.ID+".tif", img.CurrentFilename)
	assert.Equal(t, 4000, img.Width)
	assert.Equal(t, 3000, img.Height)
	assert.Equal(t, int64(len("pixels")), img.Bytes)

	assert.FileExists(t, filepath.Join(dir, img.ID+".json"))
	assert.NoFileExists(t, filepath.Join(dir, "scan.tif"))

	// A second scan reuses the metadata file.
	require.NoError(t, c.Scan())
	assert.Equal(t, images, c.Images())
}

func TestScanRemovesStaleMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.json"), "{not json")

	orphan, _ := json.Marshal(ImageInfo{ID: "orphan", CurrentFilename: "orphan.png"})
	writeFile(t, filepath.Join(dir, "orphan.json"), string(orphan))

	mismatch, _ := json.Marshal(ImageInfo{ID: "other", CurrentFilename: "mismatch.png"})
	writeFile(t, filepath.Join(dir, "mismatch.json"), string(mismatch))
	writeFile(t, filepath.Join(dir, "mismatch.png"), "x")

	c := newCatalog(t, dir)
	require.NoError(t, c.Scan())

	assert.NoFileExists(t, filepath.Join(dir, "broken.json"))
	assert.NoFileExists(t, filepath.Join(dir, "orphan.json"))
	assert.NoFileExists(t, filepath.Join(dir, "mismatch.json"))
	// The image lost its metadata and is registered afresh.
	require.Len(t, c.Images(), 1)
	assert.Equal(t, "mismatch.png", c.Images()[0].OriginalFilename)
}

func TestScanFindsPyramids(t *testing.T) {
	dir := t.TempDir()
	w, err := provider.NewDirWriter(filepath.Join(dir, "harbour"), "")
	require.NoError(t, err)
	g := provider.Geometry{ImageWidth: 2048, ImageHeight: 1024, TileWidth: 256, TileHeight: 256, ZoomLevels: 4}
	require.NoError(t, w.Finalize(g, ""))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755))
	writeFile(t, filepath.Join(dir, "bad", provider.ManifestName), `{"image_width": -1}`)

	c := newCatalog(t, dir)
	require.NoError(t, c.Scan())

	require.Len(t, c.Images(), 1)
	info, err := c.Get("harbour")
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{
		ID:               "harbour",
		Kind:             KindPyramid,
		OriginalFilename: "harbour",
		CurrentFilename:  "harbour",
		Width:            2048,
		Height:           1024,
	}, info)

	p, err := c.Open("harbour")
	require.NoError(t, err)
	assert.Equal(t, 4, p.ZoomLevels())
	assert.Equal(t, image.Pt(2048, 1024), p.ImageSize())
}

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	c := newCatalog(t, dir)
	require.NoError(t, c.Scan())

	id := c.Images()[0].ID
	p, err := c.Open(id)
	require.NoError(t, err)
	assert.IsType(t, &provider.VipsProvider{}, p)
	assert.Equal(t, image.Pt(4000, 3000), p.ImageSize())
	assert.Equal(t, image.Pt(256, 256), p.TileSize())
}

func TestGetUnknown(t *testing.T) {
	c := newCatalog(t, t.TempDir())
	require.NoError(t, c.Scan())

	_, err := c.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.Open("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestScanMissingDir(t *testing.T) {
	c := newCatalog(t, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, c.Scan())
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	upload := filepath.Join(t.TempDir(), "upload_123.png")
	writeFile(t, upload, "png bytes")

	c := newCatalog(t, dir)
	id, err := c.Ingest(upload, "Holiday.PNG")
	require.NoError(t, err)

	info, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Holiday.PNG", info.OriginalFilename)
	assert.Equal(t, id+".png", info.CurrentFilename)
	assert.NoFileExists(t, upload)

	for _, e := range mustReadDir(t, dir) {
		assert.False(t, strings.HasPrefix(e, ".upload-"), "staged file left behind: %s", e)
	}

	_, err = c.Ingest(upload, "movie.mp4")
	assert.True(t, errors.Is(err, provider.ErrInvalidConfig))
}

func mustReadDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
