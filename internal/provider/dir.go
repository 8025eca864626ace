package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"gigatile/internal/tile"
)

// ManifestName is the file describing a pyramid directory.
const ManifestName = "pyramid.json"

// DefaultPattern lays tiles out as level/column/row.
const DefaultPattern = "{level}/{column}/{row}.jpg"

var ErrInvalidPattern = errors.New("provider: invalid tile pattern")

// Manifest is the content of pyramid.json.
type Manifest struct {
	Geometry
	// Pattern is the tile path relative to the pyramid root.
	Pattern string `json:"pattern"`
	// Background is an optional image file relative to the root.
	Background string `json:"background,omitempty"`
}

func (m Manifest) Validate() error {
	if err := m.Geometry.Validate(); err != nil {
		return err
	}
	return validatePattern(m.Pattern)
}

func validatePattern(pattern string) error {
	for _, p := range []string{"{level}", "{column}", "{row}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	if filepath.IsAbs(pattern) {
		return fmt.Errorf("%w: pattern must be relative", ErrInvalidPattern)
	}
	return nil
}

func formatPattern(pattern string, addr tile.Address) string {
	result := pattern
	result = strings.ReplaceAll(result, "{level}", strconv.Itoa(addr.Level))
	result = strings.ReplaceAll(result, "{column}", strconv.Itoa(addr.Column))
	result = strings.ReplaceAll(result, "{row}", strconv.Itoa(addr.Row))
	return filepath.FromSlash(result)
}

// ReadManifest loads and validates root/pyramid.json.
func ReadManifest(root string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Pattern == "" {
		m.Pattern = DefaultPattern
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// DirProvider serves a pre-rendered pyramid stored as one file per tile.
type DirProvider struct {
	root     string
	manifest Manifest
	logger   *zap.Logger
}

// OpenDir reads the manifest of the pyramid at root.
func OpenDir(root string, logger *zap.Logger) (*DirProvider, error) {
	m, err := ReadManifest(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirProvider{root: root, manifest: m, logger: logger}, nil
}

func (p *DirProvider) Manifest() Manifest     { return p.manifest }
func (p *DirProvider) Geometry() Geometry     { return p.manifest.Geometry }
func (p *DirProvider) ImageSize() image.Point { return p.manifest.ImageSize() }
func (p *DirProvider) TileSize() image.Point  { return p.manifest.TileSize() }
func (p *DirProvider) ZoomLevels() int        { return p.manifest.ZoomLevels }

// TilePath returns the file holding addr.
func (p *DirProvider) TilePath(addr tile.Address) string {
	return filepath.Join(p.root, formatPattern(p.manifest.Pattern, addr))
}

func (p *DirProvider) FetchTile(ctx context.Context, addr tile.Address) (image.Image, error) {
	if addr.Level < 0 || addr.Column < 0 || addr.Row < 0 {
		return nil, nil
	}
	return p.decodeFile(ctx, p.TilePath(addr))
}

func (p *DirProvider) FetchBackground(ctx context.Context) (image.Image, error) {
	if p.manifest.Background == "" {
		return nil, nil
	}
	return p.decodeFile(ctx, filepath.Join(p.root, filepath.FromSlash(p.manifest.Background)))
}

// decodeFile returns nil, nil for missing files.
func (p *DirProvider) decodeFile(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.logger.Debug("Tile file missing", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// DirWriter stores encoded tiles in the layout DirProvider reads.
type DirWriter struct {
	root    string
	pattern string
}

func NewDirWriter(root, pattern string) (*DirWriter, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	return &DirWriter{root: root, pattern: pattern}, nil
}

func (w *DirWriter) WriteTile(addr tile.Address, data []byte) error {
	return w.writeFile(formatPattern(w.pattern, addr), data)
}

// WriteBackground stores the background image under name.
func (w *DirWriter) WriteBackground(name string, data []byte) error {
	return w.writeFile(filepath.FromSlash(name), data)
}

// Finalize writes the manifest. Call it once all tiles are written.
func (w *DirWriter) Finalize(g Geometry, background string) error {
	m := Manifest{Geometry: g, Pattern: w.pattern, Background: background}
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return w.writeFile(ManifestName, data)
}

func (w *DirWriter) writeFile(rel string, data []byte) error {
	path := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
