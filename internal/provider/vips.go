package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

// SourceExtensions lists the file types VipsProvider can open.
var SourceExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// VipsProvider renders tiles on demand from a single large source image.
// Level L tiles cover tileSize*2^L source pixels scaled down to tileSize.
type VipsProvider struct {
	path           string
	geometry       Geometry
	backgroundSize int
	logger         *zap.Logger
}

// NewVipsProvider serves the image at path, whose native size is size.
// The pyramid gets as many levels as needed for the coarsest one to be a
// single tile. backgroundSize bounds the longest side of the background
// image; zero disables it.
func NewVipsProvider(path string, size image.Point, tileSize, backgroundSize int, logger *zap.Logger) (*VipsProvider, error) {
	if !SourceExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("%w: unsupported image format: %s", ErrInvalidConfig, filepath.Ext(path))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := image.Pt(tileSize, tileSize)
	g := Geometry{
		ImageWidth:  size.X,
		ImageHeight: size.Y,
		TileWidth:   tileSize,
		TileHeight:  tileSize,
		ZoomLevels:  visible.LevelCount(ts, size),
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &VipsProvider{
		path:           path,
		geometry:       g,
		backgroundSize: backgroundSize,
		logger:         logger,
	}, nil
}

func (p *VipsProvider) Geometry() Geometry     { return p.geometry }
func (p *VipsProvider) ImageSize() image.Point { return p.geometry.ImageSize() }
func (p *VipsProvider) TileSize() image.Point  { return p.geometry.TileSize() }
func (p *VipsProvider) ZoomLevels() int        { return p.geometry.ZoomLevels }

// tileSize resolves a zero configured tile size to the whole image.
func (p *VipsProvider) tileSize() image.Point {
	return visible.NominalTileSize(p.geometry.TileSize(), p.geometry.ImageSize())
}

// sourceRegion returns the source pixels covered by addr, clipped to the
// image. It reports false for addresses outside the pyramid.
func (p *VipsProvider) sourceRegion(addr tile.Address) (image.Rectangle, bool) {
	if addr.Level < 0 || addr.Level >= p.geometry.ZoomLevels || addr.Column < 0 || addr.Row < 0 {
		return image.Rectangle{}, false
	}
	cell := visible.CellSize(p.tileSize(), addr.Level)
	region := image.Rect(addr.Column*cell.X, addr.Row*cell.Y, (addr.Column+1)*cell.X, (addr.Row+1)*cell.Y).
		Intersect(image.Rectangle{Max: p.geometry.ImageSize()})
	if region.Empty() {
		return image.Rectangle{}, false
	}
	return region, true
}

func (p *VipsProvider) FetchTile(ctx context.Context, addr tile.Address) (image.Image, error) {
	data, err := p.RenderTile(ctx, addr)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeJPEG(data)
}

// RenderTile returns addr as JPEG, or nil for addresses outside the
// pyramid.
func (p *VipsProvider) RenderTile(ctx context.Context, addr tile.Address) ([]byte, error) {
	region, ok := p.sourceRegion(addr)
	if !ok {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := loadImage(p.path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	// Extract first so only the tile region is decoded.
	if err := img.ExtractArea(region.Min.X, region.Min.Y, region.Dx(), region.Dy()); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	ts := p.tileSize()
	if addr.Level > 0 {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := img.Resize(math.Exp2(float64(-addr.Level)), resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	// Edge tiles are padded at the bottom right so every tile image keeps
	// the same pixels-per-unit as a full one.
	if img.Width() < ts.X || img.Height() < ts.Y {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{221, 221, 221} // #ddd
		if err := img.Embed(0, 0, max(ts.X, img.Width()), max(ts.Y, img.Height()), embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := exportJPEG(img)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Rendered tile",
		zap.String("tile", addr.Key()),
		zap.Int("src_w", region.Dx()),
		zap.Int("src_h", region.Dy()),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (p *VipsProvider) FetchBackground(ctx context.Context) (image.Image, error) {
	data, err := p.RenderBackground(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeJPEG(data)
}

// RenderBackground returns the whole image as JPEG, scaled so that its
// longest side is at most backgroundSize. It returns nil when the
// background is disabled.
func (p *VipsProvider) RenderBackground(ctx context.Context) ([]byte, error) {
	if p.backgroundSize <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := loadImage(p.path, vips.AccessSequential)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	longest := max(img.Width(), img.Height())
	if longest > p.backgroundSize {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := img.Resize(float64(p.backgroundSize)/float64(longest), resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize background: %w", err)
		}
	}
	return exportJPEG(img)
}

func exportJPEG(img *vips.Image) ([]byte, error) {
	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = 82
	jpegOpts.Interlace = false

	data, err := img.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return data, nil
}

func decodeJPEG(data []byte) (image.Image, error) {
	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile: %w", err)
	}
	return out, nil
}

// ImageDimensions opens path just far enough to read its size.
func ImageDimensions(path string) (image.Point, error) {
	img, err := loadImage(path, vips.AccessSequential)
	if err != nil {
		return image.Point{}, err
	}
	defer img.Close()
	return image.Pt(img.Width(), img.Height()), nil
}

// loadImage picks the vips loader from the file extension.
func loadImage(path string, access vips.Access) (*vips.Image, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}
