// Package catalog keeps track of the images under the data directory and
// opens tile providers for them.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gigatile/internal/provider"
)

var ErrNotFound = errors.New("catalog: image not found")

type Kind string

const (
	// KindSource is a single large image rendered into tiles on demand.
	KindSource Kind = "source"
	// KindPyramid is a directory of pre-rendered tiles.
	KindPyramid Kind = "pyramid"
)

type ImageInfo struct {
	ID               string `json:"id"`
	Kind             Kind   `json:"kind"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Bytes            int64  `json:"bytes"`
}

// DimensionFunc reads the pixel size of a source image.
type DimensionFunc func(path string) (image.Point, error)

type Options struct {
	TileSize       int
	BackgroundSize int
	// Dimensions defaults to provider.ImageDimensions.
	Dimensions DimensionFunc
}

type Catalog struct {
	dataDir string
	opts    Options
	logger  *zap.Logger

	mu     sync.RWMutex
	images []ImageInfo
}

func New(dataDir string, opts Options, logger *zap.Logger) *Catalog {
	if opts.Dimensions == nil {
		opts.Dimensions = provider.ImageDimensions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		dataDir: dataDir,
		opts:    opts,
		logger:  logger,
		images:  []ImageInfo{},
	}
}

// Scan rebuilds the image list. Source images without a metadata file are
// renamed to a fresh UUID and get one; stale metadata files are removed.
func (c *Catalog) Scan() error {
	if err := c.cleanupOrphanedJSON(); err != nil {
		return err
	}

	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	images := []ImageInfo{}
	for _, entry := range entries {
		// Hidden files include uploads still being staged.
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			if info, ok := c.scanPyramid(entry.Name()); ok {
				images = append(images, info)
			}
			continue
		}

		path := c.filePath(entry.Name())
		ext := strings.ToLower(filepath.Ext(path))
		if !provider.SourceExtensions[ext] {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			c.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			continue
		}

		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		jsonPath := c.filePath(basename + ".json")

		var info *ImageInfo
		if _, err := os.Stat(jsonPath); err != nil {
			info, err = c.register(path, filepath.Base(path), fi)
			if err != nil {
				c.logger.Warn("Failed to register image", zap.String("path", path), zap.Error(err))
				continue
			}
		} else {
			info, err = loadMetadata(jsonPath)
			if err != nil {
				c.logger.Warn("Failed to load metadata, skipping", zap.String("json_path", jsonPath), zap.Error(err))
				continue
			}
		}
		if info.Kind == "" {
			info.Kind = KindSource
		}
		images = append(images, *info)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })

	c.mu.Lock()
	c.images = images
	c.mu.Unlock()

	c.logger.Info("Catalog scanned", zap.Int("images", len(images)))
	return nil
}

// scanPyramid treats a directory holding a manifest as one image named
// after the directory.
func (c *Catalog) scanPyramid(name string) (ImageInfo, bool) {
	m, err := provider.ReadManifest(c.filePath(name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Invalid pyramid directory", zap.String("dir", name), zap.Error(err))
		}
		return ImageInfo{}, false
	}
	return ImageInfo{
		ID:               name,
		Kind:             KindPyramid,
		OriginalFilename: name,
		CurrentFilename:  name,
		Width:            m.ImageWidth,
		Height:           m.ImageHeight,
	}, true
}

// register renames path to a UUID, reads its size and writes the
// metadata file.
func (c *Catalog) register(path, originalFilename string, fi os.FileInfo) (*ImageInfo, error) {
	ext := strings.ToLower(filepath.Ext(path))
	id := uuid.New().String()
	finalPath := c.filePath(id + ext)
	if err := os.Rename(path, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move file: %w", err)
	}
	c.logger.Info("Migrated file to UUID", zap.String("old_path", path), zap.String("new_path", finalPath))

	size, err := c.opts.Dimensions(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	info := &ImageInfo{
		ID:               id,
		Kind:             KindSource,
		OriginalFilename: originalFilename,
		CurrentFilename:  filepath.Base(finalPath),
		Width:            size.X,
		Height:           size.Y,
		Bytes:            fi.Size(),
	}

	jsonPath := c.filePath(id + ".json")
	if err := saveMetadata(jsonPath, info); err != nil {
		return nil, err
	}
	c.logger.Info("Created metadata file", zap.String("json_path", jsonPath))
	return info, nil
}

func (c *Catalog) cleanupOrphanedJSON() error {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := c.filePath(entry.Name())
		if strings.ToLower(filepath.Ext(path)) != ".json" {
			continue
		}
		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		meta, err := loadMetadata(path)
		switch {
		case err != nil:
			c.removeJSON(path, "Deleted invalid JSON file")
		case meta.ID != basename:
			c.logger.Warn("UUID mismatch in JSON",
				zap.String("json_path", path),
				zap.String("filename_uuid", basename),
				zap.String("json_uuid", meta.ID))
			c.removeJSON(path, "Deleted JSON with UUID mismatch")
		default:
			if _, err := os.Stat(c.filePath(meta.CurrentFilename)); err != nil {
				c.removeJSON(path, "Deleted orphaned JSON file")
			}
		}
	}
	return nil
}

func (c *Catalog) removeJSON(path, msg string) {
	if err := os.Remove(path); err != nil {
		c.logger.Warn("Failed to delete JSON", zap.String("path", path), zap.Error(err))
		return
	}
	c.logger.Info(msg, zap.String("path", path))
}

// Images returns a snapshot of the catalog.
func (c *Catalog) Images() []ImageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ImageInfo, len(c.images))
	copy(out, c.images)
	return out
}

func (c *Catalog) Get(id string) (ImageInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, img := range c.images {
		if img.ID == id {
			return img, nil
		}
	}
	return ImageInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Open returns a tile provider for the image.
func (c *Catalog) Open(id string) (provider.Provider, error) {
	info, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	path := c.filePath(info.CurrentFilename)
	switch info.Kind {
	case KindPyramid:
		return provider.OpenDir(path, c.logger.Named("dir"))
	default:
		return provider.NewVipsProvider(path, image.Pt(info.Width, info.Height),
			c.opts.TileSize, c.opts.BackgroundSize, c.logger.Named("vips"))
	}
}

// Ingest moves an uploaded file into the data directory, registers it
// and rescans. It returns the new image ID.
func (c *Catalog) Ingest(tempPath, originalFilename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !provider.SourceExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported image format: %s", provider.ErrInvalidConfig, ext)
	}

	// Stage under the data dir so the rename in register stays on one
	// filesystem.
	staged := c.filePath(".upload-" + uuid.New().String() + ext)
	if err := moveFile(tempPath, staged); err != nil {
		return "", fmt.Errorf("failed to move uploaded file: %w", err)
	}
	fi, err := os.Stat(staged)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	info, err := c.register(staged, originalFilename, fi)
	if err != nil {
		return "", err
	}
	c.logger.Info("Processed uploaded file",
		zap.String("uuid", info.ID),
		zap.String("original_filename", originalFilename))

	if err := c.Scan(); err != nil {
		c.logger.Warn("Failed to rescan after upload", zap.Error(err))
	}
	return info.ID, nil
}

func (c *Catalog) filePath(filename string) string {
	return filepath.Join(c.dataDir, filename)
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return err
	}
	return os.Remove(src)
}

func loadMetadata(path string) (*ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta ImageInfo
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

func saveMetadata(path string, meta *ImageInfo) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
