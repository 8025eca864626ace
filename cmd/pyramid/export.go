package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gigatile/internal/provider"
	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

const backgroundName = "background.jpg"

// tileRenderer is the part of provider.VipsProvider the export needs.
type tileRenderer interface {
	Geometry() provider.Geometry
	RenderTile(ctx context.Context, addr tile.Address) ([]byte, error)
	RenderBackground(ctx context.Context) ([]byte, error)
}

type exportCmd struct {
	srcPath        string
	outDir         string
	tileSize       int
	backgroundSize int
	workers        int
}

func (c *exportCmd) Name() string     { return "export" }
func (c *exportCmd) Synopsis() string { return "render every tile of an image into a directory" }
func (c *exportCmd) Usage() string {
	return "pyramid export -i <image> -o <dir> [-tile 256 -background 1024 -workers 4]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.srcPath, "i", "", "Source image (tif, jpg, png, webp)")
	f.StringVar(&c.outDir, "o", "", "Output directory")
	f.IntVar(&c.tileSize, "tile", 256, "Tile size in pixels")
	f.IntVar(&c.backgroundSize, "background", 1024, "Longest side of the background image, 0 to skip")
	f.IntVar(&c.workers, "workers", 4, "Concurrent tile renders")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	log := args[0].(*zap.Logger)
	if c.srcPath == "" || c.outDir == "" {
		log.Error("Both -i and -o are required")
		return subcommands.ExitUsageError
	}

	vips.Startup(&vips.Config{ConcurrencyLevel: c.workers})
	defer vips.Shutdown()

	size, err := provider.ImageDimensions(c.srcPath)
	if err != nil {
		log.Error("Failed to open image", zap.String("path", c.srcPath), zap.Error(err))
		return subcommands.ExitFailure
	}
	src, err := provider.NewVipsProvider(c.srcPath, size, c.tileSize, c.backgroundSize, log.Named("vips"))
	if err != nil {
		log.Error("Invalid source", zap.Error(err))
		return subcommands.ExitFailure
	}
	writer, err := provider.NewDirWriter(c.outDir, provider.DefaultPattern)
	if err != nil {
		log.Error("Invalid output", zap.Error(err))
		return subcommands.ExitFailure
	}

	g := src.Geometry()
	log.Info("Exporting pyramid",
		zap.String("src", c.srcPath),
		zap.Int("width", g.ImageWidth),
		zap.Int("height", g.ImageHeight),
		zap.Int("zoom_levels", g.ZoomLevels),
		zap.Int("tiles", countTiles(g)),
	)

	bar := progressbar.NewOptions(countTiles(g), progressbar.OptionShowIts(), progressbar.OptionShowCount())
	err = exportPyramid(ctx, src, writer, c.workers, func() { bar.Add(1) })
	bar.Finish()
	fmt.Println()
	if err != nil {
		log.Error("Export failed", zap.Error(err))
		return subcommands.ExitFailure
	}

	log.Info("Export completed", zap.String("dir", c.outDir))
	return subcommands.ExitSuccess
}

// levelAddresses lists every tile of level in row-major order.
func levelAddresses(g provider.Geometry, level int) []tile.Address {
	cols, rows := visible.Grid(g.TileSize(), g.ImageSize(), level)
	addrs := make([]tile.Address, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			addrs = append(addrs, tile.New(level, col, row))
		}
	}
	return addrs
}

func countTiles(g provider.Geometry) int {
	n := 0
	for level := 0; level < g.ZoomLevels; level++ {
		cols, rows := visible.Grid(g.TileSize(), g.ImageSize(), level)
		n += cols * rows
	}
	return n
}

// exportPyramid renders all tiles with at most workers in flight, then
// the background and the manifest. progress is called once per tile.
func exportPyramid(ctx context.Context, src tileRenderer, w *provider.DirWriter, workers int, progress func()) error {
	g := src.Geometry()

	eg, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for level := 0; level < g.ZoomLevels; level++ {
		for _, addr := range levelAddresses(g, level) {
			eg.Go(func() error {
				data, err := src.RenderTile(gctx, addr)
				if err != nil {
					return fmt.Errorf("tile %v: %w", addr, err)
				}
				if data != nil {
					if err := w.WriteTile(addr, data); err != nil {
						return fmt.Errorf("tile %v: %w", addr, err)
					}
				}
				progress()
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	background := ""
	data, err := src.RenderBackground(ctx)
	if err != nil {
		return fmt.Errorf("background: %w", err)
	}
	if data != nil {
		if err := w.WriteBackground(backgroundName, data); err != nil {
			return err
		}
		background = backgroundName
	}
	return w.Finalize(g, background)
}
