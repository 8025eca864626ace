package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"gigatile/internal/provider"
	"gigatile/internal/visible"
)

type infoCmd struct {
	dir string
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "describe a tile directory and check it for missing tiles" }
func (c *infoCmd) Usage() string    { return "pyramid info -d <dir>\n" }
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dir, "d", "", "Tile directory")
}

type levelInfo struct {
	Level    int `json:"level"`
	Columns  int `json:"columns"`
	Rows     int `json:"rows"`
	Present  int `json:"present"`
	CellSize int `json:"cell_size"`
}

type dirInfo struct {
	Manifest provider.Manifest `json:"manifest"`
	Levels   []levelInfo       `json:"levels"`
}

func (c *infoCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	log := args[0].(*zap.Logger)
	if c.dir == "" {
		log.Error("-d is required")
		return subcommands.ExitUsageError
	}

	p, err := provider.OpenDir(c.dir, log)
	if err != nil {
		log.Error("Failed to open tile directory", zap.String("dir", c.dir), zap.Error(err))
		return subcommands.ExitFailure
	}
	info, err := describe(p)
	if err != nil {
		log.Error("Failed to scan tile directory", zap.Error(err))
		return subcommands.ExitFailure
	}

	out, _ := json.MarshalIndent(info, "", "  ")
	fmt.Println(string(out))

	for _, l := range info.Levels {
		if l.Present < l.Columns*l.Rows {
			log.Warn("Level incomplete", zap.Int("level", l.Level), zap.Int("present", l.Present), zap.Int("expected", l.Columns*l.Rows))
		}
	}
	return subcommands.ExitSuccess
}

// describe counts the tile files present on each level.
func describe(p *provider.DirProvider) (dirInfo, error) {
	g := p.Geometry()
	info := dirInfo{Manifest: p.Manifest()}
	for level := 0; level < g.ZoomLevels; level++ {
		cols, rows := visible.Grid(g.TileSize(), g.ImageSize(), level)
		l := levelInfo{
			Level:    level,
			Columns:  cols,
			Rows:     rows,
			CellSize: visible.CellSize(visible.NominalTileSize(g.TileSize(), g.ImageSize()), level).X,
		}
		for _, addr := range levelAddresses(g, level) {
			_, err := os.Stat(p.TilePath(addr))
			if err == nil {
				l.Present++
				continue
			}
			if !os.IsNotExist(err) {
				return dirInfo{}, err
			}
		}
		info.Levels = append(info.Levels, l)
	}
	return info, nil
}
