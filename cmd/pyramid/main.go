// Command pyramid pre-renders a large image into a tile directory that
// the server can serve without libvips work per request.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"gigatile/internal/logger"
)

var logLevel = flag.String("log", "info", "Log level (debug, info, warn, error)")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&exportCmd{}, "")
	subcommands.Register(&infoCmd{}, "")
	subcommands.ImportantFlag("log")

	flag.Parse()

	log, err := logger.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(context.Background(), log))
}

// run executes the selected subcommand and flushes the logger before the
// caller exits.
func run(ctx context.Context, log *zap.Logger) int {
	defer log.Sync()
	return int(subcommands.Execute(ctx, log))
}
