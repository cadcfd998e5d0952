// Command vlbadbctl is the Doubling Array engine's control surface
// (SPEC_FULL §6): create/destroy/attach/detach/size/nice/unfreeze/graph
// operate on DAs persisted under --datadir.
//
// Usage:
//
//	vlbadbctl --datadir <dir> <command> [args]
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vlbadb/vlbadb/log"
)

var (
	version = "v0.1.0-dev"
)

func main() {
	os.Exit(run(os.Args))
}

// run is the actual entry point, returning an exit code so it can be
// exercised from tests without calling os.Exit.
func run(args []string) int {
	app := newApp()
	if err := app.Run(args); err != nil {
		log.Module("vlbadbctl").Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "vlbadbctl",
		Usage:   "control surface for the Doubling Array storage engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "datadir",
				Aliases: []string{"d"},
				Usage:   "base directory holding the checkpoint store and extents",
				Value:   "./vlbadb-data",
			},
			&cli.IntFlag{
				Name:  "cpu-count",
				Usage: "per-CPU wait queue count for newly created DAs (0 = auto-detect)",
				Value: 0,
			},
		},
		Commands: []*cli.Command{
			createCommand,
			destroyCommand,
			attachCommand,
			detachCommand,
			sizeCommand,
			niceCommand,
			unfreezeCommand,
			graphCommand,
			metricsCommand,
		},
	}
}
