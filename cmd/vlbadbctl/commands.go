package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vlbadb/vlbadb/metrics"
	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/checkpoint"
	"github.com/vlbadb/vlbadb/storage/daengine"
	"github.com/vlbadb/vlbadb/storage/extent"
)

// renderMetrics drives exp's /metrics handler through a single in-process
// request and returns the exposition text, since vlbadbctl has no
// long-running process to actually serve the endpoint from.
func renderMetrics(exp *metrics.PrometheusExporter) string {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

// commandInvocations and commandLatencyMS are the process-wide counters
// every subcommand reports through on its way through withManager; the
// metrics command renders them (and Go runtime stats) in Prometheus
// exposition format.
var (
	commandInvocations = metrics.DefaultRegistry.Counter("vlbadbctl_commands_total")
	commandLatencyMS   = metrics.DefaultRegistry.Histogram("vlbadbctl_command_latency_ms")
)

// withManager opens the checkpoint store at --datadir, loads every
// persisted DA, runs fn, and closes the store again. Every subcommand
// shares this lifecycle.
func withManager(c *cli.Context, fn func(*daengine.Manager) error) error {
	start := time.Now()
	commandInvocations.Inc()
	defer func() { commandLatencyMS.Observe(float64(time.Since(start).Milliseconds())) }()

	store, err := checkpoint.Open(c.String("datadir"))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	alloc, err := extent.OpenDiskAllocator(filepath.Join(c.String("datadir"), "extents"))
	if err != nil {
		return fmt.Errorf("open extent allocator: %w", err)
	}
	defer alloc.Close()

	mgr := daengine.NewManager(store, alloc, c.Int("cpu-count"))
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load DAs: %w", err)
	}
	defer mgr.Shutdown()

	return fn(mgr)
}

func daIDArg(c *cli.Context) (uint32, error) {
	if c.NArg() < 1 {
		return 0, fmt.Errorf("missing DA id argument")
	}
	var id uint32
	if _, err := fmt.Sscanf(c.Args().First(), "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid DA id %q: %w", c.Args().First(), err)
	}
	return id, nil
}

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "create a new DA",
	ArgsUsage: "<da-id>",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "root-version", Usage: "initial root version", Value: 1},
	},
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			_, err := mgr.Create(id, storage.Version(c.Uint64("root-version")), daengine.DefaultTunables())
			if err != nil {
				return err
			}
			fmt.Printf("created DA %d\n", id)
			return nil
		})
	},
}

var destroyCommand = &cli.Command{
	Name:      "destroy",
	Usage:     "destroy a DA (fails if attachments remain)",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			if err := mgr.Destroy(id); err != nil {
				return err
			}
			fmt.Printf("destroyed DA %d\n", id)
			return nil
		})
	},
}

var attachCommand = &cli.Command{
	Name:      "attach",
	Usage:     "register an attachment on a DA, blocking destroy",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			da.Attach()
			fmt.Printf("attached to DA %d\n", id)
			return nil
		})
	},
}

var detachCommand = &cli.Command{
	Name:      "detach",
	Usage:     "release an attachment on a DA",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			da.Detach()
			fmt.Printf("detached from DA %d\n", id)
			return nil
		})
	},
}

var sizeCommand = &cli.Command{
	Name:      "size",
	Usage:     "print the number of component trees at each level",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			for level, n := range da.SizeGet() {
				fmt.Printf("level %d: %d trees\n", level, n)
			}
			return nil
		})
	},
}

var niceCommand = &cli.Command{
	Name:      "nice",
	Usage:     "set a DA's ios_rate admission budget",
	ArgsUsage: "<da-id> <ios-rate>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		if c.NArg() < 2 {
			return fmt.Errorf("missing ios-rate argument")
		}
		var rate int64
		if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &rate); err != nil {
			return fmt.Errorf("invalid ios-rate %q: %w", c.Args().Get(1), err)
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			da.SetIOSRate(rate)
			fmt.Printf("set ios_rate=%d on DA %d\n", rate, id)
			return nil
		})
	},
}

var unfreezeCommand = &cli.Command{
	Name:      "unfreeze",
	Usage:     "clear a DA's FROZEN_BIT after ENOSPC recovery",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			da.Unfreeze()
			fmt.Printf("unfroze DA %d\n", id)
			return nil
		})
	},
}

var metricsCommand = &cli.Command{
	Name:  "metrics",
	Usage: "print a Prometheus-format snapshot of vlbadbctl's own process metrics",
	Action: func(c *cli.Context) error {
		exp := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.PrometheusConfig{
			Namespace:     "vlbadbctl",
			EnableRuntime: true,
		})
		fmt.Print(renderMetrics(exp))
		return nil
	},
}

var graphCommand = &cli.Command{
	Name:      "graph",
	Usage:     "render a DA's level/CT structure as Graphviz DOT",
	ArgsUsage: "<da-id>",
	Action: func(c *cli.Context) error {
		id, err := daIDArg(c)
		if err != nil {
			return err
		}
		return withManager(c, func(mgr *daengine.Manager) error {
			da, err := mgr.Get(id)
			if err != nil {
				return err
			}
			fmt.Println(da.DebugGraph())
			return nil
		})
	},
}
