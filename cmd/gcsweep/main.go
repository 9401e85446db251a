// Command gcsweep scans an S3-backed v1 Docker registry, builds the layer
// reference graph, and either sweeps unreferenced layers past their
// retention age or prints a layer's descendant history.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/distribution-tools/gcsweep/internal/config"
	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/graph"
	"github.com/distribution-tools/gcsweep/internal/history"
	"github.com/distribution-tools/gcsweep/internal/logging"
	"github.com/distribution-tools/gcsweep/internal/objectstore"
	"github.com/distribution-tools/gcsweep/internal/registrydriver"
	"github.com/distribution-tools/gcsweep/internal/scanner"
	"github.com/distribution-tools/gcsweep/internal/sweep"
)

// version is set at build time via -ldflags; it reads "dev" in a binary
// built straight off source.
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "gcsweep"
	app.Version = version
	app.Usage = "garbage-collect unreferenced layers in an S3-backed v1 Docker registry"

	configFlag := cli.StringFlag{Name: "config", Usage: "path to the YAML configuration file", Value: "gcsweep.yaml"}
	graphFlag := cli.StringFlag{Name: "graph", Usage: "load the layer graph from this file instead of scanning the registry"}
	saveFlag := cli.StringFlag{Name: "save", Usage: "save the scanned layer graph to this file"}
	verboseFlag := cli.BoolFlag{Name: "verbose", Usage: "enable debug-level logging"}
	debugSnapshotFlag := cli.StringFlag{Name: "debug-snapshot", Usage: "write the graph as it stands after the ancestry pass to this file before the reftag pass runs"}

	app.Flags = []cli.Flag{configFlag, graphFlag, saveFlag, verboseFlag, debugSnapshotFlag}

	app.Commands = []cli.Command{
		{
			Name:  "sweep",
			Usage: "scan (or load) the graph and emit the delete candidate set",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "age", Usage: "minimum time a layer must stay unreferenced before it is eligible for deletion"},
			},
			Action: runSweep,
		},
		{
			Name:      "history",
			Usage:     "scan (or load) the graph and print a layer's descendant history as JSON",
			ArgsUsage: "<image-id>",
			Action:    runHistory,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gcsweep:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a returned error to the exit codes.
func exitCode(err error) int {
	switch gcerrors.KindOf(err) {
	case gcerrors.KindConfig:
		return 2
	case gcerrors.KindTransport, gcerrors.KindStore, gcerrors.KindAuth, gcerrors.KindParse, gcerrors.KindScan, gcerrors.KindGraph:
		return 3
	case gcerrors.KindState:
		return 4
	default:
		return 1
	}
}

func buildGraph(c *cli.Context, cfg *config.Config, logger *slog.Logger) (*graph.Graph, error) {
	if path := c.GlobalString("graph"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindState, "main.buildGraph", "reading graph file", err)
		}
		g, err := graph.FromJSON(data)
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindState, "main.buildGraph", "parsing graph file", err)
		}
		return g, nil
	}

	store, err := objectstore.New(objectstore.Config{
		Bucket:    cfg.Registry.Bucket,
		Region:    cfg.Registry.Region,
		AccessKey: cfg.Registry.AccessKey,
		SecretKey: cfg.Registry.SecretKey,
		Secure:    cfg.Registry.IsSecure(),
		Timeout:   cfg.Sweep.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}
	drv := registrydriver.New(store, cfg.Registry.Path, logger)

	result, err := scanner.Run(context.Background(), drv, logger, scanner.Options{
		DispatchCapacity:  int64(cfg.Sweep.DispatchCapacity),
		DeadLetterLimit:   cfg.Sweep.DeadLetterLimit,
		DebugSnapshotPath: c.GlobalString("debug-snapshot"),
	})
	if err != nil {
		return nil, err
	}

	if savePath := c.GlobalString("save"); savePath != "" {
		data, err := result.Graph.ToJSON()
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindState, "main.buildGraph", "encoding graph", err)
		}
		if err := os.WriteFile(savePath, data, 0o644); err != nil {
			return nil, gcerrors.New(gcerrors.KindState, "main.buildGraph", "writing graph file", err)
		}
	}

	return result.Graph, nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.GlobalString("config"))
}

func runSweep(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New(c.GlobalBool("verbose"))

	g, err := buildGraph(c, cfg, logger)
	if err != nil {
		return err
	}

	ageStr := c.String("age")
	if ageStr == "" {
		ageStr = cfg.Sweep.Age
	}
	age, err := config.ParseDuration(ageStr)
	if err != nil {
		return gcerrors.New(gcerrors.KindConfig, "main.runSweep", "parsing --age", err)
	}

	result, err := sweep.Run(g, sweep.Options{
		Age:       age,
		StateFile: cfg.Sweep.StateFile,
	})
	if result == nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result.Candidates); encErr != nil && err == nil {
		return encErr
	}
	return err
}

func runHistory(c *cli.Context) error {
	if c.NArg() != 1 {
		return gcerrors.New(gcerrors.KindConfig, "main.runHistory", "history requires exactly one <image-id> argument", nil)
	}
	imageID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New(c.GlobalBool("verbose"))

	g, err := buildGraph(c, cfg, logger)
	if err != nil {
		return err
	}

	store, err := objectstore.New(objectstore.Config{
		Bucket:    cfg.Registry.Bucket,
		Region:    cfg.Registry.Region,
		AccessKey: cfg.Registry.AccessKey,
		SecretKey: cfg.Registry.SecretKey,
		Secure:    cfg.Registry.IsSecure(),
		Timeout:   cfg.Sweep.HTTPTimeout,
	})
	if err != nil {
		return err
	}
	drv := registrydriver.New(store, cfg.Registry.Path, logger)

	records, err := history.Run(g, drv, imageID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
