// Command lodestone-replicate keeps a local database in sync with one
// served by a master, polling on an interval. Connection parameters come
// from the config file, the LS_REPLICATION_* environment variables, or the
// flags below, with flags winning.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/lodestone-search/lodestone/internal/replication"
	"github.com/lodestone-search/lodestone/pkg/config"
	"github.com/lodestone-search/lodestone/pkg/logger"
	"github.com/lodestone-search/lodestone/pkg/metrics"
)

func main() {
	// -h is the master host here, as is traditional for this tool.
	cli.HelpFlag = cli.BoolFlag{Name: "help"}
	app := cli.NewApp()
	app.Name = "lodestone-replicate"
	app.Usage = "replicate a database from a master server"
	app.ArgsUsage = "LOCAL_DATABASE"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "host, h",
			Usage: "master host to connect to",
		},
		cli.IntFlag{
			Name:  "port, p",
			Usage: "master port to connect to",
		},
		cli.StringFlag{
			Name:  "master, m",
			Usage: "name of the database on the master",
		},
		cli.IntFlag{
			Name:  "interval, i",
			Usage: "polling interval in seconds",
		},
		cli.BoolFlag{
			Name:  "one-shot, o",
			Usage: "replicate once then exit",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "verbose logging",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lodestone-replicate: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	rc := cfg.Replication
	if c.IsSet("host") {
		rc.Host = c.String("host")
	}
	if c.IsSet("port") {
		rc.Port = c.Int("port")
	}
	if c.IsSet("master") {
		rc.MasterDB = c.String("master")
	}
	if c.IsSet("interval") {
		rc.Interval = time.Duration(c.Int("interval")) * time.Second
	}
	if c.Bool("one-shot") {
		rc.OneShot = true
	}
	level := cfg.Logging.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	logger.Setup(level, cfg.Logging.Format)
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one local database path")
	}
	if rc.Host == "" || rc.Port == 0 || rc.MasterDB == "" {
		return fmt.Errorf("master host, port and database name are required")
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go http.ListenAndServe(fmt.Sprintf(":%d", cfg.Metrics.Port), mux)
	}
	client := &replication.Client{
		Addr:     fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		MasterDB: rc.MasterDB,
		LocalDir: c.Args().First(),
		Interval: rc.Interval,
		OneShot:  rc.OneShot,
		Metrics:  m,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.Run(ctx)
}
