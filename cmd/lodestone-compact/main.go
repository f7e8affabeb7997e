// Command lodestone-compact compacts a database, or merges and compacts
// several into one.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/lodestone-search/lodestone/internal/compactor"
	"github.com/lodestone-search/lodestone/pkg/config"
	"github.com/lodestone-search/lodestone/pkg/logger"
)

func main() {
	app := cli.NewApp()
	app.Name = "lodestone-compact"
	app.Usage = "compact a database, or merge and compact several"
	app.ArgsUsage = "SOURCE_DATABASE... DESTINATION_DATABASE"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "blocksize, b",
			Usage: "block size in bytes (e.g. 4096) or K (e.g. 4K); 2K to 64K, a power of 2 (overrides the config file)",
		},
		cli.BoolFlag{
			Name:  "no-full, n",
			Usage: "accepted for compatibility; has no effect",
		},
		cli.BoolFlag{
			Name:  "fuller, F",
			Usage: "accepted for compatibility; the output is written the same way without it",
		},
		cli.BoolFlag{
			Name:  "multipass, m",
			Usage: "merge postlists in multiple passes when merging more than 3 databases",
		},
		cli.BoolFlag{
			Name:  "no-renumber",
			Usage: "preserve document id numbering (sources must have disjoint docid ranges)",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lodestone-compact: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	args := c.Args()
	if len(args) < 2 {
		return fmt.Errorf("expected at least one source database and a destination")
	}
	blockSize := cfg.Storage.BlockSize
	if c.IsSet("blocksize") {
		blockSize, err = parseBlockSize(c.String("blocksize"))
		if err != nil {
			return err
		}
	}
	srcs := args[:len(args)-1]
	dest := args[len(args)-1]
	for _, src := range srcs {
		if src == dest {
			return fmt.Errorf("destination %s is also a source", dest)
		}
	}
	opts := &compactor.Options{
		BlockSize:    blockSize,
		MaxChunkSize: cfg.Storage.MaxChunkSize,
		Compress:     cfg.Storage.CompressTables,
		NoRenumber:   c.Bool("no-renumber"),
		Multipass:    c.Bool("multipass"),
		Fuller:       c.Bool("fuller"),
	}
	return compactor.Compact(srcs, dest, opts)
}

// parseBlockSize accepts plain bytes or a K-suffixed count of KiB.
func parseBlockSize(s string) (uint32, error) {
	mult := uint64(1)
	if strings.HasSuffix(s, "K") || strings.HasSuffix(s, "k") {
		mult = 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad block size %q", s)
	}
	n *= mult
	if n < 2048 || n > 65536 || n&(n-1) != 0 {
		return 0, fmt.Errorf("block size must be between 2K and 64K and a power of 2")
	}
	return uint32(n), nil
}
