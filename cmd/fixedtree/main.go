// fixedtree is a CLI for creating, inspecting, and driving a fixedtree
// B-tree index from the command line.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nainya/fixedtree/btree"
	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/internal/logger"
	"github.com/nainya/fixedtree/internal/metrics"
	"github.com/nainya/fixedtree/internal/pp"
	"github.com/nainya/fixedtree/internal/server"
	"github.com/nainya/fixedtree/params"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger.InitGlobalLogger(logger.Config{Level: "info", Pretty: true})
	log := logger.GetGlobalLogger()

	var err error
	switch args[0] {
	case "create":
		err = runCreate(args[1:])
	case "put":
		err = runPut(args[1:], log)
	case "get":
		err = runGet(args[1:], log)
	case "iter":
		err = runIter(args[1:])
	case "bulk":
		err = runBulk(args[1:], log)
	case "stats":
		err = runStats(args[1:], log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fixedtree:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `fixedtree: a fixed-size key/value B-tree index

Usage:
  fixedtree create -db DIR [-pagesize N] [-fanout N]
  fixedtree put -db DIR KEY VALUE
  fixedtree get -db DIR KEY
  fixedtree iter -db DIR
  fixedtree bulk -db DIR < sorted-key-value-lines
  fixedtree stats -db DIR [-metrics-addr :9090]

KEY is a uint64; VALUE is an up-to-32-byte string padded with zero bytes.`)
}

const valueWidth = 32

func defaultParams() params.Params {
	return params.Params{PageSize: 4096, KeySize: 8, ValueSize: valueWidth, Fanout: 64, Version: 1}
}

func openTree(dbDir string, opts btree.Options) (*btree.BTree[uint64, []byte], error) {
	p := defaultParams()
	return btree.Create[uint64, []byte](dbDir, p, codec.Uint64{}, codec.FixedBytes{Width: valueWidth}, opts)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	pageSize := fs.Int("pagesize", 4096, "page size in bytes")
	fanout := fs.Int("fanout", 64, "maximum entries per page")
	fs.Parse(args)
	if *dbDir == "" {
		return fmt.Errorf("create: -db is required")
	}

	p := params.Params{PageSize: *pageSize, KeySize: 8, ValueSize: valueWidth, Fanout: *fanout, Version: 1}
	bt, err := btree.Create[uint64, []byte](*dbDir, p, codec.Uint64{}, codec.FixedBytes{Width: valueWidth}, btree.Options{})
	if err != nil {
		return err
	}
	defer bt.Close()
	fmt.Printf("created database at %s\n", *dbDir)
	return nil
}

func runPut(args []string, log *logger.Logger) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	fs.Parse(args)
	rest := fs.Args()
	if *dbDir == "" || len(rest) != 2 {
		return fmt.Errorf("put: usage: fixedtree put -db DIR KEY VALUE")
	}
	key, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("put: invalid key %q: %w", rest[0], err)
	}

	bt, err := openTree(*dbDir, btree.Options{Logger: log.BtreeLogger(*dbDir)})
	if err != nil {
		return err
	}
	defer bt.Close()

	start := time.Now()
	err = bt.Add(key, []byte(rest[1]))
	log.LogBtreeOperation("put", time.Since(start), err)
	if err != nil {
		return err
	}
	return bt.Flush()
}

func runGet(args []string, log *logger.Logger) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	fs.Parse(args)
	rest := fs.Args()
	if *dbDir == "" || len(rest) != 1 {
		return fmt.Errorf("get: usage: fixedtree get -db DIR KEY")
	}
	key, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("get: invalid key %q: %w", rest[0], err)
	}

	bt, err := openTree(*dbDir, btree.Options{Logger: log.BtreeLogger(*dbDir)})
	if err != nil {
		return err
	}
	defer bt.Close()

	start := time.Now()
	val, err := bt.Find(key)
	log.LogBtreeOperation("get", time.Since(start), err)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", val)
	return nil
}

func runIter(args []string) error {
	fs := flag.NewFlagSet("iter", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	fs.Parse(args)
	if *dbDir == "" {
		return fmt.Errorf("iter: -db is required")
	}

	bt, err := openTree(*dbDir, btree.Options{})
	if err != nil {
		return err
	}
	defer bt.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	return bt.Iter(func(k uint64, v []byte) bool {
		fmt.Fprintf(w, "%d\t%s\n", k, v)
		return true
	})
}

func runBulk(args []string, log *logger.Logger) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	fs.Parse(args)
	if *dbDir == "" {
		return fmt.Errorf("bulk: -db is required")
	}

	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bulk: reading stdin: %w", err)
	}

	i := 0
	src := btree.Source[uint64, []byte](func() (uint64, []byte, bool) {
		if i >= len(lines) {
			return 0, nil, false
		}
		line := lines[i]
		i++
		var k uint64
		var v string
		if _, err := fmt.Sscanf(line, "%d\t%s", &k, &v); err != nil {
			return 0, nil, false
		}
		return k, []byte(v), true
	})

	p := defaultParams()
	start := time.Now()
	bt, err := btree.Init[uint64, []byte](*dbDir, p, codec.Uint64{}, codec.FixedBytes{Width: valueWidth}, btree.Options{Logger: log.BtreeLogger(*dbDir)}, len(lines), src)
	log.LogBtreeOperation("bulk", time.Since(start), err)
	if err != nil {
		return err
	}
	defer bt.Close()
	fmt.Printf("loaded %d entries into %s\n", len(lines), *dbDir)
	return nil
}

func runStats(args []string, log *logger.Logger) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbDir := fs.String("db", "", "database directory (required)")
	metricsAddr := fs.String("metrics-addr", "", "after printing the key count, serve Prometheus metrics on this address until interrupted")
	snapshotDir := fs.String("snapshot", "", "write a pretty-printed page dump to this directory")
	fs.Parse(args)
	if *dbDir == "" {
		return fmt.Errorf("stats: -db is required")
	}

	m := metrics.NewMetrics()
	bt, err := btree.Create[uint64, []byte](*dbDir, defaultParams(), codec.Uint64{}, codec.FixedBytes{Width: valueWidth},
		btree.Options{Logger: log.BtreeLogger(*dbDir), Stats: m})
	if err != nil {
		return err
	}
	defer bt.Close()

	n, err := bt.Len()
	if err != nil {
		return err
	}
	fmt.Printf("keys: %d\n", n)

	if *snapshotDir != "" {
		if err := pp.Snapshot(*snapshotDir, bt.Store(), codec.Uint64{}, codec.FixedBytes{Width: valueWidth}); err != nil {
			return fmt.Errorf("stats: snapshot: %w", err)
		}
		fmt.Printf("wrote page dump to %s\n", *snapshotDir)
	}

	if *metricsAddr == "" {
		return nil
	}

	log.LogServerStart(*dbDir)
	obs := server.NewObservabilityServer(*metricsAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.LogServerShutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		defer shutdownCancel()
		obs.Shutdown(shutdownCtx)
	}()

	log.LogServerReady(*metricsAddr)
	return obs.Start()
}
