// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	resolve "github.com/owasp-amass/tunresolve"
	"github.com/owasp-amass/tunresolve/codec"
	"github.com/owasp-amass/tunresolve/config"
	"github.com/owasp-amass/tunresolve/conn"
	"github.com/owasp-amass/tunresolve/loop"
	"github.com/owasp-amass/tunresolve/pool"
	"github.com/owasp-amass/tunresolve/types"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultWorkers = 100

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "resolve",
		Usage:           "resolve DNS names through the tunnel resolver",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "upstream",
				Aliases: []string{"r"},
				Usage:   "send the queries to this host:port instead of the configured resolver",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "time to wait for outstanding queries",
			},
			&cli.IntFlag{
				Name:  "background",
				Usage: "maximum number of outstanding background queries",
			},
			&cli.BoolFlag{
				Name:  "bg",
				Usage: "submit lookups to the background queue",
			},
			&cli.StringSliceFlag{
				Name:    "types",
				Aliases: []string{"t"},
				Usage:   "record types to resolve (A, AAAA)",
				Value:   cli.NewStringSlice("A"),
			},
			&cli.BoolFlag{
				Name:  "ipv6",
				Usage: "allow AAAA queries",
			},
			&cli.IntFlag{
				Name:  "qps",
				Usage: "maximum number of lookups started per second",
			},
			&cli.UintFlag{
				Name:  "retries",
				Usage: "times a failed lookup is attempted again",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "read DNS names from the file (default stdin)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write the addresses to the file (default stdout)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print the resolver counters to stderr when done",
			},
		},
		Before: setup,
		Action: run,
	}
}

// setup loads the configuration and builds the logger unless one was provided.
func setup(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if c.IsSet("upstream") {
		cfg.Upstream = c.String("upstream")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("background") {
		cfg.BackgroundCapacity = c.Int("background")
	}
	if c.IsSet("ipv6") {
		cfg.IPv6 = c.Bool("ipv6")
	}
	if c.IsSet("qps") {
		cfg.QPS = c.Int("qps")
	}
	if c.IsSet("retries") {
		cfg.Retries = c.Uint("retries")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.App.Metadata["config"] = cfg

	if _, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
		return nil
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return err
	}
	c.App.Metadata["logger"] = logger
	return nil
}

func run(c *cli.Context) error {
	cfg := c.App.Metadata["config"].(*config.Config)
	logger := c.App.Metadata["logger"].(*zap.Logger)
	defer func() { _ = logger.Sync() }()

	rtypes, err := ParseRecordTypes(c.StringSlice("types"))
	if err != nil {
		return err
	}
	kind := types.Foreground
	if c.Bool("bg") {
		kind = types.Background
	}

	input, closeInput, err := openInput(c.String("input"), c.App.Reader)
	if err != nil {
		return err
	}
	defer closeInput()
	output, closeOutput, err := openOutput(c.String("output"), c.App.Writer)
	if err != nil {
		return err
	}
	defer closeOutput()

	l := loop.New(logger)
	defer l.Stop()
	host := conn.New(l, cfg.HostOptions(logger))
	defer host.Close()

	r, err := resolve.New(cfg.ResolverConfig(logger), host, codec.New(), l)
	if err != nil {
		return err
	}
	host.SetListener(r)

	p := pool.New(l, r, cfg.PoolOptions(logger))
	defer p.Stop()

	names := InputDomainNames(input)
	found := lookupAll(c.Context, p, kind, names, rtypes, output, logger)
	logger.Info("resolved", zap.Int("names", len(names)), zap.Int("addresses", found))

	if c.Bool("metrics") {
		r.WriteMetrics(c.App.ErrWriter)
	}
	return nil
}

// lookupAll resolves the names concurrently and writes one line per address.
func lookupAll(ctx context.Context, p *pool.Pool, kind types.QueueKind, names []string, rtypes types.RecordTypeSet, w io.Writer, logger *zap.Logger) int {
	var found int
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, defaultWorkers)
	for _, name := range names {
		sem <- struct{}{}
		wg.Add(1)

		go func(name string) {
			defer func() {
				<-sem
				wg.Done()
			}()

			results, err := p.LookupAddrs(ctx, kind, name, rtypes)
			if err != nil {
				logger.Debug("lookup failed", zap.String("name", name), zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			for _, res := range results {
				if res.Success() {
					found++
					fmt.Fprintln(w, FormatResult(name, res))
				}
			}
		}(name)
	}

	wg.Wait()
	return found
}
