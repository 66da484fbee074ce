// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command worker hosts a fixed inventory of sample services behind the
// workerhttp HTTP surface, the explicit-registration replacement for
// the original's directory-scanned handler discovery.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/diffeo/go-svcfleet/config"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/results"
	"github.com/diffeo/go-svcfleet/scratch"
	"github.com/diffeo/go-svcfleet/svccache"
	"github.com/diffeo/go-svcfleet/workerhttp"
)

func main() {
	app := cli.NewApp()
	app.Name = "worker"
	app.Usage = "host services behind the worker HTTP surface"

	configBackend := config.Backend{Implementation: "none"}
	registryBackend := registry.Backend{Implementation: "noop"}
	cacheBackend := svccache.Backend{Implementation: "noop"}
	resultsBackend := results.Backend{Implementation: "local-files", Address: os.TempDir()}

	app.Flags = []cli.Flag{
		cli.GenericFlag{Name: "config", Value: &configBackend, Usage: "impl[:address] of the configuration source"},
		cli.GenericFlag{Name: "registry", Value: &registryBackend, Usage: "impl[:address] of the service registry"},
		cli.GenericFlag{Name: "cache", Value: &cacheBackend, Usage: "impl[:address] of the result cache"},
		cli.GenericFlag{Name: "results", Value: &resultsBackend, Usage: "impl:address of the artifact result store"},
		cli.StringFlag{Name: "host", Value: "localhost", Usage: "hostname this worker advertises to the registry"},
		cli.IntFlag{Name: "port", Value: 8080, Usage: "port to listen on"},
		cli.StringFlag{Name: "scratch-dir", Value: os.TempDir(), Usage: "comma-separated scratch download directories"},
		cli.DurationFlag{Name: "call-timeout", Value: 30 * time.Second, Usage: "default timeout for nested service calls"},
	}

	app.Action = func(c *cli.Context) error {
		log := logrus.NewEntry(logrus.StandardLogger())

		src, err := configBackend.Source()
		if err != nil {
			return fmt.Errorf("worker: config source: %w", err)
		}
		cfg := config.New(src)

		host, err := cfg.GetString("worker.host", c.String("host"))
		if err != nil {
			return fmt.Errorf("worker: resolving host: %w", err)
		}
		port := c.Int("port")
		var section struct {
			Port int `mapstructure:"port"`
		}
		if err := cfg.Decode("worker", &section); err == nil && section.Port != 0 {
			port = section.Port
		}

		reg, err := registryBackend.Registry()
		if err != nil {
			return fmt.Errorf("worker: registry backend: %w", err)
		}
		cache, err := cacheBackend.Cache()
		if err != nil {
			return fmt.Errorf("worker: cache backend: %w", err)
		}
		store, err := resultsBackend.Store()
		if err != nil {
			return fmt.Errorf("worker: results backend: %w", err)
		}
		sc := scratch.New(splitCommaList(c.String("scratch-dir")), nil, nil)

		inv := workerhttp.NewInventory(
			echoService{},
			wrapCached(pingService{}, cache, log),
		)

		srv := workerhttp.NewServer(inv, workerhttp.Options{
			Host:        host,
			Port:        port,
			Registry:    reg,
			Store:       store,
			Scratch:     sc,
			Client:      http.DefaultClient,
			CallTimeout: c.Duration("call-timeout"),
			Log:         log,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(context.Background()) }()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("worker: serving: %w", err)
			}
			return nil
		case <-ctx.Done():
			log.Info("worker: shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		}
	}

	app.RunAndExitOnError()
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if s[start:i] != "" {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if s[start:] != "" {
		out = append(out, s[start:])
	}
	return out
}
