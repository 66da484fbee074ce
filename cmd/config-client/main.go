// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command config-client polls a config-server and prints the resolved
// value of each requested key on every poll tick, exercising
// config.Source's HTTP polling path standalone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/diffeo/go-svcfleet/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "config-client"
	app.Usage = "poll a config-server and print resolved keys"
	app.ArgsUsage = "<key> [key...]"

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "url", Value: "http://localhost:8090/", Usage: "config-server URL to poll"},
		cli.DurationFlag{Name: "interval", Value: 5 * time.Second, Usage: "poll interval"},
		cli.IntFlag{Name: "ticks", Value: 0, Usage: "stop after this many ticks (0 = run until interrupted)"},
	}

	app.Action = func(c *cli.Context) error {
		keys := []string(c.Args())
		if len(keys) == 0 {
			return cli.NewExitError("config-client: at least one key is required", 1)
		}

		src, err := config.NewHTTPSource(c.String("url"), c.Duration("interval"), nil)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("config-client: %v", err), 1)
		}
		defer src.Close()

		cfg := config.New(src)
		printAll(cfg, keys)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ticker := time.NewTicker(c.Duration("interval"))
		defer ticker.Stop()

		ticks := 0
		maxTicks := c.Int("ticks")
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				printAll(cfg, keys)
				ticks++
				if maxTicks > 0 && ticks >= maxTicks {
					return nil
				}
			}
		}
	}

	app.RunAndExitOnError()
}

func printAll(cfg *config.Config, keys []string) {
	for _, key := range keys {
		v, err := cfg.Get(key)
		if err != nil {
			fmt.Printf("%s: %v\n", key, err)
			continue
		}
		fmt.Printf("%s=%v\n", key, v)
	}
}
