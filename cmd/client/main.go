// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command client issues a single service call through broker.Broker
// and prints the JSON result to stdout, or a formatted error to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/diffeo/go-svcfleet/broker"
	"github.com/diffeo/go-svcfleet/encoding"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/svc"
)

func main() {
	app := cli.NewApp()
	app.Name = "client"
	app.Usage = "call a single service through the broker"
	app.ArgsUsage = "<service>"

	registryBackend := registry.Backend{Implementation: "noop"}

	app.Flags = []cli.Flag{
		cli.GenericFlag{Name: "registry", Value: &registryBackend, Usage: "impl:address of the service registry"},
		cli.StringFlag{Name: "args", Value: "[]", Usage: "JSON array of positional arguments"},
		cli.StringSliceFlag{Name: "kwarg", Usage: "name=json-value kwarg, may repeat"},
		cli.DurationFlag{Name: "timeout", Value: broker.DefaultTimeout, Usage: "call timeout"},
	}

	app.Action = func(c *cli.Context) error {
		service := c.Args().First()
		if service == "" {
			return cli.NewExitError("client: a service name is required", 1)
		}

		var rawArgs interface{}
		if err := encoding.Unmarshal([]byte(c.String("args")), &rawArgs); err != nil {
			return cli.NewExitError(fmt.Sprintf("client: parsing -args: %v", err), 1)
		}
		args, ok := rawArgs.([]interface{})
		if !ok {
			return cli.NewExitError("client: -args must be a JSON array", 1)
		}

		kwargs, err := parseKwargs(c.StringSlice("kwarg"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		reg, err := registryBackend.Registry()
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("client: registry backend: %v", err), 1)
		}

		b := broker.New(reg, nil, c.Duration("timeout"))
		defer b.Close()

		result, err := b.Execute(context.Background(), service, args, kwargs)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("client: %v", err), 1)
		}

		value, callErr := result.Wait(c.Duration("timeout"))
		if callErr != nil {
			return printError(callErr)
		}

		body, err := encoding.Marshal(value)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("client: encoding result: %v", err), 1)
		}
		fmt.Println(string(body))
		return nil
	}

	app.RunAndExitOnError()
}

// printError renders a Serializable call error the way a human running
// the CLI expects to read it, then reports the process failure via
// cli.NewExitError so app.RunAndExitOnError exits 1.
func printError(err error) error {
	if serErr, ok := err.(svc.Serializable); ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", serErr.Kind(), serErr.Error())
		return cli.NewExitError("", 1)
	}
	return cli.NewExitError(fmt.Sprintf("client: %v", err), 1)
}

func parseKwargs(pairs []string) (map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	for _, pair := range pairs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("client: -kwarg %q must be name=json-value", pair)
		}
		var v interface{}
		if err := encoding.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("client: parsing -kwarg %s: %w", name, err)
		}
		kwargs[name] = v
	}
	return kwargs, nil
}
