// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command config-server serves a YAML key/value map as flat JSON over
// HTTP, the way cmd/coordinated/main.go's loadConfigYaml reads a
// config file and net.Listen/http.Serve hosts a daemon, generalized
// here to feed config.HTTPSource's polling client (cmd/config-client)
// instead of a CBOR-RPC job server.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "config-server"
	app.Usage = "serve a YAML configuration file as polled JSON"

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "file", Usage: "YAML file to serve"},
		cli.StringFlag{Name: "listen", Value: ":8090", Usage: "[ip]:port to listen on"},
	}

	app.Action = func(c *cli.Context) error {
		path := c.String("file")
		if path == "" {
			return cli.NewExitError("config-server: -file is required", 1)
		}

		data, err := loadYAML(path)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("config-server: %v", err), 1)
		}

		http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(data); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})

		if err := http.ListenAndServe(c.String("listen"), nil); err != nil {
			return cli.NewExitError(fmt.Sprintf("config-server: %v", err), 1)
		}
		return nil
	}

	app.RunAndExitOnError()
}

func loadYAML(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return normalize(parsed), nil
}

// normalize converts gopkg.in/yaml.v2's map[interface{}]interface{}
// nodes into map[string]interface{}, the same transform
// config.FileSource applies on the client side, so encoding/json can
// marshal the result.
func normalize(v interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	switch m := v.(type) {
	case map[string]interface{}:
		for k, val := range m {
			out[k] = normalizeValue(val)
		}
	case map[interface{}]interface{}:
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}, map[string]interface{}:
		return normalize(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
