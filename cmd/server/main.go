package main

import (
	"fmt"
	"os"

	"github.com/DoyleJ11/pugbot/internal/catalog"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Debug   bool   `help:"Enable debug logging."`
	EnvFile string `help:"Load environment variables from this file." name:"env-file"`

	Serve struct {
		Catalog string `help:"Catalog of modes, maps and servers (defaults to the built-in one)."`
		Listen  string `help:"Address to listen on, overrides LISTEN_ADDR."`
	} `cmd:"" default:"withargs" help:"Run the pug server."`

	Catalog struct{} `cmd:"" help:"Write the default catalog to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pugbot"),
		kong.Description("pick-up game queues, ready checks and map votes"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	switch ctx.Command() {
	case "serve":
		if err := serveCommand(); err != nil {
			writeError(err)
		}
	case "catalog":
		os.Stdout.Write(catalog.DEFAULT)
	}
}
