package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/docforge/reliquary/internal/cmd/base"
	"github.com/docforge/reliquary/internal/cmd/commands/scan"
	"github.com/docforge/reliquary/internal/cmd/commands/version"
	"github.com/docforge/reliquary/internal/cmd/commands/watch"
)

// Commands is the CLI command registry.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(ui, log)

	Commands = map[string]cli.CommandFactory{
		"scan": func() (cli.Command, error) {
			return scan.New(b), nil
		},
		"watch": func() (cli.Command, error) {
			return watch.New(b), nil
		},
		"version": func() (cli.Command, error) {
			return version.New(b), nil
		},
	}
}
