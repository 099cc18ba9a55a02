// Package version implements the version command.
package version

import (
	"github.com/docforge/reliquary/internal/cmd/base"
	"github.com/docforge/reliquary/internal/version"
)

type Command struct {
	*base.Command
}

func New(b *base.Command) *Command {
	return &Command{Command: b}
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: reliquary version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}
