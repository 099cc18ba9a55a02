// Package base carries the pieces shared by every CLI command: the UI, the
// logger, and a flag-set wrapper that renders help text.
package base

import (
	"bytes"
	"flag"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded by all commands.
type Command struct {
	UI  cli.Ui
	Log hclog.Logger
}

// NewCommand returns a base command with the given UI and logger.
func NewCommand(ui cli.Ui, log hclog.Logger) *Command {
	return &Command{UI: ui, Log: log}
}

// FlagSet wraps flag.FlagSet with help rendering.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet wraps f.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help returns the rendered flag usage, prefixed with a blank line so it
// can be appended directly to a command's help text.
func (f *FlagSet) Help() string {
	var buf bytes.Buffer
	f.SetOutput(&buf)
	f.PrintDefaults()
	if buf.Len() == 0 {
		return ""
	}
	return "\n\nOptions:\n" + buf.String()
}
