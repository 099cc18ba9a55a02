// Package watch implements the continuous-watch command.
package watch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/docforge/reliquary/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagConfig string
	flagRoot   string
}

func New(b *base.Command) *Command {
	return &Command{Command: b}
}

func (c *Command) Synopsis() string {
	return "Catch up, then watch the inbox for new documents"
}

func (c *Command) Help() string {
	return `Usage: reliquary watch

Runs a catch-up scan and then keeps processing documents as they arrive in
the inbox, until interrupted. Filesystem notifications drive the loop when
available, with a polling fallback otherwise.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("watch", flag.ContinueOnError))
	f.StringVar(&c.flagConfig, "config", "",
		"[RELIQUARY_CONFIG] Path to the HCL configuration file")
	f.StringVar(&c.flagRoot, "root", "",
		"[RELIQUARY_ROOT] Working directory (overrides the configuration file)")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return 1
	}

	cfg, err := base.LoadConfig(c.flagConfig, c.flagRoot)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := base.Bootstrap(ctx, cfg, c.Log)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	c.UI.Info(fmt.Sprintf("Watching %s for new documents (Ctrl+C to stop)", p.Layout.InboxDir))
	if err := p.Scanner.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.UI.Error(err.Error())
		return 1
	}
	c.UI.Info("Stopped")
	return 0
}
