// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one node of the CLI tree. Leaves set run; branches set
// subcommands and dispatch on the first positional argument.
type command struct {
	name    string
	summary string
	// usage is the argument synopsis shown after the command path,
	// e.g. "<instance> <contact>".
	usage string
	// args is the exact number of positional arguments run expects.
	// Negative accepts any count.
	args        int
	flags       func(*pflag.FlagSet)
	run         func(ctx context.Context, flagSet *pflag.FlagSet, args []string) error
	subcommands []*command
	parent      *command
}

var errUsage = errors.New("usage")

func (c *command) path() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.path() + " " + c.name
}

func (c *command) execute(ctx context.Context, args []string, help io.Writer) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(help)
		return nil
	}

	if len(c.subcommands) > 0 {
		if len(args) == 0 {
			c.printHelp(help)
			return fmt.Errorf("%s: subcommand required", c.path())
		}
		for _, sub := range c.subcommands {
			if sub.name == args[0] {
				sub.parent = c
				return sub.execute(ctx, args[1:], help)
			}
		}
		return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", args[0], c.path())
	}

	flagSet := pflag.NewFlagSet(c.path(), pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	if c.flags != nil {
		c.flags(flagSet)
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			c.printHelp(help)
			return nil
		}
		return fmt.Errorf("%w\n\nRun '%s --help' for usage.", err, c.path())
	}
	positional := flagSet.Args()
	if c.args >= 0 && len(positional) != c.args {
		return fmt.Errorf("%w: %s %s", errUsage, c.path(), c.usage)
	}
	return c.run(ctx, flagSet, positional)
}

func (c *command) printHelp(w io.Writer) {
	if c.summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.summary)
	}
	if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n\nCommands:\n", c.path())
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.name, sub.summary)
		}
		tw.Flush()
		return
	}
	fmt.Fprintf(w, "Usage:\n  %s %s\n", c.path(), strings.TrimSpace(c.usage+" [flags]"))
	if c.flags != nil {
		flagSet := pflag.NewFlagSet(c.path(), pflag.ContinueOnError)
		c.flags(flagSet)
		if usages := flagSet.FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
