// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// root builds the command tree. a may be nil when only help text is
// needed.
func root(a *app) *command {
	return &command{
		name:    "switchboard",
		summary: "Administer a running switchboardd over its admin socket.",
		subcommands: []*command{
			{name: "status", summary: "Show daemon version, uptime, and instance counts", run: a.status},
			{name: "list", summary: "List instances", run: a.list},
			{
				name: "create", summary: "Create an instance and start pairing", usage: "<name>", args: 1,
				flags: func(flagSet *pflag.FlagSet) {
					flagSet.String("owner", "", "owner label recorded with the instance")
				},
				run: a.create,
			},
			{name: "delete", summary: "Log out and remove an instance", usage: "<instance>", args: 1, run: a.instanceAction("delete", "deleted")},
			{name: "restart", summary: "Stop and relaunch an instance", usage: "<instance>", args: 1, run: a.restart},
			{name: "wipe", summary: "Drop stored sessions so instances pair again", usage: "<instance>...", args: -1, run: a.wipe},
			{name: "reconnect", summary: "Force an instance to redial", usage: "<instance>", args: 1, run: a.instanceAction("reconnect", "reconnecting")},
			{name: "presence", summary: "Set an instance's presence", usage: "<instance> available|unavailable", args: 2, run: a.presence},
			{
				name: "pair", summary: "Complete pairing with account credentials", usage: "<instance> <account>", args: 2,
				flags: func(flagSet *pflag.FlagSet) {
					flagSet.Bool("secret-stdin", false, "read the secret from standard input even on a terminal")
				},
				run: a.pair,
			},
			{name: "send", summary: "Queue a text message", usage: "<instance> <to> <text>", args: 3, run: a.send},
			{name: "avatar", summary: "Print a contact's profile picture URL", usage: "<instance> <contact>", args: 2, run: a.avatar},
			{
				name: "schedule", summary: "Manage stealth schedules",
				subcommands: []*command{
					{
						name: "add", summary: "Append a schedule", usage: "<instance> <name>", args: 2,
						flags: func(flagSet *pflag.FlagSet) {
							flagSet.String("start", "", "window start, HH:MM")
							flagSet.String("end", "", "window end, HH:MM (exclusive)")
							flagSet.String("days", "", "weekday terms, e.g. mon-fri,sun; empty means every day")
							flagSet.String("mode", "GLOBAL_NOBODY", "GLOBAL_NOBODY or SPECIFIC_CONTACTS")
							flagSet.StringArray("target", nil, "contact hidden from in SPECIFIC_CONTACTS mode (repeatable)")
							flagSet.Bool("disabled", false, "store the schedule without enforcing it")
						},
						run: a.scheduleAdd,
					},
					{name: "remove", summary: "Remove a schedule", usage: "<instance> <schedule>", args: 2, run: a.scheduleRemove},
					{name: "list", summary: "List schedules in evaluation order", usage: "<instance>", args: 1, run: a.scheduleList},
				},
			},
			{name: "track", summary: "Start recording a contact's online activity", usage: "<instance> <contact>", args: 2, run: a.contactAction("track", "tracking")},
			{name: "untrack", summary: "Stop recording a contact's online activity", usage: "<instance> <contact>", args: 2, run: a.contactAction("untrack", "no longer tracking")},
			{name: "tracked", summary: "Show tracked contacts and today's online time", usage: "<instance>", args: 1, run: a.tracked},
			{name: "setting", summary: "Change a per-instance setting", usage: "<instance> <key> <value>", args: 3, run: a.setting},
		},
	}
}

func parseInstance(text string) (int64, error) {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", text)
	}
	return id, nil
}

func (a *app) status(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	var status statusView
	if err := a.call(ctx, "status", nil, &status); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(status)
	}
	a.renderStatus(status)
	return nil
}

func (a *app) list(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	var instances []instanceView
	if err := a.call(ctx, "list", nil, &instances); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(instances)
	}
	a.renderInstances(instances)
	return nil
}

func (a *app) create(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	owner, _ := flagSet.GetString("owner")
	var created instanceView
	if err := a.call(ctx, "create", map[string]any{"name": args[0], "owner": owner}, &created); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(created)
	}
	a.renderInstances([]instanceView{created})
	return nil
}

// instanceAction builds a command whose only argument is an instance
// id and whose result is a confirmation line.
func (a *app) instanceAction(action, verb string) func(context.Context, *pflag.FlagSet, []string) error {
	return func(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
		id, err := parseInstance(args[0])
		if err != nil {
			return err
		}
		if err := a.call(ctx, action, map[string]any{"instance": id}, nil); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "instance %d %s\n", id, verb)
		return nil
	}
}

func (a *app) restart(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	var restarted instanceView
	if err := a.call(ctx, "restart", map[string]any{"instance": id}, &restarted); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(restarted)
	}
	a.renderInstances([]instanceView{restarted})
	return nil
}

func (a *app) wipe(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: switchboard wipe <instance>...", errUsage)
	}
	ids := make([]int64, len(args))
	for index, arg := range args {
		id, err := parseInstance(arg)
		if err != nil {
			return err
		}
		ids[index] = id
	}
	if err := a.call(ctx, "wipe", map[string]any{"instances": ids}, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wiped %d instance(s)\n", len(ids))
	return nil
}

func (a *app) presence(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	if err := a.call(ctx, "presence", map[string]any{"instance": id, "presence": args[1]}, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "instance %d presence set to %s\n", id, args[1])
	return nil
}

func (a *app) pair(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	forceStdin, _ := flagSet.GetBool("secret-stdin")
	secret, err := a.readSecret(forceStdin)
	if err != nil {
		return err
	}
	if err := a.call(ctx, "pair", map[string]any{"instance": id, "account": args[1], "secret": secret}, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "instance %d paired as %s\n", id, args[1])
	return nil
}

// readSecret prompts without echo when stdin is a terminal and
// otherwise reads a single line.
func (a *app) readSecret(forceStdin bool) (string, error) {
	if file, ok := a.stdin.(*os.File); ok && !forceStdin && term.IsTerminal(int(file.Fd())) {
		fmt.Fprint(a.stderr, "Secret: ")
		secret, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(secret), nil
	}
	reader := bufio.NewReader(a.stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret")
	}
	return secret, nil
}

func (a *app) send(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	var sent sendView
	if err := a.call(ctx, "send", map[string]any{"instance": id, "to": args[1], "text": args[2]}, &sent); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(sent)
	}
	fmt.Fprintf(a.stdout, "sent %s\n", sent.MessageID)
	return nil
}

func (a *app) avatar(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	var picture avatarView
	if err := a.call(ctx, "avatar", map[string]any{"instance": id, "contact": args[1]}, &picture); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(picture)
	}
	fmt.Fprintln(a.stdout, picture.URL)
	return nil
}

func (a *app) scheduleAdd(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	start, _ := flagSet.GetString("start")
	end, _ := flagSet.GetString("end")
	if start == "" || end == "" {
		return fmt.Errorf("%w: --start and --end are required", errUsage)
	}
	days, _ := flagSet.GetString("days")
	mode, _ := flagSet.GetString("mode")
	targets, _ := flagSet.GetStringArray("target")
	disabled, _ := flagSet.GetBool("disabled")

	var added scheduleView
	err = a.call(ctx, "schedule-add", map[string]any{
		"instance": id,
		"name":     args[1],
		"start":    start,
		"end":      end,
		"days":     days,
		"mode":     mode,
		"enabled":  !disabled,
		"targets":  targets,
	}, &added)
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(added)
	}
	a.renderSchedules([]scheduleView{added})
	return nil
}

func (a *app) scheduleRemove(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	scheduleID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid schedule id %q", args[1])
	}
	if err := a.call(ctx, "schedule-remove", map[string]any{"instance": id, "schedule": scheduleID}, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "schedule %d removed\n", scheduleID)
	return nil
}

func (a *app) scheduleList(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	var schedules []scheduleView
	if err := a.call(ctx, "schedule-list", map[string]any{"instance": id}, &schedules); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(schedules)
	}
	a.renderSchedules(schedules)
	return nil
}

// contactAction builds a command taking an instance and a contact
// address.
func (a *app) contactAction(action, verb string) func(context.Context, *pflag.FlagSet, []string) error {
	return func(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
		id, err := parseInstance(args[0])
		if err != nil {
			return err
		}
		if err := a.call(ctx, action, map[string]any{"instance": id, "contact": args[1]}, nil); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s %s\n", verb, args[1])
		return nil
	}
}

func (a *app) tracked(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	var contacts []trackedView
	if err := a.call(ctx, "tracked", map[string]any{"instance": id}, &contacts); err != nil {
		return err
	}
	if a.json {
		return a.printJSON(contacts)
	}
	a.renderTracked(contacts)
	return nil
}

func (a *app) setting(ctx context.Context, flagSet *pflag.FlagSet, args []string) error {
	id, err := parseInstance(args[0])
	if err != nil {
		return err
	}
	if err := a.call(ctx, "setting", map[string]any{"instance": id, "key": args[1], "value": args[2]}, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s = %s\n", args[1], args[2])
	return nil
}
