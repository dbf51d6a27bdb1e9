// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func (a *app) printJSON(value any) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// palette holds the styles for one output stream. The renderer inspects
// the writer, so redirected output carries no escape sequences.
type palette struct {
	header lipgloss.Style
	good   lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	faint  lipgloss.Style
}

func (a *app) palette() palette {
	renderer := lipgloss.NewRenderer(a.stdout)
	return palette{
		header: renderer.NewStyle().Bold(true),
		good:   renderer.NewStyle().Foreground(lipgloss.Color("2")),
		warn:   renderer.NewStyle().Foreground(lipgloss.Color("3")),
		bad:    renderer.NewStyle().Foreground(lipgloss.Color("1")),
		faint:  renderer.NewStyle().Faint(true),
	}
}

// cell pads text to width before styling so escape sequences do not
// disturb column alignment.
func cell(style lipgloss.Style, width int, text string) string {
	return style.Render(fmt.Sprintf("%-*s", width, text))
}

func (a *app) renderStatus(status statusView) {
	colors := a.palette()
	uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(a.stdout, "%s %s\n", colors.header.Render("version:  "), status.Version)
	fmt.Fprintf(a.stdout, "%s %s\n", colors.header.Render("transport:"), status.Transport)
	fmt.Fprintf(a.stdout, "%s %s\n", colors.header.Render("uptime:   "), uptime)
	connected := fmt.Sprintf("%d/%d connected", status.Connected, status.Instances)
	style := colors.good
	if status.Connected < status.Instances {
		style = colors.warn
	}
	fmt.Fprintf(a.stdout, "%s %s\n", colors.header.Render("instances:"), style.Render(connected))
}

func (a *app) renderInstances(instances []instanceView) {
	if len(instances) == 0 {
		fmt.Fprintln(a.stdout, "no instances")
		return
	}
	colors := a.palette()
	fmt.Fprintln(a.stdout, colors.header.Render(fmt.Sprintf("%-6s %-20s %-13s %-12s %-7s %-9s %s",
		"ID", "NAME", "STATUS", "PRESENCE", "QUEUE", "SYMPTOMS", "DONE/FAILED")))
	for _, instance := range instances {
		statusStyle := colors.bad
		switch instance.Status {
		case "connected":
			statusStyle = colors.good
		case "qr_pending":
			statusStyle = colors.warn
		}
		status := instance.Status
		if instance.NeedsRelink {
			status += "!"
		}
		symptomStyle := colors.faint
		if instance.Symptoms > 0 {
			symptomStyle = colors.warn
		}
		fmt.Fprintf(a.stdout, "%-6d %-20s %s %-12s %-7d %s %d/%d\n",
			instance.ID, instance.Name,
			cell(statusStyle, 13, status),
			instance.Presence, instance.Queued,
			cell(symptomStyle, 9, fmt.Sprint(instance.Symptoms)),
			instance.Executed, instance.Failed)
		if instance.Challenge != "" {
			fmt.Fprintf(a.stdout, "       %s %s\n", colors.faint.Render("challenge:"), instance.Challenge)
		}
	}
}

func (a *app) renderSchedules(schedules []scheduleView) {
	if len(schedules) == 0 {
		fmt.Fprintln(a.stdout, "no schedules")
		return
	}
	colors := a.palette()
	fmt.Fprintln(a.stdout, colors.header.Render(fmt.Sprintf("%-6s %-16s %-11s %-28s %-18s %s",
		"ID", "NAME", "WINDOW", "DAYS", "MODE", "TARGETS")))
	for _, schedule := range schedules {
		style := lipgloss.NewStyle()
		if !schedule.Enabled {
			style = colors.faint
		}
		days := schedule.Days
		if days == "" {
			days = "every day"
		}
		line := fmt.Sprintf("%-6d %-16s %-11s %-28s %-18s %s",
			schedule.ID, schedule.Name, schedule.Start+"-"+schedule.End, days, schedule.Mode,
			strings.Join(schedule.Targets, ","))
		fmt.Fprintln(a.stdout, style.Render(line))
	}
}

func (a *app) renderTracked(contacts []trackedView) {
	if len(contacts) == 0 {
		fmt.Fprintln(a.stdout, "no tracked contacts")
		return
	}
	colors := a.palette()
	fmt.Fprintln(a.stdout, colors.header.Render(fmt.Sprintf("%-32s %-8s %-10s %s",
		"CONTACT", "STATE", "TODAY", "LAST SEEN")))
	for _, contact := range contacts {
		state := cell(colors.faint, 8, "offline")
		if contact.Online {
			state = cell(colors.good, 8, "online")
		}
		lastSeen := "never"
		if !contact.LastOnline.IsZero() {
			lastSeen = contact.LastOnline.Local().Format(time.DateTime)
		}
		today := (time.Duration(contact.DailySeconds) * time.Second).String()
		fmt.Fprintf(a.stdout, "%-32s %s %-10s %s\n", contact.Contact, state, today, lastSeen)
	}
}
