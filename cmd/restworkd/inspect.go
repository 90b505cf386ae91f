package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	mutedColor   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(26)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(mutedColor).Padding(1, 2).MarginRight(2)
)

// inspectCommand renders the latest snapshot a serve process wrote to
// --status-file. It is strictly read-only and does not contact a live
// worker process: it only ever reads the file from disk, once, and exits.
func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Render the status snapshot a serve process wrote",
		ArgsUsage: "<status-file>",
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("status-file path required", 1)
	}
	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("inspect: read %s: %v", path, err), 1)
	}

	var snap statusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return cli.Exit(fmt.Sprintf("inspect: parse %s: %v", path, err), 1)
	}

	fmt.Println(renderSnapshot(snap))
	return nil
}

func renderSnapshot(snap statusSnapshot) string {
	keys := make([]string, 0, len(snap.Partitions))
	for k := range snap.Partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	boxes := make([]string, 0, len(keys))
	for _, k := range keys {
		boxes = append(boxes, renderPartitionBox(k, snap.Partitions[k]))
	}

	header := titleStyle.Render(fmt.Sprintf("restworkd status — written %s", snap.WrittenAt.Format("2006-01-02T15:04:05Z07:00")))
	return header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderPartitionBox(id string, v partitionView) string {
	mode := valueStyle.Render(v.EffectiveMode)
	if v.EffectiveMode == "leader" {
		mode = lipgloss.NewStyle().Foreground(successColor).Render(v.EffectiveMode)
	}
	replay := valueStyle.Render(v.Replay)
	if v.Replay == "catching_up" {
		replay = lipgloss.NewStyle().Foreground(warningColor).Render(v.Replay)
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}

	body := fmt.Sprintf(
		"%s\n%s\n%s\n%s\n%s\n%s",
		row("mode", mode),
		row("replay", replay),
		row("last_applied_lsn", valueStyle.Render(fmt.Sprintf("%d", v.LastAppliedLSN))),
		row("leader_epoch", valueStyle.Render(fmt.Sprintf("%d", v.LastObservedLeaderEpoch))),
		row("leader_node", valueStyle.Render(v.LastObservedLeaderNode)),
		row("skipped_records", valueStyle.Render(fmt.Sprintf("%d", v.SkippedRecords))),
	)

	title := titleStyle.Render(fmt.Sprintf("partition %s", id))
	return boxStyle.Render(title + "\n" + body)
}
