package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/udisondev/worldlink/internal/servconn"
)

func printStats(out io.Writer, s servconn.Stats, counts map[string]int, online time.Duration) {
	fmt.Fprintf(out, "\nSession statistics after %s\n", online.Round(time.Second))

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Metric", "In", "Out"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{"bits/s", ff(s.BpsIn), ff(s.BpsOut)})
	tw.Append([]string{"packets/s", ff(s.PacketsPerSecondIn), ff(s.PacketsPerSecondOut)})
	tw.Append([]string{"messages/s", ff(s.MessagesPerSecondIn), ff(s.MessagesPerSecondOut)})
	tw.Render()

	tw = tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Inbound bytes", "Total", "Percent"})
	tw.SetBorder(true)
	tw.Append([]string{"movement", strconv.Itoa(s.MovementBytesTotal), ff(s.MovementBytesPercent)})
	tw.Append([]string{"other messages", strconv.Itoa(s.NonMovementBytesTotal), ff(s.NonMovementBytesPercent)})
	tw.Append([]string{"overhead", strconv.Itoa(s.OverheadBytesTotal), ff(s.OverheadBytesPercent)})
	tw.SetFooter([]string{"movement messages", strconv.Itoa(s.MovementMessageCount), ""})
	tw.Render()

	if len(counts) == 0 {
		return
	}
	tw = tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Callback", "Count"})
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		tw.Append([]string{k, strconv.Itoa(counts[k])})
	}
	tw.Render()
}

func printProbe(out io.Writer, info map[string]string) {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Key", "Value"})
	tw.SetAutoWrapText(false)
	for _, k := range slices.Sorted(maps.Keys(info)) {
		tw.Append([]string{k, info[k]})
	}
	tw.Render()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }
