package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"goprof/internal/app"
)

var resultsText bool

func init() {
	cmdResults.Flags().BoolVar(&resultsText, "text", false, "Print the full reports")
	rootCmd.AddCommand(cmdState, cmdResults, cmdTargets)
}

var cmdState = &cobra.Command{
	Use:   "state",
	Short: "Show the session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := controller().State(cmd.Context(), defaultCall())
		if err != nil {
			return err
		}
		renderState(cmd.OutOrStdout(), st)
		return nil
	},
}

var cmdResults = &cobra.Command{
	Use:   "results",
	Short: "Fetch the reports produced since the last call",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := controller().Results(cmd.Context(), defaultCall())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No new results")
			return nil
		}
		if resultsText {
			for _, r := range results {
				printReport(out, r)
			}
			return nil
		}
		table := newTable(out, "Kind", "Label", "Backend", "File", "Created")
		for _, r := range results {
			table.Append([]string{r.Kind, dash(r.Label), r.Backend, dash(r.Path), ago(r.Created)})
		}
		table.Render()
		return nil
	},
}

var cmdTargets = &cobra.Command{
	Use:   "targets",
	Short: "List programs with a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := controller().Targets(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(targets) == 0 {
			fmt.Fprintln(out, "No agents found")
			return nil
		}
		table := newTable(out, "PID", "Name", "Alive", "Started", "Socket")
		for _, t := range targets {
			table.Append([]string{strconv.Itoa(t.PID), dash(t.Name), strconv.FormatBool(t.Alive), ago(t.Started), t.Socket})
		}
		table.Render()
		return nil
	},
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func renderState(w io.Writer, st app.State) {
	table := newTable(w, "Field", "Value")
	rows := [][]string{
		{"session", st.SessionID},
		{"state", st.State + "/" + st.Mode},
		{"backend", st.Backend},
		{"filter", st.Module + ":" + st.Function},
		{"sort", st.Sort},
		{"targets", dash(st.TargetSpec)},
		{"resolved", joinIDs(st.Targets)},
		{"results dir", st.ResultsDir},
		{"next index", strconv.FormatInt(st.NextIndex, 10)},
		{"max duration", durationOrOff(st.MaxDuration)},
		{"start wait", durationOrOff(st.StartWait)},
		{"code pending", strconv.FormatBool(st.CodePending)},
		{"armed labels", dash(strings.Join(st.Coordinator.Labels, ", "))},
		{"label transition", strconv.FormatBool(st.Coordinator.Transition)},
		{"queued results", strconv.Itoa(st.QueuedResults)},
	}
	if st.Coordinator.Owner != 0 {
		rows = append(rows, []string{"owner", fmt.Sprintf("caller-%d", st.Coordinator.Owner)})
	}
	if !st.StartedAt.IsZero() {
		rows = append(rows, []string{"profiling since", humanize.Time(st.StartedAt)})
	}
	if p := st.Process; p != nil {
		rows = append(rows,
			[]string{"process", fmt.Sprintf("%d %s", p.PID, p.Name)},
			[]string{"cpu", fmt.Sprintf("%.1f%%", p.CPUPercent)},
			[]string{"rss", humanize.IBytes(p.RSSBytes)},
			[]string{"goroutines", humanize.Comma(int64(p.Goroutines))},
		)
	}
	table.AppendBulk(rows)
	table.Render()
}

func printReport(w io.Writer, r app.Result) {
	header := fmt.Sprintf("== %s result", r.Kind)
	if r.Label != "" {
		header += " [" + r.Label + "]"
	}
	if r.Path != "" {
		header += " " + r.Path
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.TrimRight(r.Text, "\n"))
}

func joinIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, "#"+strconv.FormatUint(id, 10))
	}
	return strings.Join(parts, " ")
}

func durationOrOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
