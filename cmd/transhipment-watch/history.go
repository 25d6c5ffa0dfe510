package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"transhipment-watch/watch"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	highStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// verdictsShown caps the verdict lines printed under each record.
const verdictsShown = 3

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var priority string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent alert records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.Recent(cmd.Context(), watch.HistoryFilter{
				Limit:            limit,
				HighPriorityOnly: priority != "" && watch.ParsePriority(priority) == watch.PriorityHigh,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no alert records")
				return nil
			}
			for _, r := range records {
				renderRecord(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of records to show")
	cmd.Flags().StringVar(&priority, "priority", "", "only records with at least one verdict of this priority (high)")
	return cmd
}

func renderRecord(w io.Writer, r watch.AlertRecord) {
	status := okStyle.Render("delivered")
	if !r.Delivered {
		status = pendingStyle.Render(fmt.Sprintf("pending (%d attempts)", r.Attempts))
	}
	count := fmt.Sprintf("%d verdicts", r.VerdictCount)
	if r.HighPriority > 0 {
		count += " " + highStyle.Render(fmt.Sprintf("%d high", r.HighPriority))
	}
	_, _ = fmt.Fprintf(w, "%s  %s  %s  %s\n",
		headerStyle.Render(r.SentAt.UTC().Format("2006-01-02 15:04")),
		dimStyle.Render(humanize.Time(r.SentAt)),
		count,
		status,
	)
	if !r.Delivered && strings.TrimSpace(r.LastError) != "" {
		_, _ = fmt.Fprintf(w, "    %s\n", dimStyle.Render(r.LastError))
	}

	verdicts, err := r.Verdicts()
	if err != nil {
		_, _ = fmt.Fprintf(w, "    %s\n", dimStyle.Render("undecodable verdicts: "+err.Error()))
		return
	}
	for i, v := range verdicts {
		if i == verdictsShown {
			_, _ = fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("... %d more", len(verdicts)-verdictsShown)))
			break
		}
		pair := v.Key().String()
		if v.Priority == watch.PriorityHigh {
			pair = highStyle.Render(pair)
		}
		_, _ = fmt.Fprintf(w, "    %s  %d min  %.4f,%.4f  %s\n",
			pair, v.DurationMin, v.Latitude, v.Longitude, describePort(v))
	}
}

func describePort(v watch.Verdict) string {
	if v.NearestPort == "" {
		return ""
	}
	return fmt.Sprintf("%.1f km from %s", v.PortKm, v.NearestPort)
}
