// File: internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/xkilldash9x/vulnsync-cli/internal/reconcile"
)

// timeResolution keeps durations readable in terminal output.
const timeResolution = time.Millisecond

// TextReporter renders a run summary as an aligned table for terminals.
type TextReporter struct {
	writer io.WriteCloser
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(summary reconcile.RunSummary) error {
	fmt.Fprintf(r.writer, "Run %s (scope %q)", summary.RunID, summary.Scope)
	if summary.DryRun {
		fmt.Fprint(r.writer, " [dry run]")
	}
	fmt.Fprintf(r.writer, "\nRepositories: %d  Mutations: %d  Failures: %d  Duration: %s\n\n",
		summary.Repositories, summary.Mutations, summary.Failures, summary.Duration.Round(timeResolution))

	tw := tabwriter.NewWriter(r.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tACTION\tSCORE\tBAND\tOPEN\tISSUE\tSTATUS")
	for _, result := range summary.Results {
		issue := "-"
		if result.Issue > 0 {
			issue = fmt.Sprintf("#%d", result.Issue)
		} else if result.Issue < 0 {
			issue = "(planned)"
		}
		statusCol := "-"
		if result.StatusMutation != nil {
			statusCol = fmt.Sprintf("%s -> %s", orDash(string(result.StatusMutation.From)), result.StatusMutation.To)
		}
		if result.Error != "" {
			fmt.Fprintf(tw, "%s\tFAILED\t-\t-\t-\t%s\t-\n", result.Repository, issue)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
			result.Repository, result.Action, result.Score, result.Band, result.OpenCount, issue, statusCol)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	wroteBlank := false
	for _, result := range summary.Results {
		if result.Error == "" {
			continue
		}
		if !wroteBlank {
			fmt.Fprintln(r.writer)
			wroteBlank = true
		}
		fmt.Fprintf(r.writer, "FAILURE %s: %s\n", result.Repository, result.Error)
	}
	for _, result := range summary.Results {
		for _, dup := range result.Duplicates {
			fmt.Fprintf(r.writer, "WARNING %s: duplicate tracking issue #%d (kept #%d)\n",
				dup.Repository, dup.Issue, dup.KeptIssue)
		}
	}
	return nil
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
