// Package reporting writes the end-of-run summary. Two formats: a compact
// human-readable text table and a JSON document for downstream tooling.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/vulnsync-cli/internal/reconcile"
)

// Reporter writes one run summary to an output.
type Reporter interface {
	// Write renders the summary.
	Write(summary reconcile.RunSummary) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format and output path. Empty path or
// "stdout" writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return NewJSONReporter(writer), nil
	case "text", "":
		return NewTextReporter(writer), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
