// File: internal/reporting/json_reporter.go
package reporting

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/vulnsync-cli/internal/reconcile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes the run summary as one indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
}

func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

func (r *JSONReporter) Write(summary reconcile.RunSummary) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
