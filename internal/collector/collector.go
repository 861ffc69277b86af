// Package collector loads scanner report files into raw alert rows. Reports
// arrive as CSV or JSON with a stable field vocabulary (repository, package,
// severity, cvss_score, state, first_detected, resolved_at); anything beyond
// parsing into RawAlert is the normalizer's job.
package collector

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Collector reads alert rows from report files.
type Collector struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Collector {
	return &Collector{logger: logger.Named("collector")}
}

// Collect loads alerts from path. A directory selects the most recently
// modified report file inside it; a file is read according to its extension.
func (c *Collector) Collect(path string) ([]schemas.RawAlert, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading report input: %w", err)
	}
	if info.IsDir() {
		path, err = c.latestReport(path)
		if err != nil {
			return nil, err
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening report %s: %w", path, err)
	}
	defer file.Close()

	var alerts []schemas.RawAlert
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		alerts, err = readCSV(file)
	case ".json":
		alerts, err = readJSON(file)
	default:
		return nil, fmt.Errorf("unsupported report format %q (want .csv or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}

	c.logger.Info("Report loaded",
		zap.String("path", path),
		zap.Int("alerts", len(alerts)))
	return alerts, nil
}

// latestReport picks the newest .csv or .json file in dir.
func (c *Collector) latestReport(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scanning report directory: %w", err)
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".csv" && ext != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = filepath.Join(dir, entry.Name())
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no report files in %s", dir)
	}
	c.logger.Debug("Auto-detected latest report", zap.String("path", newest))
	return newest, nil
}

func readJSON(r io.Reader) ([]schemas.RawAlert, error) {
	var alerts []schemas.RawAlert
	if err := json.NewDecoder(r).Decode(&alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// readCSV parses a headered CSV report. Column order is free; the header
// names are the contract.
func readCSV(r io.Reader) ([]schemas.RawAlert, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"repository", "package", "severity", "state"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var alerts []schemas.RawAlert
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		alert := schemas.RawAlert{
			Repository:    field(row, "repository"),
			Package:       field(row, "package"),
			Severity:      field(row, "severity"),
			State:         field(row, "state"),
			FirstDetected: field(row, "first_detected"),
			ResolvedAt:    field(row, "resolved_at"),
		}
		if raw := field(row, "cvss_score"); raw != "" {
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid cvss_score %q", line, raw)
			}
			alert.CVSSScore = &score
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
