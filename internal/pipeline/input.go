// Package pipeline sequences the triage stages for incoming alert
// batches: enrichment, scoring, technique mapping, history, model
// classification, and notification, followed by persistence and
// derived-statistics refresh.
package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Row is one raw alert row before validation. Rows arrive from CSV
// uploads, the CLI, or the Kafka ingest (as JSON).
type Row struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	IOCType   string `json:"ioc_type,omitempty"`
	IOCValue  string `json:"ioc_value,omitempty"`
	// SrcIP is the legacy column: rows that predate IOC typing carry
	// only a source IP.
	SrcIP string `json:"src_ip,omitempty"`

	// Line is the 1-based source position for error reporting. Zero for
	// rows that did not come from a line-oriented source.
	Line int `json:"-"`
}

// RowError is a structured per-row rejection. The rest of the batch
// still processes.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Validate checks required fields and resolves the indicator,
// falling back to (ip, src_ip) for legacy rows.
func (r Row) Validate() (models.Indicator, error) {
	if strings.TrimSpace(r.Timestamp) == "" {
		return models.Indicator{}, fmt.Errorf("missing timestamp")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return models.Indicator{}, fmt.Errorf("missing event_type")
	}

	if strings.TrimSpace(r.IOCValue) != "" {
		typ, err := models.ParseIndicatorType(r.IOCType)
		if err != nil {
			return models.Indicator{}, err
		}
		return models.Indicator{Type: typ, Value: strings.TrimSpace(r.IOCValue)}, nil
	}

	if strings.TrimSpace(r.SrcIP) != "" {
		return models.Indicator{Type: models.IndicatorIP, Value: strings.TrimSpace(r.SrcIP)}, nil
	}

	return models.Indicator{}, fmt.Errorf("missing ioc_type/ioc_value or src_ip")
}

// ParseCSV reads alert rows from a CSV stream. The first record must be
// a header naming at least timestamp and event_type; unknown columns
// are ignored. Malformed records are reported per row, not as a stream
// error.
func ParseCSV(r io.Reader) ([]Row, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty input")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["timestamp"]; !ok {
		return nil, nil, fmt.Errorf("header missing timestamp column")
	}
	if _, ok := cols["event_type"]; !ok {
		return nil, nil, fmt.Errorf("header missing event_type column")
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	var rowErrs []RowError
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Reason: err.Error()})
			continue
		}

		rows = append(rows, Row{
			Timestamp: field(record, "timestamp"),
			EventType: field(record, "event_type"),
			IOCType:   field(record, "ioc_type"),
			IOCValue:  field(record, "ioc_value"),
			SrcIP:     field(record, "src_ip"),
			Line:      line,
		})
	}

	return rows, rowErrs, nil
}
