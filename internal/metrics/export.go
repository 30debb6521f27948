package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportFormat represents supported export formats
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
)

// TurnExport is a turn record flattened for export.
type TurnExport struct {
	SessionID    string        `json:"session_id"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	ContextLines int           `json:"context_lines"`
	Sources      []string      `json:"sources"`
	Metrics      AnswerMetrics `json:"metrics"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ExportTurns exports a turn log in JSON format
func ExportTurns(turns []TurnRecord, format string, writer io.Writer) error {
	exportFormat := ExportFormat(strings.ToLower(format))
	if exportFormat != FormatJSON {
		return fmt.Errorf("unsupported export format: %s (supported: json)", format)
	}

	exports := make([]TurnExport, len(turns))
	for i, t := range turns {
		exports[i] = flattenTurn(t)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exports)
}

// flattenTurn counts context lines and lists the sources cited in the answer
func flattenTurn(t TurnRecord) TurnExport {
	lines := 0
	if ctx := strings.TrimSpace(t.Context); ctx != "" && !strings.HasPrefix(strings.ToLower(ctx), "no retrieved context") {
		lines = len(strings.Split(ctx, "\n"))
	}

	sources := []string{}
	if t.Metrics.UsedHelpbookInAnswer {
		sources = append(sources, "helpbook")
	}
	if t.Metrics.UsedPatientInAnswer {
		sources = append(sources, "patient")
	}

	return TurnExport{
		SessionID:    t.SessionID,
		Question:     t.Question,
		Answer:       t.Answer,
		ContextLines: lines,
		Sources:      sources,
		Metrics:      t.Metrics,
		Timestamp:    t.Timestamp,
	}
}
