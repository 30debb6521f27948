package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// AppendSessionSummary appends one row for sessionID to the CSV file at
// path, writing the header first when the file does not yet exist. Only
// scalar extra values are kept, as trailing columns sorted by key.
func AppendSessionSummary(path, sessionID string, summary SessionSummary, extra map[string]any) error {
	header := []string{"session_id"}
	row := []string{sessionID}
	for _, f := range summary.Fields() {
		header = append(header, f.Name)
		row = append(row, f.Value)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := scalarString(extra[k])
		if !ok {
			continue
		}
		header = append(header, k)
		row = append(row, v)
	}

	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write metrics header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write metrics row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush metrics csv: %w", err)
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case bool:
		if x {
			return "True", true
		}
		return "False", true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float32:
		return formatFloat(float64(x)), true
	case float64:
		return formatFloat(x), true
	default:
		return "", false
	}
}
