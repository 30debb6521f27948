package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/medrag/internal/narrative"
)

func TestMilliseconds(t *testing.T) {
	assert.Equal(t, 12.3, Milliseconds(12345*time.Microsecond))
	assert.Equal(t, 0.1, Milliseconds(60*time.Microsecond))
	assert.Equal(t, 0.0, Milliseconds(0))
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()

	require.NoError(t, r.Record(ctx, TurnRecord{SessionID: "b", Question: "q1"}))
	require.NoError(t, r.Record(ctx, TurnRecord{SessionID: "a", Question: "q2"}))
	require.NoError(t, r.Record(ctx, TurnRecord{SessionID: "b", Question: "q3"}))

	turns := r.Turns("b")
	require.Len(t, turns, 2)
	assert.Equal(t, "q1", turns[0].Question)
	assert.Equal(t, "q3", turns[1].Question)
	assert.Equal(t, []string{"a", "b"}, r.Sessions())

	// returned slice is a copy
	turns[0].Question = "mutated"
	assert.Equal(t, "q1", r.Turns("b")[0].Question)

	r.Reset("b")
	assert.Empty(t, r.Turns("b"))
	assert.Len(t, r.Turns("a"), 1)

	r.ResetAll()
	assert.Empty(t, r.Sessions())
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"Y", 1},
		{"The answer cites the context.\n\nY\n", 1},
		{"reasoning\nN", 0},
		{"yes", 1},
		{"True.", 1},
		{"no", 0},
		{"0.75", 0.75},
		{"**Y**", 1},
		{"maybe", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseVerdict(tt.in), "ParseVerdict(%q)", tt.in)
	}
}

func TestLLMJudge(t *testing.T) {
	ctx := context.Background()

	t.Run("Faithfulness sends reference as context", func(t *testing.T) {
		llm := narrative.NewMockLLM("Supported by the context.\nY")
		judge := NewLLMJudge(llm)

		score, err := judge.Faithfulness(ctx, "What is my hemoglobin?", "11.1 g/dL [patient]", "[patient] Hemoglobin 11.1 g/dL")
		require.NoError(t, err)
		assert.Equal(t, 1.0, score)

		req := llm.LastRequest()
		assert.Equal(t, "[patient] Hemoglobin 11.1 g/dL", req.Context)
		assert.Contains(t, req.Question, "supported by the provided context")
		assert.Contains(t, req.Question, "11.1 g/dL [patient]")
	})

	t.Run("Helpfulness has no reference", func(t *testing.T) {
		llm := narrative.NewMockLLM("N")
		judge := NewLLMJudge(llm)

		score, err := judge.Helpfulness(ctx, "q", "a")
		require.NoError(t, err)
		assert.Equal(t, 0.0, score)
		assert.Contains(t, llm.LastRequest().Question, "directly useful")
	})

	t.Run("LLM error", func(t *testing.T) {
		boom := errors.New("boom")
		judge := NewLLMJudge(narrative.NewMockLLMWithError(boom))

		_, err := judge.Helpfulness(ctx, "q", "a")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Nil LLM", func(t *testing.T) {
		_, err := NewLLMJudge(nil).Faithfulness(ctx, "q", "a", "c")
		assert.Error(t, err)
	})

	t.Run("Slow model is cut off by the timeout", func(t *testing.T) {
		llm := &narrative.MockLLM{Response: "Y", Delay: 5 * time.Second}
		judge := NewLLMJudge(llm).WithTimeout(20 * time.Millisecond)

		start := time.Now()
		_, err := judge.Faithfulness(ctx, "q", "a", "c")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Summary leaves timed out turns unscored", func(t *testing.T) {
		llm := &narrative.MockLLM{Response: "Y", Delay: 5 * time.Second}
		judge := NewLLMJudge(llm).WithTimeout(10 * time.Millisecond)
		turns := []TurnRecord{{Question: "q", Answer: "a [patient]", Context: "[patient] c"}}

		start := time.Now()
		s := Summarize(ctx, turns, judge, DefaultFaithfulnessThreshold)
		assert.Less(t, time.Since(start), time.Second)
		assert.Zero(t, s.TurnsScored)
	})
}

func TestAppendSessionSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_metrics.csv")
	summary := SessionSummary{Timestamp: "2026-01-02 03:04:05", TurnsScored: 2, AvgFaithfulness: 0.5}
	extra := map[string]any{
		"patient_index": "patient-reports",
		"general_index": "medical-helpbook",
		"ignored":       []string{"not", "scalar"},
	}

	require.NoError(t, AppendSessionSummary(path, "s1", summary, extra))
	require.NoError(t, AppendSessionSummary(path, "s2", summary, extra))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header once plus one row per session")

	header := records[0]
	assert.Equal(t, "session_id", header[0])
	assert.Equal(t, "ts", header[1])
	assert.Equal(t, []string{"general_index", "patient_index"}, header[len(header)-2:])
	assert.NotContains(t, header, "ignored")

	assert.Equal(t, "s1", records[1][0])
	assert.Equal(t, "s2", records[2][0])
	assert.Equal(t, "0.5", records[1][2])
	assert.Equal(t, "medical-helpbook", records[1][len(header)-2])
	assert.Len(t, records[1], len(header))
}

func TestAppendSessionSummary_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "m.csv")
	err := AppendSessionSummary(path, "s1", SessionSummary{}, nil)
	assert.Error(t, err)
}

func TestExportTurns(t *testing.T) {
	turns := []TurnRecord{
		{
			SessionID: "s1",
			Question:  "What is my hemoglobin?",
			Answer:    "11.1 g/dL [patient] [helpbook]",
			Context:   "[helpbook] range 12-15\n[patient] Hemoglobin 11.1 g/dL",
			Metrics:   AnswerMetrics{UsedPatientInAnswer: true, UsedHelpbookInAnswer: true},
		},
		{SessionID: "s1", Question: "q", Answer: "a", Context: "No retrieved context."},
	}

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ExportTurns(turns, "JSON", &buf))

		var out []TurnExport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		require.Len(t, out, 2)
		assert.Equal(t, 2, out[0].ContextLines)
		assert.Equal(t, []string{"helpbook", "patient"}, out[0].Sources)
		assert.Equal(t, 0, out[1].ContextLines)
		assert.Empty(t, out[1].Sources)
	})

	t.Run("Unsupported format", func(t *testing.T) {
		err := ExportTurns(turns, "xml", &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "unsupported export format"))
	})
}

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens(""))

	n := CountTokens("Hemoglobin 11.1 g/dL (12 to 15 g/dL)")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 40)
}
