package metrics

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultFaithfulnessThreshold is the score below which a scored turn counts
// as a hallucination.
const DefaultFaithfulnessThreshold = 0.5

const summaryTimeLayout = "2006-01-02 15:04:05"

// SessionSummary is the roll-up of one session's turns.
type SessionSummary struct {
	Timestamp string `json:"ts"`

	AvgFaithfulness float64 `json:"avg_faithfulness"`
	AvgHelpfulness  float64 `json:"avg_helpfulness"`
	TurnsScored     int     `json:"turns_scored"`

	AvgLatencyMsTotal     float64 `json:"avg_latency_ms_total"`
	AvgLatencyMsRetrieval float64 `json:"avg_latency_ms_retrieval"`
	AvgLatencyMsLLM       float64 `json:"avg_latency_ms_llm"`

	RetrievalSuccessRatePct  float64 `json:"retrieval_success_rate_pct"`
	GroundedInPatientRatePct float64 `json:"grounded_in_patient_rate_pct"`
	HelpbookCiteRatePct      float64 `json:"helpbook_cite_rate_pct"`
	FallbackRatePct          float64 `json:"fallback_rate_pct"`
	EmptyContextRatePct      float64 `json:"empty_context_rate_pct"`

	AvgContextChars          float64 `json:"avg_context_chars"`
	AvgAnswerChars           float64 `json:"avg_answer_chars"`
	AvgRetrievedDocsPatient  float64 `json:"avg_retrieved_docs_patient"`
	AvgRetrievedDocsHelpbook float64 `json:"avg_retrieved_docs_helpbook"`

	HallucinationRatePct float64 `json:"hallucination_rate_pct"`
}

// Field is one named column of a summary row.
type Field struct {
	Name  string
	Value string
}

// Fields returns the summary as ordered columns.
func (s SessionSummary) Fields() []Field {
	return []Field{
		{"ts", s.Timestamp},
		{"avg_faithfulness", formatFloat(s.AvgFaithfulness)},
		{"avg_helpfulness", formatFloat(s.AvgHelpfulness)},
		{"turns_scored", strconv.Itoa(s.TurnsScored)},
		{"avg_latency_ms_total", formatFloat(s.AvgLatencyMsTotal)},
		{"avg_latency_ms_retrieval", formatFloat(s.AvgLatencyMsRetrieval)},
		{"avg_latency_ms_llm", formatFloat(s.AvgLatencyMsLLM)},
		{"retrieval_success_rate_pct", formatFloat(s.RetrievalSuccessRatePct)},
		{"grounded_in_patient_rate_pct", formatFloat(s.GroundedInPatientRatePct)},
		{"helpbook_cite_rate_pct", formatFloat(s.HelpbookCiteRatePct)},
		{"fallback_rate_pct", formatFloat(s.FallbackRatePct)},
		{"empty_context_rate_pct", formatFloat(s.EmptyContextRatePct)},
		{"avg_context_chars", formatFloat(s.AvgContextChars)},
		{"avg_answer_chars", formatFloat(s.AvgAnswerChars)},
		{"avg_retrieved_docs_patient", formatFloat(s.AvgRetrievedDocsPatient)},
		{"avg_retrieved_docs_helpbook", formatFloat(s.AvgRetrievedDocsHelpbook)},
		{"hallucination_rate_pct", formatFloat(s.HallucinationRatePct)},
	}
}

// Summarize rolls turns up into a SessionSummary. A turn is scored by judge
// only when its question, answer and context are all non-blank; a nil judge
// scores nothing. Turns whose verdicts fail are logged and left unscored.
func Summarize(ctx context.Context, turns []TurnRecord, judge Judge, faithThreshold float64) SessionSummary {
	summary := SessionSummary{Timestamp: time.Now().Format(summaryTimeLayout)}
	if len(turns) == 0 {
		return summary
	}

	var (
		faith, help                   []float64
		latTotal, latRetrieval, latLM []float64
		usedPatient, usedHelpbook     []float64
		fallback, emptyCtx, retOK     []float64
		ctxChars, ansChars            []float64
		docsPatient, docsHelpbook     []float64
	)

	for _, t := range turns {
		q := strings.TrimSpace(t.Question)
		a := strings.TrimSpace(t.Answer)
		c := strings.TrimSpace(t.Context)

		if judge != nil && q != "" && a != "" && c != "" {
			f, h, err := scoreTurn(ctx, judge, q, a, c)
			if err != nil {
				slog.Default().Warn("[Metrics] judge failed, turn left unscored",
					"session", t.SessionID, "error", err)
			} else {
				faith = append(faith, f)
				help = append(help, h)
			}
		}

		m := t.Metrics
		latTotal = append(latTotal, m.LatencyMsTotal)
		latRetrieval = append(latRetrieval, m.LatencyMsRetrieval)
		if m.LatencyMsLLM != nil {
			latLM = append(latLM, *m.LatencyMsLLM)
		}

		ctxChars = append(ctxChars, float64(utf8.RuneCountInString(c)))
		ansChars = append(ansChars, float64(utf8.RuneCountInString(a)))
		emptyCtx = append(emptyCtx, indicator(c == "" || strings.HasPrefix(strings.ToLower(c), "no retrieved context")))

		usedPatient = append(usedPatient, indicator(m.UsedPatientInAnswer))
		usedHelpbook = append(usedHelpbook, indicator(m.UsedHelpbookInAnswer))
		fallback = append(fallback, indicator(m.FallbackUsed))

		docsPatient = append(docsPatient, float64(m.RetrievedDocsPatient))
		docsHelpbook = append(docsHelpbook, float64(m.RetrievedDocsHelpbook))
		retOK = append(retOK, indicator(m.RetrievedDocsPatient > 0))
	}

	n := len(faith)
	summary.TurnsScored = n
	if n > 0 {
		summary.AvgFaithfulness = round(sum(faith)/float64(n), 4)
		summary.AvgHelpfulness = round(sum(help)/float64(n), 4)

		hallucinated := 0
		for _, f := range faith {
			if f < faithThreshold {
				hallucinated++
			}
		}
		summary.HallucinationRatePct = round(100*float64(hallucinated)/float64(n), 1)
	}

	summary.AvgLatencyMsTotal = mean(latTotal)
	summary.AvgLatencyMsRetrieval = mean(latRetrieval)
	summary.AvgLatencyMsLLM = mean(latLM)
	summary.RetrievalSuccessRatePct = pct(retOK)
	summary.GroundedInPatientRatePct = pct(usedPatient)
	summary.HelpbookCiteRatePct = pct(usedHelpbook)
	summary.FallbackRatePct = pct(fallback)
	summary.EmptyContextRatePct = pct(emptyCtx)
	summary.AvgContextChars = mean(ctxChars)
	summary.AvgAnswerChars = mean(ansChars)
	summary.AvgRetrievedDocsPatient = mean(docsPatient)
	summary.AvgRetrievedDocsHelpbook = mean(docsHelpbook)

	return summary
}

func scoreTurn(ctx context.Context, judge Judge, q, a, c string) (float64, float64, error) {
	f, err := judge.Faithfulness(ctx, q, a, c)
	if err != nil {
		return 0, 0, err
	}
	h, err := judge.Helpfulness(ctx, q, a)
	if err != nil {
		return 0, 0, err
	}
	return f, h, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return round(sum(xs)/float64(len(xs)), 2)
}

func pct(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return round(100*sum(xs)/float64(len(xs)), 1)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// formatFloat always keeps a decimal point so whole numbers read as floats.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
