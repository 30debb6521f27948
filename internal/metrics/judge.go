package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Yates-Labs/medrag/internal/narrative"
)

// Judge grades a single answer. Scores are in [0, 1].
type Judge interface {
	// Faithfulness grades whether answer is supported by reference.
	Faithfulness(ctx context.Context, question, answer, reference string) (float64, error)

	// Helpfulness grades whether answer is directly useful to the asker.
	Helpfulness(ctx context.Context, question, answer string) (float64, error)
}

const (
	faithfulnessCriterion = "faithfulness: Is the answer supported by the provided context?"
	helpfulnessCriterion  = "helpfulness: Is it directly useful to the user?"
)

const judgeSystem = "You grade a submitted answer against one criterion. " +
	"Reason step by step about whether the submission meets the criterion, " +
	"then write only the single letter Y or N on its own final line."

// LLMJudge grades answers with a language model returning Y/N verdicts.
type LLMJudge struct {
	llm     narrative.LLM
	timeout time.Duration
}

// NewLLMJudge creates a judge backed by llm. Use a low temperature for
// stable verdicts.
func NewLLMJudge(llm narrative.LLM) *LLMJudge {
	return &LLMJudge{llm: llm}
}

// WithTimeout bounds each grading call. Zero leaves calls unbounded.
func (j *LLMJudge) WithTimeout(d time.Duration) *LLMJudge {
	j.timeout = d
	return j
}

// Faithfulness asks the model whether answer is supported by reference.
func (j *LLMJudge) Faithfulness(ctx context.Context, question, answer, reference string) (float64, error) {
	return j.grade(ctx, faithfulnessCriterion, question, answer, reference)
}

// Helpfulness asks the model whether answer is useful, without a reference.
func (j *LLMJudge) Helpfulness(ctx context.Context, question, answer string) (float64, error) {
	return j.grade(ctx, helpfulnessCriterion, question, answer, "")
}

func (j *LLMJudge) grade(ctx context.Context, criterion, question, answer, reference string) (float64, error) {
	if j.llm == nil {
		return 0, fmt.Errorf("judge: LLM is required")
	}

	var b strings.Builder
	b.WriteString("[Input]: ")
	b.WriteString(question)
	b.WriteString("\n[Submission]: ")
	b.WriteString(answer)
	b.WriteString("\n[Criterion]: ")
	b.WriteString(criterion)
	b.WriteString("\nDoes the submission meet the criterion?")

	refText := reference
	if refText == "" {
		refText = "No reference provided."
	}

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	text, err := j.llm.Generate(ctx, narrative.GenerationRequest{
		System:   judgeSystem,
		Question: b.String(),
		Context:  refText,
	})
	if err != nil {
		return 0, fmt.Errorf("judge %s: %w", strings.SplitN(criterion, ":", 2)[0], err)
	}
	return ParseVerdict(text), nil
}

// ParseVerdict converts a judge reply to a score. The last non-empty line is
// read as a number if possible, otherwise y/yes/true map to 1 and anything
// else to 0.
func ParseVerdict(text string) float64 {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	last = strings.Trim(last, " .*\"'`()[]")

	if v, err := strconv.ParseFloat(last, 64); err == nil {
		return v
	}
	switch strings.ToLower(last) {
	case "y", "yes", "true":
		return 1
	default:
		return 0
	}
}
