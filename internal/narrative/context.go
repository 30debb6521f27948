package narrative

import (
	"strings"

	"github.com/Yates-Labs/medrag/internal/rag"
)

// NoContextSentinel stands in for the context when neither source returned anything.
const NoContextSentinel = "No retrieved context."

const (
	patientTag  = "[patient]"
	helpbookTag = "[helpbook]"
)

// Tag returns the inline source tag for a chunk kind.
func Tag(kind rag.Kind) string {
	if kind == rag.KindPatient {
		return patientTag
	}
	return helpbookTag
}

// MergeContext renders retrieved chunks as one tagged line each, helpbook
// block first, then patient block, preserving retrieval order within each.
// Newlines inside a chunk become spaces. It never returns an empty string.
func MergeContext(helpbook, patient []rag.Chunk) string {
	lines := make([]string, 0, len(helpbook)+len(patient))
	lines = appendTagged(lines, helpbookTag, helpbook)
	lines = appendTagged(lines, patientTag, patient)

	if len(lines) == 0 {
		return NoContextSentinel
	}
	return strings.Join(lines, "\n")
}

func appendTagged(lines []string, tag string, chunks []rag.Chunk) []string {
	for _, c := range chunks {
		text := strings.Join(strings.Fields(c.Content), " ")
		if text == "" {
			continue
		}
		lines = append(lines, tag+" "+text)
	}
	return lines
}

// IsNoContext reports whether a merged context carries no retrieved material.
func IsNoContext(context string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(context)), strings.ToLower(strings.TrimSuffix(NoContextSentinel, ".")))
}

// CitesPatient reports whether an answer carries the patient source tag.
func CitesPatient(answer string) bool {
	return strings.Contains(answer, patientTag)
}

// CitesHelpbook reports whether an answer carries the helpbook source tag.
func CitesHelpbook(answer string) bool {
	return strings.Contains(answer, helpbookTag)
}
