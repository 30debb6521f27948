package ingest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Yates-Labs/medrag/internal/rag"
)

// PatientSourcePrefix marks chunk sources that came from a patient upload.
const PatientSourcePrefix = "patient_"

// NewBatchID returns a short random id grouping the chunks of one ingestion.
func NewBatchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// BuildPatientChunks splits one patient file's documents into chunks bound
// to sessionID. Chunk ids are <batch>-<n> in split order.
func BuildPatientChunks(docs []Document, sessionID string, splitter *Splitter) []rag.Chunk {
	return buildChunks(docs, splitter, NewBatchID(), func(c *rag.Chunk, d Document) {
		c.Kind = rag.KindPatient
		c.SessionID = sessionID
		c.Source = PatientSourcePrefix + d.Source
	})
}

// BuildHelpbookChunks splits helpbook documents into shared reference chunks.
func BuildHelpbookChunks(docs []Document, splitter *Splitter) []rag.Chunk {
	return buildChunks(docs, splitter, NewBatchID(), func(c *rag.Chunk, d Document) {
		c.Kind = rag.KindHelpbook
		c.Source = d.Source
	})
}

func buildChunks(docs []Document, splitter *Splitter, batchID string, tag func(*rag.Chunk, Document)) []rag.Chunk {
	if splitter == nil {
		splitter = NewSplitter()
	}

	var chunks []rag.Chunk
	for _, doc := range docs {
		for _, text := range splitter.Split(doc.Content) {
			c := rag.Chunk{
				ID:      fmt.Sprintf("%s-%d", batchID, len(chunks)),
				Content: text,
				Page:    doc.Page,
				BatchID: batchID,
			}
			tag(&c, doc)
			chunks = append(chunks, c)
		}
	}
	return chunks
}
