package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Yates-Labs/medrag/internal/rag"
)

// Indexer accepts chunks for embedding and storage. rag.Index satisfies it.
type Indexer interface {
	Add(ctx context.Context, chunks []rag.Chunk) (int, error)
}

// File is an in-memory upload.
type File struct {
	Name string
	Data []byte
}

// Ingester loads, splits and indexes documents into the helpbook and patient
// indexes.
type Ingester struct {
	helpbook Indexer
	patient  Indexer
	splitter *Splitter
	logger   *slog.Logger
}

// NewIngester creates an ingester writing to the given indexes.
func NewIngester(helpbook, patient Indexer) *Ingester {
	return &Ingester{
		helpbook: helpbook,
		patient:  patient,
		splitter: NewSplitter(),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for progress and skipped files.
func (i *Ingester) WithLogger(logger *slog.Logger) *Ingester {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// WithSplitter replaces the default splitter.
func (i *Ingester) WithSplitter(s *Splitter) *Ingester {
	if s != nil {
		i.splitter = s
	}
	return i
}

// IngestPatientFiles reads files from disk and indexes them for sessionID.
func (i *Ingester) IngestPatientFiles(ctx context.Context, sessionID string, paths []string) (int, error) {
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, File{Name: filepath.Base(p), Data: data})
	}
	return i.IngestPatientUploads(ctx, sessionID, files)
}

// IngestPatientUploads indexes uploaded patient files for sessionID. Each
// file gets its own batch id. Files without extractable text are skipped
// with a warning; unsupported formats fail the whole call before anything
// is indexed. It returns the number of chunks submitted.
func (i *Ingester) IngestPatientUploads(ctx context.Context, sessionID string, files []File) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required for patient ingestion")
	}
	if i.patient == nil {
		return 0, fmt.Errorf("patient index is not configured")
	}

	var all []rag.Chunk
	for _, f := range files {
		docs, err := Load(f.Name, f.Data)
		if errors.Is(err, ErrEmptyDocument) {
			i.logger.Warn("[Ingest] skipping file without text", "file", f.Name, "session", sessionID)
			continue
		}
		if err != nil {
			return 0, err
		}
		chunks := BuildPatientChunks(docs, sessionID, i.splitter)
		i.logger.Debug("[Ingest] split patient file", "file", f.Name, "pages", len(docs), "chunks", len(chunks))
		all = append(all, chunks...)
	}

	if len(all) == 0 {
		return 0, nil
	}
	if _, err := i.patient.Add(ctx, all); err != nil {
		return 0, fmt.Errorf("index patient chunks: %w", err)
	}

	i.logger.Info("[Ingest] patient files indexed", "session", sessionID, "files", len(files), "chunks", len(all))
	return len(all), nil
}

// IngestHelpbook indexes a helpbook PDF from disk.
func (i *Ingester) IngestHelpbook(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return i.IngestHelpbookUpload(ctx, File{Name: filepath.Base(path), Data: data})
}

// IngestHelpbookUpload indexes an uploaded helpbook PDF as shared reference
// material. It returns the number of chunks submitted.
func (i *Ingester) IngestHelpbookUpload(ctx context.Context, f File) (int, error) {
	if i.helpbook == nil {
		return 0, fmt.Errorf("helpbook index is not configured")
	}
	if DetectFormat(f.Name) != FormatPDF {
		return 0, fmt.Errorf("%w: helpbook must be a PDF, got %s", ErrUnsupportedFormat, f.Name)
	}

	docs, err := Load(f.Name, f.Data)
	if errors.Is(err, ErrEmptyDocument) {
		i.logger.Warn("[Ingest] helpbook has no text", "file", f.Name)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	chunks := BuildHelpbookChunks(docs, i.splitter)
	if len(chunks) == 0 {
		return 0, nil
	}
	if _, err := i.helpbook.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("index helpbook chunks: %w", err)
	}

	i.logger.Info("[Ingest] helpbook indexed", "file", f.Name, "pages", len(docs), "chunks", len(chunks))
	return len(chunks), nil
}
