package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/medrag/internal/rag"
)

type mockIndexer struct {
	mu      sync.Mutex
	addFunc func(ctx context.Context, chunks []rag.Chunk) (int, error)
	added   [][]rag.Chunk
}

func (m *mockIndexer) Add(ctx context.Context, chunks []rag.Chunk) (int, error) {
	m.mu.Lock()
	m.added = append(m.added, chunks)
	m.mu.Unlock()
	if m.addFunc != nil {
		return m.addFunc(ctx, chunks)
	}
	return len(chunks), nil
}

func (m *mockIndexer) calls() [][]rag.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]rag.Chunk(nil), m.added...)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatPDF, DetectFormat("report.PDF"))
	assert.Equal(t, FormatText, DetectFormat("notes.txt"))
	assert.Equal(t, FormatText, DetectFormat("notes.md"))
	assert.Equal(t, FormatUnknown, DetectFormat("scan.png"))
	assert.Equal(t, FormatUnknown, DetectFormat("noext"))
}

func TestLoad(t *testing.T) {
	t.Run("Text file", func(t *testing.T) {
		docs, err := Load("/tmp/uploads/cbc.txt", []byte("Hemoglobin 11.1 g/dL  \r\nMCV 78 fL\r\n"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "cbc.txt", docs[0].Source)
		assert.Equal(t, 0, docs[0].Page)
		assert.Equal(t, "Hemoglobin 11.1 g/dL\nMCV 78 fL\n", docs[0].Content)
	})

	t.Run("Blank text file", func(t *testing.T) {
		_, err := Load("empty.txt", []byte(" \n\t "))
		assert.ErrorIs(t, err, ErrEmptyDocument)
	})

	t.Run("Unsupported extension", func(t *testing.T) {
		_, err := Load("scan.png", []byte{0x89, 0x50})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("Corrupt PDF", func(t *testing.T) {
		_, err := Load("report.pdf", []byte("definitely not a pdf"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("From disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lipids.md")
		require.NoError(t, os.WriteFile(path, []byte("LDL 160 mg/dL"), 0o644))

		docs, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "lipids.md", docs[0].Source)
	})
}

func TestSplitter(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "Short text is one chunk",
			text: "  Hemoglobin 11.1 g/dL  ",
			size: 1000, overlap: 150,
			want: []string{"Hemoglobin 11.1 g/dL"},
		},
		{
			name: "Words without overlap",
			text: "aaa bbb ccc ddd",
			size: 10, overlap: 0,
			want: []string{"aaa bbb", "ccc ddd"},
		},
		{
			name: "Words with overlap",
			text: "aaa bbb ccc ddd",
			size: 10, overlap: 4,
			want: []string{"aaa bbb", "bbb ccc", "ccc ddd"},
		},
		{
			name: "Paragraphs then lines",
			text: "Hemoglobin 11.1 g/dL\n\nFerritin 8 ng/mL low\nVitamin D 18 ng/mL",
			size: 25, overlap: 5,
			want: []string{"Hemoglobin 11.1 g/dL", "Ferritin 8 ng/mL low", "Vitamin D 18 ng/mL"},
		},
		{
			name: "Characters as last resort",
			text: "abcdefghijklmnop",
			size: 5, overlap: 2,
			want: []string{"abcde", "defgh", "ghijk", "jklmn", "mnop"},
		},
		{
			name: "Blank text",
			text: " \n\n ",
			size: 10, overlap: 0,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Splitter{ChunkSize: tt.size, ChunkOverlap: tt.overlap}
			assert.Equal(t, tt.want, s.Split(tt.text))
		})
	}
}

func TestSplitter_DefaultsBoundChunkSize(t *testing.T) {
	line := strings.Repeat("ferritin ", 20) // 180 chars
	text := strings.Repeat(line+"\n", 30)

	chunks := NewSplitter().Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), DefaultChunkSize)
	}
}

var batchIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

func TestBuildChunks(t *testing.T) {
	docs := []Document{
		{Content: "Hemoglobin 11.1 g/dL", Source: "cbc.pdf", Page: 0},
		{Content: "Ferritin 8 ng/mL", Source: "cbc.pdf", Page: 1},
	}

	t.Run("Patient", func(t *testing.T) {
		chunks := BuildPatientChunks(docs, "s1", nil)
		require.Len(t, chunks, 2)

		batch := chunks[0].BatchID
		assert.Regexp(t, batchIDPattern, batch)
		for i, c := range chunks {
			assert.Equal(t, rag.KindPatient, c.Kind)
			assert.Equal(t, "s1", c.SessionID)
			assert.Equal(t, "patient_cbc.pdf", c.Source)
			assert.Equal(t, batch, c.BatchID)
			assert.Equal(t, batch+"-"+string(rune('0'+i)), c.ID)
			assert.Equal(t, i, c.Page)
		}
	})

	t.Run("Helpbook", func(t *testing.T) {
		chunks := BuildHelpbookChunks(docs, nil)
		require.Len(t, chunks, 2)
		for _, c := range chunks {
			assert.Equal(t, rag.KindHelpbook, c.Kind)
			assert.Empty(t, c.SessionID)
			assert.Equal(t, "cbc.pdf", c.Source)
		}
	})

	t.Run("Fresh batch per call", func(t *testing.T) {
		a := BuildPatientChunks(docs, "s1", nil)
		b := BuildPatientChunks(docs, "s1", nil)
		assert.NotEqual(t, a[0].BatchID, b[0].BatchID)
	})
}

func TestIngester_PatientUploads(t *testing.T) {
	ctx := context.Background()

	t.Run("Per-file batches, one index call", func(t *testing.T) {
		patient := &mockIndexer{}
		ing := NewIngester(&mockIndexer{}, patient)

		n, err := ing.IngestPatientUploads(ctx, "s1", []File{
			{Name: "cbc.txt", Data: []byte("Hemoglobin 11.1 g/dL")},
			{Name: "iron.md", Data: []byte("Ferritin 8 ng/mL")},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		calls := patient.calls()
		require.Len(t, calls, 1)
		require.Len(t, calls[0], 2)
		assert.Equal(t, "patient_cbc.txt", calls[0][0].Source)
		assert.Equal(t, "patient_iron.md", calls[0][1].Source)
		assert.NotEqual(t, calls[0][0].BatchID, calls[0][1].BatchID)
	})

	t.Run("Blank files skipped", func(t *testing.T) {
		patient := &mockIndexer{}
		ing := NewIngester(nil, patient)

		n, err := ing.IngestPatientUploads(ctx, "s1", []File{{Name: "blank.txt", Data: []byte("   ")}})
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, patient.calls())
	})

	t.Run("Unsupported format fails before indexing", func(t *testing.T) {
		patient := &mockIndexer{}
		ing := NewIngester(nil, patient)

		_, err := ing.IngestPatientUploads(ctx, "s1", []File{
			{Name: "cbc.txt", Data: []byte("Hemoglobin 11.1 g/dL")},
			{Name: "xray.png", Data: []byte{1, 2, 3}},
		})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.Empty(t, patient.calls())
	})

	t.Run("Session required", func(t *testing.T) {
		_, err := NewIngester(nil, &mockIndexer{}).IngestPatientUploads(ctx, "", nil)
		assert.Error(t, err)
	})

	t.Run("Index failure", func(t *testing.T) {
		boom := errors.New("milvus down")
		patient := &mockIndexer{addFunc: func(context.Context, []rag.Chunk) (int, error) { return 0, boom }}

		_, err := NewIngester(nil, patient).IngestPatientUploads(ctx, "s1", []File{{Name: "a.txt", Data: []byte("x")}})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("From disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cbc.txt")
		require.NoError(t, os.WriteFile(path, []byte("Hemoglobin 11.1 g/dL"), 0o644))
		patient := &mockIndexer{}

		n, err := NewIngester(nil, patient).IngestPatientFiles(ctx, "s1", []string{path})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestIngester_Helpbook(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejects non-PDF", func(t *testing.T) {
		_, err := NewIngester(&mockIndexer{}, nil).IngestHelpbookUpload(ctx, File{Name: "guide.txt", Data: []byte("x")})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("Corrupt PDF", func(t *testing.T) {
		helpbook := &mockIndexer{}
		_, err := NewIngester(helpbook, nil).IngestHelpbookUpload(ctx, File{Name: "guide.pdf", Data: []byte("nope")})
		assert.Error(t, err)
		assert.Empty(t, helpbook.calls())
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := NewIngester(&mockIndexer{}, nil).IngestHelpbook(ctx, filepath.Join(t.TempDir(), "none.pdf"))
		assert.Error(t, err)
	})
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	patient := &mockIndexer{}
	ing := NewIngester(nil, patient)

	w, err := NewWatcher(ing, "s1")
	require.NoError(t, err)
	defer w.Close()

	ingested := make(chan string, 4)
	w.OnIngest = func(path string, _ int) { ingested <- filepath.Base(path) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()
	time.Sleep(200 * time.Millisecond)

	// ignored extension, then renamed into a watched one
	tmp := filepath.Join(dir, "cbc.part")
	require.NoError(t, os.WriteFile(tmp, []byte("Hemoglobin 11.1 g/dL"), 0o644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "cbc.txt")))

	select {
	case name := <-ingested:
		assert.Equal(t, "cbc.txt", name)
	case <-time.After(5 * time.Second):
		t.Fatal("file was not ingested")
	}

	calls := patient.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "s1", calls[0][0].SessionID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
