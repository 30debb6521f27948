package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
	"github.com/Yates-Labs/medrag/internal/rag"
)

const cannedAnswer = "Your hemoglobin is slightly low [patient]."

func newTestRouter(t *testing.T) (*gin.Engine, *orchestrator.RAGPipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	newIndex := func(name string) *rag.Index {
		idx, err := rag.NewIndex(name, rag.NewMockEmbedder(64), rag.NewInMemoryStore(name))
		require.NoError(t, err)
		return idx
	}

	config := orchestrator.DefaultRAGConfig()
	config.MetricsCSV = filepath.Join(t.TempDir(), "session_metrics.csv")
	p, err := orchestrator.NewRAGPipelineWithDeps(config, orchestrator.Deps{
		Helpbook: newIndex(config.HelpbookIndex),
		Patient:  newIndex(config.PatientIndex),
		LLM:      narrative.NewMockLLM(cannedAnswer),
	})
	require.NoError(t, err)

	return NewRouter(NewHandler(p)), p
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), "response should be valid JSON")
	}
	return w, decoded
}

func upload(t *testing.T, router http.Handler, path, field string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response should carry a data object: %v", body)
	return d
}

func TestCreateSession(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, int(body["code"].(float64)))
	assert.NotEmpty(t, data(t, body)["session_id"])
}

func TestAskFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	w := upload(t, router, "/api/v1/sessions/s1/documents", "files", map[string]string{
		"cbc.txt": "Hemoglobin 11.1 g/dL (low)",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/ask", map[string]string{
		"question": "Is my hemoglobin normal?",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := data(t, body)
	assert.Equal(t, cannedAnswer, d["answer"])
	m := d["metrics"].(map[string]any)
	assert.Equal(t, float64(1), m["retrieved_docs_patient"])
	assert.Equal(t, true, m["used_patient_in_answer"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, body)["turns"], 1)

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := data(t, body)["summary"].(map[string]any)
	assert.Equal(t, float64(100), summary["retrieval_success_rate_pct"])
	assert.Equal(t, float64(100), summary["grounded_in_patient_rate_pct"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/turns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var turns []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &turns))
	require.Len(t, turns, 1)
	assert.Equal(t, []any{"patient"}, turns[0]["sources"])

	w, body = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "s1", data(t, body)["session_id"])

	_, body = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	assert.Empty(t, data(t, body)["turns"])
}

func TestRequestValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"empty question", "/api/v1/sessions/s1/ask", map[string]string{"question": "   "}, http.StatusBadRequest},
		{"malformed body", "/api/v1/sessions/s1/ask", "{not json", http.StatusBadRequest},
		{"empty test name", "/api/v1/sessions/s1/interpret", map[string]string{"test_name": ""}, http.StatusBadRequest},
		{"interpret", "/api/v1/sessions/s1/interpret", map[string]string{"test_name": "TSH"}, http.StatusOK},
		{"summarize", "/api/v1/sessions/s1/summarize", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				assert.NotEqual(t, 0, int(body["code"].(float64)))
			}
		})
	}
}

func TestUploadDocuments_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("unsupported format", func(t *testing.T) {
		w := upload(t, router, "/api/v1/sessions/s1/documents", "files", map[string]string{"labs.csv": "a,b"})
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("no files", func(t *testing.T) {
		w := upload(t, router, "/api/v1/sessions/s1/documents", "other", map[string]string{"labs.txt": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/documents", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("helpbook must be pdf", func(t *testing.T) {
		w := upload(t, router, "/api/v1/helpbook", "file", map[string]string{"notes.txt": "x"})
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})
}

func TestExportTurns_UnsupportedFormat(t *testing.T) {
	router, _ := newTestRouter(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/turns?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRotateAndHealth(t *testing.T) {
	router, p := newTestRouter(t)

	p.Answer(context.Background(), "hello", "s1")
	require.Len(t, p.History("s1"), 1)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/patient-index/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, data(t, body)["rotated"])
	assert.Empty(t, p.History("s1"))

	w, body = doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestChat(t *testing.T) {
	router, p := newTestRouter(t)

	t.Run("Disabled without an agent", func(t *testing.T) {
		w, body := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/chat", gin.H{"message": "hi"})
		assert.Equal(t, http.StatusNotImplemented, w.Code)
		assert.Equal(t, "chat agent is not enabled", body["message"])
	})

	caller := &narrative.MockLLM{
		Response: "Your TSH is within range [patient].",
		Steps: []narrative.ToolStep{{Calls: []narrative.ToolCall{
			{ID: "c1", Name: agent.ToolInterpret, Args: map[string]any{"test_name": "TSH"}},
		}}},
	}
	a, err := agent.New(p, caller, agent.DefaultConfig())
	require.NoError(t, err)
	router = NewRouter(NewHandler(p).WithAgent(a))

	w := upload(t, router, "/api/v1/sessions/s1/documents", "files", map[string]string{"thyroid.txt": "TSH 2.1 mIU/L (0.4-4.0)"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/chat", gin.H{"message": "Is my thyroid ok?"})
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "s1", data["session_id"])
	assert.Equal(t, "Your TSH is within range [patient].", data["answer"])
	assert.Equal(t, false, data["fallback"])
	tools := data["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, agent.ToolInterpret, tools[0].(map[string]any)["name"])
	assert.NotNil(t, data["metrics"])

	history := p.History("s1")
	require.Len(t, history, 1, "the records tool adds the turn")
	assert.Contains(t, history[0].Question, "Interpret the patient's TSH.")

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/chat", gin.H{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
