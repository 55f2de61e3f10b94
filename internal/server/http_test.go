package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukehanabi/audio-to-doc/internal/audio"
	"github.com/lukehanabi/audio-to-doc/internal/config"
	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/models"
	"github.com/lukehanabi/audio-to-doc/internal/pipeline"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
	"github.com/lukehanabi/audio-to-doc/internal/report"
	"github.com/lukehanabi/audio-to-doc/internal/vad"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testServer struct {
	*HTTPServer
	config    *config.Config
	uploadDir string
	reportDir string
}

func newTestServer(t *testing.T, modelPaths map[string]string, engineOpts ...func(*recognizer.EngineConfig)) *testServer {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.HTTP.MaxUploadMB = 1
	cfg.Audio.UploadDir = filepath.Join(dir, "uploads")
	cfg.Audio.TempDir = dir
	cfg.Models.Engine = "stub"
	cfg.Report.OutputDir = filepath.Join(dir, "reports")
	require.NoError(t, os.MkdirAll(cfg.Audio.UploadDir, 0o755))

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	logger := testLogger()

	cache := models.NewCache(models.CacheConfig{Paths: modelPaths, Load: recognizer.LoadStubModel}, logger, m)
	var engineConfig recognizer.EngineConfig
	for _, opt := range engineOpts {
		opt(&engineConfig)
	}
	engine := recognizer.NewEngine(engineConfig, logger, m)
	reports, err := report.NewGenerator(report.GeneratorConfig{OutputDir: cfg.Report.OutputDir}, nil, logger, m)
	require.NoError(t, err)

	mgr, err := pipeline.NewManager(pipeline.ManagerConfig{MaxConcurrent: 2}, pipeline.Dependencies{
		Normalizer: audio.NewNormalizer(audio.NormalizerConfig{Formats: cfg.Audio.Formats, TempDir: dir}, logger, m),
		Models:     cache,
		Engine:     engine,
		Reports:    reports,
	}, logger, m)
	require.NoError(t, err)
	t.Cleanup(func() {
		mgr.Stop(context.Background())
		cache.Close()
	})

	h := NewHTTPServer(cfg, Dependencies{Pipeline: mgr, Models: cache, Engine: engine, Gatherer: reg}, logger, m)
	return &testServer{HTTPServer: h, config: cfg, uploadDir: cfg.Audio.UploadDir, reportDir: cfg.Report.OutputDir}
}

func allModels() map[string]string {
	return map[string]string{config.LocaleEnglish: "en", config.LocaleSpanish: "es"}
}

func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	samples := make([]int16, int(16000*seconds))
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}
	data, err := audio.EncodeWAV(samples, 16000)
	require.NoError(t, err)
	return data
}

// upload is one multipart request body; omitFile leaves out the file part.
type upload struct {
	filename string
	data     []byte
	fields   map[string]string
	omitFile bool
}

func (u upload) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if !u.omitFile {
		part, err := w.CreateFormFile("audio_file", u.filename)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/convert", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func documentBody(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			body, err := io.ReadAll(rc)
			require.NoError(t, err)
			return string(body)
		}
	}
	t.Fatal("word/document.xml missing")
	return ""
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, dir)
}

func TestConvertReturnsDocx(t *testing.T) {
	s := newTestServer(t, allModels())

	rec := s.do(upload{filename: "Weekly Sync.WAV", data: toneWAV(t, 1), fields: map[string]string{"language": "english"}}.request(t))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, report.ContentTypeDocx, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Weekly Sync_transcription.docx")

	body := documentBody(t, rec.Body.Bytes())
	assert.Contains(t, body, "stub stub stub stub")
	assert.Contains(t, body, "Weekly Sync.WAV")
	assert.Contains(t, body, "en-US")

	assertEmptyDir(t, s.uploadDir)
	assertEmptyDir(t, s.reportDir)

	jobs := decode(t, s.get("/api/jobs"))
	assert.Equal(t, float64(1), jobs["total_jobs"])
	job := jobs["jobs"].([]any)[0].(map[string]any)
	assert.Equal(t, "delivered", job["state"])
	assert.Equal(t, true, job["success"])

	detail := s.get("/api/jobs/" + job["id"].(string))
	require.Equal(t, http.StatusOK, detail.Code)
	assert.Equal(t, "Weekly Sync.WAV", decode(t, detail)["filename"])
}

func TestConvertDefaultsToAuto(t *testing.T) {
	s := newTestServer(t, allModels())

	rec := s.do(upload{filename: "clip.wav", data: toneWAV(t, 0.5)}.request(t))

	require.Equal(t, http.StatusOK, rec.Code)
	body := documentBody(t, rec.Body.Bytes())
	assert.Contains(t, body, "stub stub")
	assert.Contains(t, body, "en-US")
}

func TestConvertEmbedsFailureInDocument(t *testing.T) {
	s := newTestServer(t, allModels())

	rec := s.do(upload{filename: "clip.wav", data: toneWAV(t, 0.5), fields: map[string]string{"language": "french"}}.request(t))

	require.Equal(t, http.StatusOK, rec.Code)
	body := documentBody(t, rec.Body.Bytes())
	assert.Contains(t, body, "Transcription Failed: ")
	assert.Contains(t, body, "is not supported. Supported languages: spanish, english, auto")
	assertEmptyDir(t, s.uploadDir)
}

func TestConvertValidation(t *testing.T) {
	tests := []struct {
		name    string
		upload  upload
		wantErr string
	}{
		{
			name:    "missing file part",
			upload:  upload{omitFile: true, fields: map[string]string{"language": "auto"}},
			wantErr: "No audio file provided",
		},
		{
			name:    "empty filename",
			upload:  upload{filename: "", data: []byte("x")},
			wantErr: "No file selected",
		},
		{
			name:    "unsupported extension",
			upload:  upload{filename: "notes.txt", data: []byte("hello")},
			wantErr: "Unsupported file format: txt. Supported formats: mp3, wav, aac, m4a, ogg, flac, wma, mp4, webm",
		},
		{
			name:    "no extension",
			upload:  upload{filename: "recording", data: []byte("hello")},
			wantErr: "Unsupported file format: . Supported formats: mp3, wav, aac, m4a, ogg, flac, wma, mp4, webm",
		},
		{
			name:    "file over the limit",
			upload:  upload{filename: "big.wav", data: make([]byte, 1<<20+1)},
			wantErr: "File too large. Maximum size is 1MB. Please use a smaller audio file.",
		},
		{
			name:    "body over the limit",
			upload:  upload{filename: "huge.wav", data: make([]byte, 3<<20)},
			wantErr: "File too large. Maximum size is 1MB. Please use a smaller audio file.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, allModels())

			rec := s.do(tt.upload.request(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decode(t, rec)["error"])
			assertEmptyDir(t, s.uploadDir)
			assert.Empty(t, s.deps.Pipeline.GetAllJobs())
		})
	}
}

func TestFormatsAndHealth(t *testing.T) {
	s := newTestServer(t, allModels())

	formats := decode(t, s.get("/api/formats"))
	assert.Equal(t, []any{"mp3", "wav", "aac", "m4a", "ogg", "flac", "wma", "mp4", "webm"}, formats["formats"])
	assert.Equal(t, []any{"spanish", "english", "auto"}, formats["languages"])

	rec := s.get("/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"status":              "healthy",
		"service":             "audio-to-text-converter",
		"supported_formats":   float64(9),
		"supported_languages": float64(3),
	}, decode(t, rec))
}

func TestTestOffline(t *testing.T) {
	t.Run("silence counts as working", func(t *testing.T) {
		s := newTestServer(t, allModels())

		rec := s.get("/api/test-offline")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "Offline speech recognition is working", body["message"])
		assert.Equal(t, true, body["model_loaded"])
		assert.Equal(t, []string{config.LocaleEnglish}, s.deps.Models.Loaded())
	})

	t.Run("missing english model", func(t *testing.T) {
		s := newTestServer(t, map[string]string{config.LocaleSpanish: "es"})

		rec := s.get("/api/test-offline")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "error", body["status"])
		assert.True(t, strings.HasPrefix(body["message"].(string), "Failed to load English model: "))
	})
}

func TestJobDetailErrors(t *testing.T) {
	s := newTestServer(t, allModels())

	rec := s.get("/api/jobs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.get("/api/jobs/0b6f5f7e-3f1c-4c1e-9d8e-2f0d1c2b3a4f")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decode(t, rec)["error"])
}

func TestStatsAndMetrics(t *testing.T) {
	s := newTestServer(t, allModels())
	require.Equal(t, http.StatusOK, s.do(upload{filename: "a.wav", data: toneWAV(t, 0.5)}.request(t)).Code)

	stats := decode(t, s.get("/api/stats"))
	pipelineStats := stats["pipeline"].(map[string]any)
	assert.Equal(t, float64(1), pipelineStats["processed"])
	assert.Equal(t, float64(1), pipelineStats["succeeded"])
	recognition := stats["recognition"].(map[string]any)
	assert.Equal(t, float64(1), recognition["transcriptions"])
	assert.NotContains(t, recognition, "gate")
	assert.Equal(t, map[string]any{"engine": "stub", "loaded": []any{"en-US"}}, stats["models"])

	rec := s.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `transcriber_http_requests_total{endpoint="/api/convert",method="POST",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), "transcriber_reports_generated_total 1")
}

func TestStatsReportSilenceGate(t *testing.T) {
	gate, err := vad.NewProcessor(0.01, 500, 16000)
	require.NoError(t, err)
	s := newTestServer(t, allModels(), func(c *recognizer.EngineConfig) { c.SilenceGate = gate })

	require.Equal(t, http.StatusOK, s.do(upload{filename: "a.wav", data: toneWAV(t, 0.5)}.request(t)).Code)

	recognition := decode(t, s.get("/api/stats"))["recognition"].(map[string]any)
	require.Contains(t, recognition, "gate")
	gateStats := recognition["gate"].(map[string]any)
	assert.Equal(t, float64(16), gateStats["total_windows"])
	assert.Equal(t, float64(16), gateStats["voice_windows"])
	assert.Equal(t, float64(500), gateStats["window_size"])
	assert.Equal(t, float64(0), recognition["silence_rejects"])
}

func TestRecoveryReturnsGenericError(t *testing.T) {
	s := newTestServer(t, allModels())
	s.router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := s.get("/boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, decode(t, rec))
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, allModels())

	body := decode(t, s.get("/"))
	endpoints := body["endpoints"].(map[string]any)
	assert.Contains(t, endpoints, "POST /api/convert")
	assert.Contains(t, endpoints, "GET /metrics")
}
