package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/labextract/labextract/internal/config"
	"github.com/labextract/labextract/internal/domain/labreport"
	"github.com/labextract/labextract/internal/platform/blobstore"
	"github.com/labextract/labextract/internal/platform/labparse"
	"github.com/labextract/labextract/internal/platform/websocket"
)

const firstVisit = `Clinica Sante
Buletin nr. 240315-0042
Nume: POPESCU MARIA CNP: 2850312123456
Data recoltare: 12.03.2024 08:30
HEMATOLOGIE
Hemoglobina (HGB)
[11.5 - 16]
g/dL
10.6
Numar de leucocite (WBC)
[4 - 10]
x10^9/L
6.2`

const secondVisit = `Clinica Sante
Buletin nr. 240412-0007
Nume: POPESCU MARIA CNP: 2850312123456
Data recoltare: 10.04.2024 08:10
HEMATOLOGIE
Hemoglobina (HGB)
[11.5 - 16]
g/dL
12.4
Numar de leucocite (WBC)
[4 - 10]
x10^9/L
6.25`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// =========== CLI Commands ===========

func TestLabsCmd(t *testing.T) {
	out, err := execute(t, "labs")
	if err != nil {
		t.Fatalf("labs: %v", err)
	}
	if !strings.HasPrefix(out, "KEY") {
		t.Errorf("expected a header row, got %q", out)
	}
	if !strings.Contains(out, "clinica_sante") {
		t.Errorf("expected clinica_sante in the directory, got %q", out)
	}
}

func TestParseCmd_JSON(t *testing.T) {
	path := writeTemp(t, "buletin.txt", firstVisit)

	out, err := execute(t, "parse", path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var result labparse.ReportResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.Laboratory != "clinica_sante" {
		t.Errorf("expected clinica_sante, got %q", result.Laboratory)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if !result.Records[0].IsAbnormal || result.Records[0].AbnormalDirection != labparse.DirectionLow {
		t.Errorf("expected low hemoglobin, got %+v", result.Records[0])
	}
}

func TestParseCmd_Formats(t *testing.T) {
	path := writeTemp(t, "buletin.txt", firstVisit)

	tests := []struct {
		format string
		want   string
	}{
		{"rows", `"analyte_name": "Hemoglobina (HGB)"`},
		{"fhir", `"resourceType": "Bundle"`},
		{"hl7", "MSH|^~\\&|"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := execute(t, "parse", path, "--format", tt.format)
			if err != nil {
				t.Fatalf("parse --format %s: %v", tt.format, err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output, got:\n%s", tt.want, out)
			}
		})
	}
}

func TestParseCmd_HL7SegmentsOnLines(t *testing.T) {
	path := writeTemp(t, "buletin.txt", firstVisit)

	out, err := execute(t, "parse", path, "--format", "hl7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Contains(out, "\r") {
		t.Error("expected segments separated by newlines")
	}
	if n := strings.Count(out, "\nOBX|"); n != 2 {
		t.Errorf("expected 2 OBX segments, got %d", n)
	}
}

func TestParseCmd_Errors(t *testing.T) {
	path := writeTemp(t, "buletin.txt", firstVisit)

	if _, err := execute(t, "parse", path, "--format", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
	if _, err := execute(t, "parse", filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := execute(t, "parse"); err == nil {
		t.Error("expected an error without a file argument")
	}
}

func TestCompareCmd(t *testing.T) {
	prev := writeTemp(t, "martie.txt", firstVisit)
	cur := writeTemp(t, "aprilie.txt", secondVisit)

	out, err := execute(t, "compare", prev, cur)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	var comparisons []labparse.Comparison
	if err := json.Unmarshal([]byte(out), &comparisons); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	trends := map[string]labparse.Trend{}
	for _, c := range comparisons {
		trends[c.Name] = c.Trend
	}
	if trends["Hemoglobina (HGB)"] != labparse.TrendImproved {
		t.Errorf("expected hemoglobin improved, got %q", trends["Hemoglobina (HGB)"])
	}
	if trends["Numar de leucocite (WBC)"] != labparse.TrendStable {
		t.Errorf("expected leucocytes stable, got %q", trends["Numar de leucocite (WBC)"])
	}
}

func TestMigrationSource(t *testing.T) {
	embedded, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil || len(embedded) == 0 {
		t.Fatalf("expected embedded migrations, got %v (%v)", embedded, err)
	}

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "001_custom.sql"), []byte("SELECT 1;"), 0o600)
	custom, err := fs.Glob(migrationSource(dir), "*.sql")
	if err != nil || len(custom) != 1 || custom[0] != "001_custom.sql" {
		t.Errorf("expected the directory migrations, got %v (%v)", custom, err)
	}
}

// =========== Engine and Server Wiring ===========

func TestNewEngine_VocabularyFile(t *testing.T) {
	path := writeTemp(t, "vocab.yaml", "units:\n  - UFC/mL\ncategories:\n  - BACTERIOLOGIE\n")
	engine, err := newEngine(&config.Config{VocabularyFile: path, VerticalWindow: 8})
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	if engine.Options().VerticalWindow != 8 {
		t.Errorf("expected configured vertical window, got %d", engine.Options().VerticalWindow)
	}

	bad := writeTemp(t, "bad.yaml", "colours:\n  - red\n")
	if _, err := newEngine(&config.Config{VocabularyFile: bad}); err == nil {
		t.Error("expected an error for an unknown vocabulary key")
	}
	if _, err := newEngine(&config.Config{VocabularyFile: filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Error("expected an error for a missing vocabulary file")
	}
}

func TestOpenArchive(t *testing.T) {
	ctx := context.Background()
	archive, err := openArchive(ctx, &config.Config{})
	if err != nil || archive != nil {
		t.Fatalf("expected archiving disabled, got %v (%v)", archive, err)
	}

	dir := filepath.Join(t.TempDir(), "archive")
	archive, err = openArchive(ctx, &config.Config{ArchiveBackend: config.ArchiveDir, ArchiveDir: dir})
	if err != nil {
		t.Fatalf("openArchive: %v", err)
	}
	if _, ok := archive.(*blobstore.DirStore); !ok {
		t.Errorf("expected a directory store, got %T", archive)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected archive directory created: %v", err)
	}
}

func newTestServer(t *testing.T, env string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Env:            env,
		Store:          config.StoreSQLite,
		SQLitePath:     ":memory:",
		AuthSigningKey: "0123456789abcdef0123456789abcdef",
		CORSOrigins:    []string{"http://localhost:3000"},
	}
	ctx := context.Background()
	reports, checker, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(closeStore)

	engine, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	svc := labreport.NewService(reports, engine, zerolog.Nop())
	hub := websocket.NewHub(zerolog.Nop())
	svc.SetPublisher(hub)
	return newServer(cfg, svc, hub, checker, zerolog.Nop())
}

func TestNewServer_Health(t *testing.T) {
	srv := newTestServer(t, "production")

	for _, path := range []string{"/health", "/health/db"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("GET %s: expected a request id header", path)
		}
	}
}

func TestNewServer_RequiresTokenOutsideDevelopment(t *testing.T) {
	srv := newTestServer(t, "production")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/laboratories", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestNewServer_ImportAndFetch(t *testing.T) {
	srv := newTestServer(t, "development")

	body, _ := json.Marshal(map[string]string{"text": firstVisit})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-reports", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created labreport.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lab-reports/"+created.ID.String()+"/hl7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "MSH|") {
		t.Errorf("expected an HL7 message, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/lab-reports/"+created.ID.String()+"/forward", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a receiver, got %d", rec.Code)
	}
}

func TestNewServer_EventsRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, "production").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lab-reports/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	// Without an upgrade header the request reaches the WebSocket handler,
	// not the report lookup.
	rec = httptest.NewRecorder()
	newTestServer(t, "development").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lab-reports/events", nil))
	if rec.Code != http.StatusBadRequest || strings.Contains(rec.Body.String(), "invalid id") {
		t.Errorf("expected the upgrade failure, got %d: %s", rec.Code, rec.Body.String())
	}
}
