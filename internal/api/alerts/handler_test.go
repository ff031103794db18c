package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

type stubRunner struct {
	rows []pipeline.Row
	err  error
}

func (s *stubRunner) Run(ctx context.Context, rows []pipeline.Row, source string) (*pipeline.Report, error) {
	s.rows = rows
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Report{BatchID: "b1", Processed: len(rows)}, nil
}

func openTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProcessMultipartUpload(t *testing.T) {
	runner := &stubRunner{}
	h := NewHandler(runner, openTestStore(t))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "alerts.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("timestamp,event_type,ioc_type,ioc_value\n2026-02-01T09:00:00Z,port_scan,ip,198.51.100.7\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Process(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(runner.rows) != 1 || runner.rows[0].IOCValue != "198.51.100.7" {
		t.Errorf("runner rows = %+v", runner.rows)
	}
}

func TestProcessMultipartWithoutFileField(t *testing.T) {
	h := NewHandler(&stubRunner{}, openTestStore(t))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "not a file")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/process", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Process(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessRejectsBadHeader(t *testing.T) {
	h := NewHandler(&stubRunner{}, openTestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/process",
		bytes.NewReader([]byte("ip,score\n1.2.3.4,50\n")))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()

	h.Process(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("error code = %q", envelope.Error.Code)
	}
}

func TestPaginationDefaultsAndClamps(t *testing.T) {
	tests := []struct {
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"", 1, 50},
		{"?page=3&per_page=10", 3, 10},
		{"?page=0&per_page=0", 1, 50},
		{"?page=-2", 1, 50},
		{"?per_page=9999", 1, 50},
		{"?page=abc&per_page=xyz", 1, 50},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts"+tt.query, nil)
		page, perPage := pagination(req)
		if page != tt.wantPage || perPage != tt.wantPerPage {
			t.Errorf("pagination(%q) = (%d, %d), want (%d, %d)",
				tt.query, page, perPage, tt.wantPage, tt.wantPerPage)
		}
	}
}
