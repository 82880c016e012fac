package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/shootpoints/internal/db"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodPost, "/api/sites", map[string]string{"name": "Tell Dor"})
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"name":"Tell Dor"}` {
		t.Errorf("body = %s", body)
	}

	empty := NewJSONRequest(t, http.MethodGet, "/api/state", nil)
	if empty.Header.Get("Content-Type") != "" {
		t.Error("a request without a body should carry no content type")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rec.WriteString(`{"id":3,"name":"Architecture"}`)
	c := DecodeJSON[db.Class](t, rec)
	if c.ID != 3 || c.Name != "Architecture" {
		t.Errorf("decoded %+v", c)
	}
}

func TestOpenTestDB(t *testing.T) {
	t.Parallel()

	store := OpenTestDB(t)
	n, err := store.CountSites(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("sites = %d, want 0", n)
	}
}
