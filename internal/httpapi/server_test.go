package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	if got, err := parsePositiveInt("", 25, 1, 200); err != nil || got != 25 {
		t.Fatalf("empty should use default, got %d err %v", got, err)
	}
	if got, err := parsePositiveInt(" 50 ", 25, 1, 200); err != nil || got != 50 {
		t.Fatalf("expected 50, got %d err %v", got, err)
	}
	if _, err := parsePositiveInt("0", 25, 1, 200); err == nil {
		t.Fatalf("expected range error for 0")
	}
	if _, err := parsePositiveInt("abc", 25, 1, 200); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseScoreFilter(t *testing.T) {
	t.Parallel()

	if got, err := parseScoreFilter(""); err != nil || got != 0 {
		t.Fatalf("empty should be 0, got %v err %v", got, err)
	}
	if got, err := parseScoreFilter("0.75"); err != nil || got != 0.75 {
		t.Fatalf("expected 0.75, got %v err %v", got, err)
	}
	if _, err := parseScoreFilter("1.5"); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := parseScoreFilter("high"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvelopeShapes(t *testing.T) {
	t.Parallel()

	newCtx := func() (echo.Context, *httptest.ResponseRecorder) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return echo.New().NewContext(req, rec), rec
	}
	decode := func(t *testing.T, rec *httptest.ResponseRecorder) envelope {
		t.Helper()
		var env envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env
	}

	c, rec := newCtx()
	if err := success(c, map[string]string{"ok": "yes"}); err != nil {
		t.Fatalf("success: %v", err)
	}
	if env := decode(t, rec); rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("success envelope = %d %q", rec.Code, env.Status)
	}

	c, rec = newCtx()
	if err := failValidation(c, map[string]string{"scope": "bad"}); err != nil {
		t.Fatalf("failValidation: %v", err)
	}
	if env := decode(t, rec); rec.Code != http.StatusBadRequest || env.Status != "fail" || env.Message != "Validation failed" {
		t.Fatalf("fail envelope = %d %q %q", rec.Code, env.Status, env.Message)
	}

	c, rec = newCtx()
	if err := internalError(c, "boom"); err != nil {
		t.Fatalf("internalError: %v", err)
	}
	if env := decode(t, rec); rec.Code != http.StatusInternalServerError || env.Status != "error" || env.Code != http.StatusInternalServerError {
		t.Fatalf("error envelope = %d %+v", rec.Code, env)
	}
}
