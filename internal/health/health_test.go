package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkruczek/vetsono/pkg/provider/llm"
	llmmock "github.com/pkruczek/vetsono/pkg/provider/llm/mock"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "database", Check: func(context.Context) error { return nil }},
		Checker{Name: "whisper", Check: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Checks["database"] != "ok" || body.Checks["whisper"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "database", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "whisper", Check: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if !strings.Contains(body.Checks["database"], "connection refused") {
		t.Errorf("database check = %q", body.Checks["database"])
	}
	if body.Checks["whisper"] != "ok" {
		t.Errorf("whisper check = %q", body.Checks["whisper"])
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestDatabaseChecker(t *testing.T) {
	if err := Database(fakePinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}
	err := Database(fakePinger{err: errors.New("down")}).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("failing ping: %v", err)
	}
}

func TestWhisperBinaryChecker(t *testing.T) {
	dir := t.TempDir()

	bin := filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WhisperBinary(bin).Check(context.Background()); err != nil {
		t.Errorf("executable binary: %v", err)
	}

	plain := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(plain, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WhisperBinary(plain).Check(context.Background()); err == nil {
		t.Error("non-executable file: want error")
	}
	if err := WhisperBinary(filepath.Join(dir, "missing")).Check(context.Background()); err == nil {
		t.Error("missing file: want error")
	}
	if err := WhisperBinary(dir).Check(context.Background()); err == nil {
		t.Error("directory: want error")
	}
}

func TestLLMChecker(t *testing.T) {
	p := &llmmock.Provider{
		Responses: []*llm.CompletionResponse{{Content: "{}", FinishReason: llm.FinishStop}},
	}
	if err := LLM(p).Check(context.Background()); err != nil {
		t.Errorf("healthy provider: %v", err)
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz via mux: status = %d", rec.Code)
	}
}
