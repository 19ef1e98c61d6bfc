package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// dummyHandler records the context it received and replies with a fixed status.
type dummyHandler struct {
	status int
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.ctx = r.Context()
	if d.status != 0 {
		w.WriteHeader(d.status)
	}
	_, _ = w.Write([]byte("ok"))
}

func TestWithRequestLogging_AssignsID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dummy := &dummyHandler{}
	h := WithRequestLogging(zap.New(core))(dummy)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/students", nil))

	id := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("response id %q is not a uuid", id)
	}
	if got := RequestIDFromContext(dummy.ctx); got != id {
		t.Errorf("context id = %q; want %q", got, id)
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/students" || fields["method"] != http.MethodGet {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["status"] != int64(http.StatusOK) {
		t.Errorf("status field = %v; want 200", fields["status"])
	}
	if fields["bytes"] != int64(2) {
		t.Errorf("bytes field = %v; want 2", fields["bytes"])
	}
}

func TestWithRequestLogging_ReusesIncomingID(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	h := WithRequestLogging(zap.New(core))(&dummyHandler{})

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Errorf("id = %q; want %q", got, incoming)
	}
}

func TestWithRequestLogging_ReplacesGarbageID(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	h := WithRequestLogging(zap.New(core))(&dummyHandler{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got == "<script>" {
		t.Error("garbage request id was echoed back")
	}
}

func TestWithRequestLogging_ServerErrorsAreWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := WithRequestLogging(zap.New(core))(&dummyHandler{status: http.StatusInternalServerError})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/students/all", nil))

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning, got %v", logs.All())
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}
