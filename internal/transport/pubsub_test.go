package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miradorstack/mirador-aiops/internal/utils"
)

func pushBody(t *testing.T, data []byte) *bytes.Reader {
	t.Helper()
	var envelope pushEnvelope
	envelope.Message.Data = data
	envelope.Message.MessageID = "42"
	envelope.Subscription = "projects/p/subscriptions/aiops-rca"
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return bytes.NewReader(body)
}

func TestPushHandlerAcksOnSuccess(t *testing.T) {
	var got string
	h := PushHandler(utils.DiscardLogger(), func(_ context.Context, data []byte) error {
		got = string(data)
		return nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/push", pushBody(t, []byte(`{"resource_id":"i-abc"}`))))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got != `{"resource_id":"i-abc"}` {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestPushHandlerNacksOnError(t *testing.T) {
	h := PushHandler(utils.DiscardLogger(), func(context.Context, []byte) error { return errors.New("store down") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/push", pushBody(t, []byte(`{}`))))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPushHandlerRejectsBadEnvelope(t *testing.T) {
	h := PushHandler(utils.DiscardLogger(), func(context.Context, []byte) error { return nil })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/push", bytes.NewReader([]byte("nope"))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
