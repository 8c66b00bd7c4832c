package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/herald-labs/herald/internal/token"
)

type fakeDeliverer struct {
	result   *ForwardResult
	err      error
	attempts int
}

func (d *fakeDeliverer) Deliver(ctx context.Context, n Notification, dev DeviceDescriptor) (*ForwardResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.attempts++
	return d.result, nil
}

type fakeUsage struct {
	increments []string
}

func (u *fakeUsage) IncrementUsage(ctx context.Context, tokenID string) error {
	u.increments = append(u.increments, tokenID)
	return nil
}

func forwardBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(ForwardRequest{
		Notification: Notification{Title: "deploy done", Body: "build 42 is live"},
		Device:       DeviceDescriptor{Platform: "ios", PushToken: "apns-token"},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func serveForward(deliverer Deliverer, usage UsageRecorder, body *bytes.Reader, tok *token.Token) *httptest.ResponseRecorder {
	handler := NewHandler(slog.Default(), deliverer, usage)
	router := chi.NewRouter()
	handler.MountRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/relay/forward", body)
	if tok != nil {
		req = req.WithContext(token.ContextWithToken(req.Context(), tok))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestForwardChargesUsageOnAttempt(t *testing.T) {
	deliverer := &fakeDeliverer{result: &ForwardResult{Delivered: true}}
	usage := &fakeUsage{}
	tok := &token.Token{ID: "tok-1"}

	rec := serveForward(deliverer, usage, forwardBody(t), tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, deliverer.attempts)
	require.Equal(t, []string{"tok-1"}, usage.increments)

	var result ForwardResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Delivered)
}

func TestForwardChargesUsageOnFailedAttempt(t *testing.T) {
	deliverer := &fakeDeliverer{result: &ForwardResult{Delivered: false, Detail: "device token rejected"}}
	usage := &fakeUsage{}

	rec := serveForward(deliverer, usage, forwardBody(t), &token.Token{ID: "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"tok-1"}, usage.increments, "a failed attempt is still an attempt")
}

func TestForwardTransportFailureChargesNothing(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("provider connection refused")}
	usage := &fakeUsage{}

	rec := serveForward(deliverer, usage, forwardBody(t), &token.Token{ID: "tok-1"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Empty(t, usage.increments)
	require.NotContains(t, rec.Body.String(), "connection refused", "internal errors must not leak to the relaying side")
}

func TestForwardRejectsInvalidBody(t *testing.T) {
	deliverer := &fakeDeliverer{result: &ForwardResult{Delivered: true}}
	usage := &fakeUsage{}

	body, err := json.Marshal(ForwardRequest{
		Notification: Notification{Title: "no device"},
		Device:       DeviceDescriptor{Platform: "pager", PushToken: "x"},
	})
	require.NoError(t, err)

	rec := serveForward(deliverer, usage, bytes.NewReader(body), &token.Token{ID: "tok-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, deliverer.attempts)
	require.Empty(t, usage.increments)
}
