package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

func TestStatusOf(t *testing.T) {
	cases := map[*errcode.Error]int{
		errcode.ErrUnauthorizedAgent:    http.StatusForbidden,
		errcode.ErrUnauthorizedOwner:    http.StatusForbidden,
		errcode.ErrUnauthenticated:      http.StatusUnauthorized,
		errcode.ErrPositionPaused:       http.StatusConflict,
		errcode.ErrPositionClosed:       http.StatusConflict,
		errcode.ErrPositionNotPaused:    http.StatusConflict,
		errcode.ErrMaxPositionsExceeded: http.StatusConflict,
		errcode.ErrHealthFactorHealthy:  http.StatusConflict,
		errcode.ErrRebalanceCooldown:    http.StatusTooManyRequests,
		errcode.ErrInvalidHealthFactor:  http.StatusBadRequest,
		errcode.ErrInvalidThresholds:    http.StatusBadRequest,
		errcode.ErrInvalidProtocol:      http.StatusBadRequest,
		errcode.ErrInvalidArgument:      http.StatusBadRequest,
		errcode.ErrNotFound:             http.StatusNotFound,
		errcode.ErrAlreadyExists:        http.StatusConflict,
		errcode.ErrArithmeticOverflow:   http.StatusInternalServerError,
	}
	for e, want := range cases {
		assert.Equal(t, want, statusOf(e), e.Code)
	}
}

func TestWriteErrorForeign(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("connection reset"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error","code":"Internal"}`, w.Body.String())

	w = httptest.NewRecorder()
	writeError(w, fmt.Errorf("load: %w", errcode.ErrPositionPaused))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"Position is currently paused","code":"PositionPaused","number":6002}`, w.Body.String())
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	l.clockNow = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	now = now.Add(10 * time.Minute)
	assert.True(t, l.allow("b"))
	assert.NotContains(t, l.visitors, "a")
	assert.Contains(t, l.visitors, "b")
}

func TestCallerContext(t *testing.T) {
	_, ok := CallerFrom(httptest.NewRequest("GET", "/", nil).Context())
	assert.False(t, ok)

	ctx := WithCaller(httptest.NewRequest("GET", "/", nil).Context(), model.Address{5})
	got, ok := CallerFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, model.Address{5}, got)
}
