// Package api exposes the ledger over HTTP. Mutating routes are signed with
// ed25519; the verified signer is the caller the ledger authorizes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/ledger"
	"github.com/solshield/ledger/internal/metrics"
	"github.com/solshield/ledger/internal/model"
)

// Handler serves the ledger operations.
type Handler struct {
	ledger  *ledger.Service
	auth    *Authenticator
	limiter *RateLimiter
	wsHub   *WSHub // optional
}

// NewHandler creates the HTTP handler set. Pass nil for hub if event
// broadcasting is not needed, and nil for limiter to disable throttling.
func NewHandler(svc *ledger.Service, auth *Authenticator, limiter *RateLimiter, hub *WSHub) *Handler {
	return &Handler{
		ledger:  svc,
		auth:    auth,
		limiter: limiter,
		wsHub:   hub,
	}
}

// Routes mounts the /api/v1 surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.wsHub != nil {
			r.Get("/ws", h.wsHub.HandleWS)
		}

		r.Get("/protocol", h.GetProtocol)
		r.Get("/positions/{address}", h.GetPosition)
		r.Get("/positions/{address}/rebalances", h.ListRebalances)
		r.Get("/positions/{address}/rebalances/{ordinal}", h.GetRebalance)
		r.Get("/owners/{owner}/stats", h.GetOwnerStats)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Use(h.limiter.Middleware)

			r.Post("/protocol", h.Initialize)
			r.Post("/positions", h.RegisterPosition)
			r.Delete("/positions/{address}", h.ClosePosition)
			r.Post("/positions/{address}/pause", h.PausePosition)
			r.Post("/positions/{address}/resume", h.ResumePosition)
			r.Post("/positions/{address}/health", h.UpdateHealth)
			r.Post("/positions/{address}/rebalances", h.RecordRebalance)
		})
	})
}

// --- Mutations ---

// Initialize handles POST /api/v1/protocol
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req model.ConfigParams
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	cfg, err := h.ledger.Initialize(r.Context(), caller(r), req)
	metrics.ObserveOperation("initialize", codeOf(err), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// RegisterPosition handles POST /api/v1/positions
func (h *Handler) RegisterPosition(w http.ResponseWriter, r *http.Request) {
	var req ledger.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	p, err := h.ledger.RegisterPosition(r.Context(), caller(r), req)
	metrics.ObserveOperation("register_position", codeOf(err), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}
	h.refreshPositionGauge(r.Context())
	h.publish(EventPositionRegistered, p, "")

	w.Header().Set("Location", "/api/v1/positions/"+p.Address.String())
	writeJSON(w, http.StatusCreated, positionView(p))
}

// UpdateHealth handles POST /api/v1/positions/{address}/health
func (h *Handler) UpdateHealth(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req ledger.HealthInput
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	up, err := h.ledger.UpdateHealth(r.Context(), caller(r), addr, req)
	metrics.ObserveOperation("update_health", codeOf(err), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}

	p := up.Position
	h.publish(EventHealthUpdated, p, up.PreviousStatus.String())
	if p.Status != up.PreviousStatus {
		metrics.StatusTransitions.WithLabelValues(up.PreviousStatus.String(), p.Status.String()).Inc()
		h.publish(EventStatusChanged, p, up.PreviousStatus.String())
	}
	writeJSON(w, http.StatusOK, HealthUpdateResponse{
		Position:       positionView(p),
		PreviousStatus: up.PreviousStatus,
	})
}

// RecordRebalance handles POST /api/v1/positions/{address}/rebalances
func (h *Handler) RecordRebalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req ledger.RebalanceRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := h.ledger.RecordRebalance(r.Context(), caller(r), addr, req)
	metrics.ObserveOperation("record_rebalance", codeOf(err), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RebalancesTotal.WithLabelValues(req.Action.String()).Inc()
	if h.wsHub != nil {
		ord := res.Record.Ordinal
		h.wsHub.Broadcast(WSMessage{
			Type:         EventRebalanceRecorded,
			Position:     res.Position.Address.String(),
			Owner:        res.Position.Owner.String(),
			Status:       res.Position.Status.String(),
			HealthFactor: res.Record.HealthBefore,
			HealthRatio:  model.HealthRatio(res.Record.HealthBefore).String(),
			Ordinal:      &ord,
			Action:       req.Action.String(),
			Timestamp:    res.Record.Timestamp,
		})
	}
	writeJSON(w, http.StatusCreated, RebalanceResponse{
		Record:   rebalanceView(res.Record),
		Position: positionView(res.Position),
		Fee:      res.Fee,
	})
}

// PausePosition handles POST /api/v1/positions/{address}/pause
func (h *Handler) PausePosition(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "pause_position", EventPositionPaused, h.ledger.PausePosition)
}

// ResumePosition handles POST /api/v1/positions/{address}/resume
func (h *Handler) ResumePosition(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "resume_position", EventPositionResumed, h.ledger.ResumePosition)
}

// ClosePosition handles DELETE /api/v1/positions/{address}
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "close_position", EventPositionClosed, h.ledger.ClosePosition)
}

type ownerOp func(ctx context.Context, owner, position model.Address) (*ledger.OwnerUpdate, error)

func (h *Handler) ownerAction(w http.ResponseWriter, r *http.Request, op, event string, fn ownerOp) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}

	start := time.Now()
	up, err := fn(r.Context(), caller(r), addr)
	metrics.ObserveOperation(op, codeOf(err), time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}

	p := up.Position
	metrics.StatusTransitions.WithLabelValues(up.PreviousStatus.String(), p.Status.String()).Inc()
	if p.Status == model.StatusClosed {
		h.refreshPositionGauge(r.Context())
	}
	h.publish(event, p, up.PreviousStatus.String())
	writeJSON(w, http.StatusOK, positionView(p))
}

// --- Reads ---

// GetProtocol handles GET /api/v1/protocol
func (h *Handler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.ledger.Protocol(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetPosition handles GET /api/v1/positions/{address}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	p, err := h.ledger.Position(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(p))
}

// GetRebalance handles GET /api/v1/positions/{address}/rebalances/{ordinal}
func (h *Handler) GetRebalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	ord, err := strconv.ParseUint(chi.URLParam(r, "ordinal"), 10, 32)
	if err != nil {
		writeError(w, errcode.ErrInvalidArgument.Withf("invalid ordinal: %v", err))
		return
	}
	rec, err := h.ledger.Rebalance(r.Context(), addr, uint32(ord))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceView(rec))
}

// ListRebalances handles GET /api/v1/positions/{address}/rebalances
// Supports ?from=<ordinal>&limit=<n>.
func (h *Handler) ListRebalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	q := r.URL.Query()
	var from uint64
	if v := q.Get("from"); v != "" {
		var err error
		if from, err = strconv.ParseUint(v, 10, 32); err != nil {
			writeError(w, errcode.ErrInvalidArgument.Withf("invalid from: %v", err))
			return
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, errcode.ErrInvalidArgument.Withf("invalid limit %q", v))
			return
		}
		limit = n
	}

	recs, err := h.ledger.Rebalances(r.Context(), addr, uint32(from), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := RebalanceList{
		Position: addr.String(),
		Records:  make([]RebalanceView, 0, len(recs)),
	}
	for _, rec := range recs {
		out.Records = append(out.Records, rebalanceView(rec))
	}
	// A full page may have more behind it.
	if len(recs) == ledger.RebalancePageSize(limit) {
		next := recs[len(recs)-1].Ordinal + 1
		out.Next = &next
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOwnerStats handles GET /api/v1/owners/{owner}/stats
func (h *Handler) GetOwnerStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	stats, err := h.ledger.OwnerStats(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

// publish broadcasts a position event. prev is empty when unknown.
func (h *Handler) publish(event string, p *model.Position, prev string) {
	if h.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:           event,
		Position:       p.Address.String(),
		Owner:          p.Owner.String(),
		Status:         p.Status.String(),
		HealthFactor:   p.HealthFactor,
		HealthRatio:    model.HealthRatio(p.HealthFactor).String(),
		PreviousStatus: prev,
		Timestamp:      time.Now().Unix(),
	}
	h.wsHub.Broadcast(msg)
}

// refreshPositionGauge syncs the registered-positions gauge with the
// protocol counter.
func (h *Handler) refreshPositionGauge(ctx context.Context) {
	cfg, err := h.ledger.Protocol(ctx)
	if err != nil {
		return
	}
	metrics.PositionsRegistered.Set(float64(cfg.TotalPositions))
}

func caller(r *http.Request) model.Address {
	c, _ := CallerFrom(r.Context())
	return c
}

func codeOf(err error) string {
	return string(errcode.CodeOf(err))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if isProtocolError(err) {
			writeError(w, errcode.ErrInvalidProtocol.Withf("invalid request body: %v", err))
		} else {
			writeError(w, errcode.ErrInvalidArgument.Withf("invalid request body: %v", err))
		}
		return false
	}
	return true
}

// isProtocolError reports whether a decode failure came from a lending
// protocol field, either an unknown name or a value of the wrong JSON type.
func isProtocolError(err error) bool {
	if errors.Is(err, model.ErrUnknownProtocol) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr) && typeErr.Type == reflect.TypeOf(model.DeFiProtocol(0))
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (model.Address, bool) {
	addr, err := model.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		writeError(w, errcode.ErrInvalidArgument.Withf("invalid %s: %v", name, err))
		return model.Address{}, false
	}
	return addr, true
}
