package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snehjoshi/replq/internal/broker"
	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/journal"
	"github.com/snehjoshi/replq/internal/queue"
	"github.com/snehjoshi/replq/internal/registry"
	"github.com/snehjoshi/replq/internal/replication"
)

// defaultFailuresLimit caps GET /replication/failures without ?limit.
const defaultFailuresLimit = 100

// validName returns true when name is usable as a queue name in a URL path.
func validName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return false
	}
	return s != "." && s != ".."
}

// Handler groups all HTTP request handlers around a Broker.
type Handler struct {
	broker *broker.Broker
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type createQueueReq struct {
	Spec   string `json:"spec"`   // "" = configured default
	Slaves *int   `json:"slaves"` // nil = configured default
}

type pushReq struct {
	Body string `json:"body"` // base64-encoded
}

type popResp struct {
	Body string `json:"body"` // base64
}

type queueListResp struct {
	Queues []broker.QueueInfo `json:"queues"`
}

type slaveNameResp struct {
	Name string `json:"name"`
}

type failuresResp struct {
	Failures []journal.Record `json:"failures"`
}

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Queues   int    `json:"queues"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

// ─── Health / stats ───────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats := h.broker.Stats()
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		NodeID:   h.broker.NodeID(),
		Queues:   stats.QueueCount,
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Stats())
}

// ─── Queues ───────────────────────────────────────────────────────────────────

func (h *Handler) createQueue(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}

	var req createQueueReq
	if !decodeJSON(w, r, &req) {
		return
	}
	args := h.broker.DefaultCreationArgs()
	if req.Spec != "" {
		args.Spec = command.Spec(req.Spec)
	}
	if req.Slaves != nil {
		args.Slaves = *req.Slaves
	}

	info, err := h.broker.CreateQueue(r.Context(), name, args)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queueListResp{Queues: h.broker.ListQueues()})
}

func (h *Handler) queueInfo(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}
	info, err := h.broker.Info(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) slaveName(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "slave index must be an integer"})
		return
	}
	slave, err := h.broker.SlaveName(name, idx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, slaveNameResp{Name: slave})
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) pushMessage(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}
	var req pushReq
	if !decodeJSON(w, r, &req) {
		return
	}
	body, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be base64: " + err.Error()})
		return
	}
	if err := h.broker.Push(r.Context(), name, body); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "queued"})
}

func (h *Handler) popMessage(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r)
	if !ok {
		return
	}
	body, err := h.broker.Pop(r.Context(), name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, popResp{Body: base64.StdEncoding.EncodeToString(body)})
}

// ─── Replication ──────────────────────────────────────────────────────────────

func (h *Handler) failures(w http.ResponseWriter, r *http.Request) {
	recs, err := h.broker.Failures(parseIntParam(r, "limit", defaultFailuresLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, failuresResp{Failures: recs})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// statusFor maps broker errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, queue.ErrEmptyQueue):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrOutOfRange),
		errors.Is(err, queue.ErrInvalidConfiguration),
		errors.Is(err, registry.ErrNoFactory),
		errors.Is(err, broker.ErrNotMaster):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrUnsupportedOperation), errors.Is(err, registry.ErrExists):
		return http.StatusConflict
	case errors.Is(err, replication.ErrReplicationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, replication.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, replication.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if !validName(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid queue name"})
		return "", false
	}
	return name, true
}

func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// decodeJSON decodes the request body into v. An empty body leaves v at its
// zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
