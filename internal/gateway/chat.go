package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// maxRequestBody bounds how much of a request body is read before parsing.
const maxRequestBody = 10 << 20

// chatRequest is the subset of an OpenAI chat-completion request the
// front end validates; everything else passes through untouched.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// errorBody is the OpenAI-style error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Trace   []attemptDetail `json:"trace,omitempty"`
}

type attemptDetail struct {
	Model  string `json:"model"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

// handleChatCompletions validates the request, resolves it through the
// router under the per-request timeout, and renders either the backend's
// response verbatim or an OpenAI-style error object.
func (g *Gateway) handleChatCompletions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		g.counters.RecordRequest()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			g.writeError(w, requestID, catalog.ErrBadRequest, "reading request body failed", nil)
			return
		}

		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			g.writeError(w, requestID, catalog.ErrBadRequest, "request body is not valid JSON", nil)
			return
		}
		if req.Model == "" {
			g.writeError(w, requestID, catalog.ErrBadRequest, "model is required", nil)
			return
		}
		if len(req.Messages) == 0 || string(req.Messages) == "null" || string(req.Messages) == "[]" {
			g.writeError(w, requestID, catalog.ErrBadRequest, "messages is required", nil)
			return
		}
		if req.Stream {
			// Refused before a job is ever enqueued.
			writeJSON(w, http.StatusNotImplemented, errorBody{Error: errorDetail{
				Message: "streaming is not supported",
				Type:    "invalid_request_error",
				Code:    "stream_not_supported",
			}})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout())
		defer cancel()

		start := time.Now()
		res := g.router.Resolve(ctx, req.Model, body)
		g.recordResult(requestID, res)

		if res.Error != "" {
			message := "request failed: " + string(res.Error)
			var trace []attemptDetail
			if strings.HasPrefix(req.Model, "route:") {
				// Fallback is never silent: route calls carry the full
				// attempt list in the error payload.
				trace = attemptDetails(res.Trace)
			}
			g.logger.Warn("chat completion failed",
				"request_id", requestID, "model", req.Model,
				"error", res.Error, "elapsed", time.Since(start).Truncate(time.Millisecond))
			g.writeError(w, requestID, res.Error, message, trace)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(res.ResponseBody)
	}
}

// handleListModels renders the registry snapshot in the OpenAI list
// shape. Provider ids never leak: owned_by is always the gateway.
func (g *Gateway) handleListModels() http.HandlerFunc {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	type modelList struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := g.registry.Snapshot()
		ids := make([]string, 0, len(snap.ModelToProvider))
		for id := range snap.ModelToProvider {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		list := modelList{Object: "list", Data: make([]modelEntry, 0, len(ids))}
		for _, id := range ids {
			list.Data = append(list.Data, modelEntry{ID: id, Object: "model", OwnedBy: "gatewayd"})
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func attemptDetails(trace []catalog.Attempt) []attemptDetail {
	out := make([]attemptDetail, 0, len(trace))
	for _, a := range trace {
		d := attemptDetail{Model: a.Model}
		if a.Error != "" {
			d.Error = string(a.Error)
		} else {
			d.Status = "done"
		}
		out = append(out, d)
	}
	return out
}

func (g *Gateway) writeError(w http.ResponseWriter, requestID string, kind catalog.NormalizedError, message string, trace []attemptDetail) {
	errType := "api_error"
	if kind == catalog.ErrBadRequest || kind == catalog.ErrNotFound || kind == catalog.ErrContextLength {
		errType = "invalid_request_error"
	}
	w.Header().Set("X-Request-Id", requestID)
	writeJSON(w, kind.HTTPStatus(), errorBody{Error: errorDetail{
		Message: message,
		Type:    errType,
		Code:    string(kind),
		Trace:   trace,
	}})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
