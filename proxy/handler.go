package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"claude-gateway/adapter"
	"claude-gateway/config"
	"claude-gateway/directive"
	"claude-gateway/internal"
	"claude-gateway/logger"
	"claude-gateway/types"
	"claude-gateway/upstream"
)

// Handler serves the Messages surface. Requests are single-shot and
// stateless; the only shared state is the upstream client's connection
// pool and the process-wide configuration, both read-only after startup.
type Handler struct {
	cfg    *config.Config
	client *upstream.Client
}

// NewHandler wires the handler to its collaborators.
func NewHandler(cfg *config.Config, client *upstream.Client) *Handler {
	return &Handler{cfg: cfg, client: client}
}

// HandleMessages implements POST /v1/messages.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()[:8]
	ctx := internal.WithRequestID(r.Context(), requestID)
	r = r.WithContext(ctx)
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, log, badRequestError("failed to read request body: %v", err))
		return
	}
	defer r.Body.Close()

	var req types.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, log, badRequestError("invalid request JSON: %v", err))
		return
	}

	if err := types.ValidateRequest(&req); err != nil {
		requestsTotal.WithLabelValues(mode(req.Stream), "rejected").Inc()
		writeError(w, log, err)
		return
	}

	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		writeError(w, log, missingAPIKeyError())
		return
	}

	settings, err := directive.Process(&req, h.cfg.LimitDirectiveToClaudeMd)
	if err != nil {
		requestsTotal.WithLabelValues(mode(req.Stream), "rejected").Inc()
		writeError(w, log, err)
		return
	}

	targetModel := h.routeModel(req.Model)
	log.WithModel(targetModel).Info("handling request: stream=%v, tools=%d", req.Stream, len(req.Tools))

	pipe := adapter.ForModel(targetModel, &settings, h.cfg)
	chatReq, err := ConvertRequest(&req, targetModel, pipe)
	if err != nil {
		requestsTotal.WithLabelValues(mode(req.Stream), "rejected").Inc()
		writeError(w, log, err)
		return
	}

	var upstreamBody []byte
	if pipe.ResponsesEnabled() {
		upstreamBody, err = buildResponsesBody(chatReq, pipe.ResponsesSettings())
	} else {
		upstreamBody, err = json.Marshal(chatReq)
	}
	if err != nil {
		writeError(w, log, internalError("failed to build upstream request: %v", err))
		return
	}

	if req.Stream {
		h.handleStreaming(w, r, &req, targetModel, pipe, upstreamBody, apiKey, log)
		return
	}

	resp, err := h.client.Post(ctx, pipe.EndpointSuffix(), apiKey, upstreamBody)
	if err != nil {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("non_stream", "upstream_error").Inc()
		writeError(w, log, upstreamTransportError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("non_stream", "upstream_error").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		writeError(w, log, upstreamProtocolError(resp.StatusCode, string(errBody)))
		return
	}

	h.handleNonStreaming(w, &req, targetModel, pipe, resp.Body, log)
}

// routeModel maps haiku-class model names to the configured background
// model; everything else passes through.
func (h *Handler) routeModel(model string) string {
	if strings.Contains(strings.ToLower(model), "haiku") {
		return h.cfg.HaikuModel
	}
	return model
}

func mode(stream bool) string {
	if stream {
		return "stream"
	}
	return "non_stream"
}

// handleStreaming owns the whole SSE path. The client stream opens and
// message_start goes out BEFORE the upstream request, hiding upstream
// first-byte latency; consequently upstream failures past this point
// degrade into a clean in-stream termination rather than an HTTP error.
func (h *Handler) handleStreaming(w http.ResponseWriter, r *http.Request, req *types.MessagesRequest, clientModel string, pipe *adapter.Pipeline, upstreamBody []byte, apiKey string, log logger.Logger) {
	toolNames := make([]string, len(req.Tools))
	for i, tool := range req.Tools {
		toolNames[i] = tool.Name
	}
	translator := newStreamTranslator(MintMessageID(), clientModel, pipe.SimulatedToolMode(), toolNames)

	writer := startStream(w)
	if err := writer.writeEvents(translator.Start()); err != nil {
		return
	}

	resp, err := h.client.Post(r.Context(), pipe.EndpointSuffix(), apiKey, upstreamBody)
	if err != nil {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("stream", "upstream_error").Inc()
		events := translator.Finish()
		events = append(events, errorStreamEvent(upstreamTransportError(err).Message))
		_ = writer.writeEvents(events)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("stream", "upstream_error").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		events := translator.Finish()
		events = append(events, errorStreamEvent(upstreamProtocolError(resp.StatusCode, string(errBody)).Message))
		_ = writer.writeEvents(events)
		return
	}

	decode := chatDecode
	if pipe.ResponsesEnabled() {
		decode = newResponsesDecoder(clientModel)
	}
	pumpStream(r.Context(), resp.Body, writer, translator, decode, h.cfg.IdleConnectionTimeout, log)
	requestsTotal.WithLabelValues("stream", "ok").Inc()
}

func (h *Handler) handleNonStreaming(w http.ResponseWriter, req *types.MessagesRequest, clientModel string, pipe *adapter.Pipeline, upstreamBody io.Reader, log logger.Logger) {
	raw, err := io.ReadAll(upstreamBody)
	if err != nil {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("non_stream", "upstream_error").Inc()
		writeError(w, log, upstreamTransportError(err))
		return
	}

	var chatResp *types.ChatResponse
	if pipe.ResponsesEnabled() {
		chatResp, err = normalizeResponsesJSON(raw)
	} else {
		chatResp = &types.ChatResponse{}
		if jsonErr := json.Unmarshal(raw, chatResp); jsonErr != nil {
			err = upstreamProtocolError(200, "unparsable upstream response: "+jsonErr.Error())
		}
	}
	if err != nil {
		upstreamErrorsTotal.Inc()
		requestsTotal.WithLabelValues("non_stream", "upstream_error").Inc()
		writeError(w, log, err)
		return
	}

	claudeResp, err := ConvertResponse(chatResp, clientModel, req, pipe)
	if err != nil {
		requestsTotal.WithLabelValues("non_stream", "upstream_error").Inc()
		writeError(w, log, err)
		return
	}

	requestsTotal.WithLabelValues("non_stream", "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(claudeResp); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}

// HandleCountTokens implements POST /v1/messages/count_tokens with a
// conservative local estimate; nothing is sent upstream.
func (h *Handler) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID := uuid.NewString()[:8]
	log := logger.FromContext(internal.WithRequestID(r.Context(), requestID))

	var req types.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, badRequestError("invalid request JSON: %v", err))
		return
	}
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.CountTokensResponse{
		InputTokens: estimateInputTokens(&req),
	})
}
