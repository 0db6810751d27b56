// Package api provides the HTTP API for lnlab.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// =============================================================================
// Handler
// =============================================================================

// Defaults are applied to create requests that omit node counts.
type Defaults struct {
	BitcoinNodes   int
	LightningNodes int
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	orch     *orchestrator.Orchestrator
	defaults Defaults
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, defaults Defaults, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		orch:     orch,
		defaults: defaults,
		logger:   l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/networks", func(r chi.Router) {
			r.Get("/", h.handleListNetworks)
			r.Post("/", h.handleCreateNetwork)
			r.Get("/{name}", h.handleGetNetwork)
			r.Delete("/{name}", h.handleDeleteNetwork)
			r.Get("/{name}/export", h.handleExportNetwork)
			r.Post("/{name}/start", h.handleStartNetwork)
			r.Post("/{name}/stop", h.handleStopNetwork)

			r.Post("/{name}/nodes", h.handleAddNode)
			r.Delete("/{name}/nodes/{node}", h.handleRemoveNode)
			r.Post("/{name}/nodes/{node}/start", h.handleStartNode)
			r.Post("/{name}/nodes/{node}/stop", h.handleStopNode)
			r.Get("/{name}/nodes/{node}/logs", h.handleNodeLogs)

			r.Get("/{name}/nodes/{node}/info", h.handleNodeInfo)
			r.Post("/{name}/nodes/{node}/fund", h.handleFundWallet)
			r.Post("/{name}/nodes/{node}/channels/close", h.handleCloseChannel)
			r.Post("/{name}/mine", h.handleMine)
			r.Post("/{name}/channels", h.handleOpenChannel)
			r.Post("/{name}/payments", h.handleSendPayment)
			r.Post("/{name}/sync/graph", h.handleSyncGraph)
			r.Get("/{name}/sync/chain", h.handleSyncChain)
		})

		r.Post("/reconcile", h.handleReconcile)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// Check database (implicit - if we got here, store was opened)
	checks["database"] = "ok"

	if err := h.orch.CheckRuntime(r.Context()); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Network Handlers
// =============================================================================

func (h *Handler) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.orch.ListNetworks(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := make([]NetworkResponse, 0, len(networks))
	for i := range networks {
		resp = append(resp, networkToResponse(&networks[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateNetwork(w http.ResponseWriter, r *http.Request) {
	var req CreateNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}

	params := orchestrator.CreateNetworkParams{
		Name:           req.Name,
		BitcoinNodes:   h.defaults.BitcoinNodes,
		LightningNodes: h.defaults.LightningNodes,
		AliasPrefix:    req.AliasPrefix,
	}
	if req.BitcoinNodes != nil {
		params.BitcoinNodes = *req.BitcoinNodes
	}
	if req.LightningNodes != nil {
		params.LightningNodes = *req.LightningNodes
	}
	if len(req.Images) > 0 {
		params.Images = make(map[domain.NodeKind]string, len(req.Images))
		for kind, image := range req.Images {
			params.Images[domain.NodeKind(kind)] = image
		}
	}

	network, err := h.orch.CreateNetwork(r.Context(), params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, networkToResponse(network))
}

func (h *Handler) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := h.orch.GetNetwork(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, networkToResponse(network))
}

func (h *Handler) handleDeleteNetwork(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteNetwork(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExportNetwork(w http.ResponseWriter, r *http.Request) {
	out, err := h.orch.ExportNetwork(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) handleStartNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := h.orch.StartNetwork(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, networkToResponse(network))
}

func (h *Handler) handleStopNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := h.orch.StopNetwork(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, networkToResponse(network))
}

// =============================================================================
// Node Handlers
// =============================================================================

func (h *Handler) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}
	if req.Kind == "" {
		h.writeError(w, http.StatusBadRequest, "kind is required", "InvalidRequest")
		return
	}

	node, err := h.orch.AddNode(r.Context(), chi.URLParam(r, "name"), orchestrator.AddNodeParams{
		Kind: domain.NodeKind(req.Kind),
		Name: req.Name,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, nodeToResponse(*node))
}

func (h *Handler) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	err := h.orch.RemoveNode(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "node"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStartNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.orch.StartNode(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "node"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nodeToResponse(*node))
}

func (h *Handler) handleStopNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.orch.StopNode(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "node"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nodeToResponse(*node))
}

// handleNodeLogs streams a node's log lines as chunked plain text until
// the stream ends or the client goes away.
func (h *Handler) handleNodeLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := h.orch.SubscribeLogs(ctx, chi.URLParam(r, "name"), chi.URLParam(r, "node"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		line, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.logger.Warn("log stream ended", "error", err)
			}
			return
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// =============================================================================
// Reconcile Handler
// =============================================================================

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.orch.Reconcile(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if report.Entries == nil {
		report.Entries = []orchestrator.ReportEntry{}
	}
	h.writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDomainError maps err to a status by its error kind.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	code := domain.Reason(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "code", code, "error", err)
	}
	h.writeError(w, status, err.Error(), code)
}

func statusFor(code string) int {
	switch code {
	case "NetworkNotFound", "NodeNotFound":
		return http.StatusNotFound
	case "InvalidName", "InvalidArgument", "UnsupportedKind":
		return http.StatusBadRequest
	case "NetworkExists", "NodeExists", "NodeInUse", "InvalidTransition",
		"DependencyUnsatisfied", "PortExhaustion", "NotReserved",
		"NodeNotRunning", "InsufficientFunds":
		return http.StatusConflict
	case "RuntimeUnavailable":
		return http.StatusServiceUnavailable
	case "RuntimeOperationFailed", "NodeCommandFailed":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func networkToResponse(n *domain.Network) NetworkResponse {
	resp := NetworkResponse{
		ID:              n.ID,
		Name:            n.Name,
		Status:          string(n.Status()),
		DockerNetworkID: n.DockerNetworkID,
		AliasPrefix:     n.AliasPrefix,
		Quarantine:      n.Quarantine,
		Nodes:           make([]NodeResponse, 0, len(n.Nodes)),
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
	if len(n.Images) > 0 {
		resp.Images = make(map[string]string, len(n.Images))
		for kind, image := range n.Images {
			resp.Images[string(kind)] = image
		}
	}
	for _, node := range n.Nodes {
		resp.Nodes = append(resp.Nodes, nodeToResponse(node))
	}
	return resp
}

func nodeToResponse(n domain.Node) NodeResponse {
	resp := NodeResponse{
		Name:        n.Name,
		Kind:        string(n.Kind),
		Image:       n.Image,
		Alias:       n.Alias,
		State:       string(n.State),
		Desired:     string(n.Desired),
		ContainerID: n.ContainerID,
		LastError:   n.LastError,
		BasePort:    n.Ports.Base,
		Ports:       n.Ports.Bindings,
		UpdatedAt:   n.UpdatedAt,
	}
	if resp.Ports == nil {
		resp.Ports = []domain.PortBinding{}
	}
	return resp
}
