package mcp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"bch-mcp-server/session"

	"github.com/mark3labs/mcp-go/mcp"
)

// SessionHeader carries the session token in both directions.
const SessionHeader = "Mcp-Session-Id"

// HTTPOptions describes the served instance.
type HTTPOptions struct {
	Name    string
	Version string
	Debug   bool
}

// HTTPMCPServer serves MCP JSON-RPC over plain HTTP POST with one session
// per handshake.
type HTTPMCPServer struct {
	core       *MCPServer
	dispatcher *Dispatcher
	sessions   *session.Manager
	opts       HTTPOptions
	started    time.Time
}

// NewHTTPMCPServer creates a new HTTP MCP server
func NewHTTPMCPServer(core *MCPServer, opts HTTPOptions) *HTTPMCPServer {
	if opts.Name == "" {
		opts.Name = "bch-mcp-server"
	}
	return &HTTPMCPServer{
		core:       core,
		dispatcher: core.dispatcher,
		sessions:   core.sessions,
		opts:       opts,
		started:    time.Now(),
	}
}

func (h *HTTPMCPServer) debugf(format string, args ...any) {
	if h.opts.Debug {
		log.Printf("DEBUG: "+format, args...)
	}
}

func (h *HTTPMCPServer) writeHTTPError(w http.ResponseWriter, status int, code string, message string, hint string) {
	WriteError(w, &ToolError{
		Code:       code,
		Message:    message,
		Hint:       hint,
		HttpStatus: status,
	})
}

// WriteJSON encodes payload as the response body. A nil payload sends the
// status alone.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("mcp: encode response: %v", err)
	}
}

// WriteError renders te as a plain HTTP error at its own status.
func WriteError(w http.ResponseWriter, te *ToolError) {
	status := te.HttpStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, te)
}

// handleMCP is the single call endpoint.
// @Summary Send one JSON-RPC message
// @Tags MCP
// @Accept json
// @Produce json
// @Param Mcp-Session-Id header string false "Session token"
// @Success 200 {object} jsonRPCResponse
// @Router /mcp [post]
func (h *HTTPMCPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleJSONRPC(w, r)
	case http.MethodDelete:
		h.handleDeleteSession(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		h.writeHTTPError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed",
			"Use POST /mcp for JSON-RPC or DELETE /mcp to end a session.")
	}
}

// handleDeleteSession ends the session named by the header.
// @Summary End a session
// @Tags MCP
// @Param Mcp-Session-Id header string true "Session token"
// @Success 204
// @Router /mcp [delete]
func (h *HTTPMCPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(SessionHeader))
	if token == "" {
		h.writeHTTPError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Missing "+SessionHeader+" header", "")
		return
	}
	if err := h.sessions.Close(token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, NewSessionNotFoundError(token))
			return
		}
		WriteError(w, NewInternalError("", err.Error()))
		return
	}
	h.debugf("session %s closed by client", session.ShortID(token))
	w.WriteHeader(http.StatusNoContent)
}

// handleServerCard serves /.well-known/mcp.json.
// @Summary Server card
// @Tags Discovery
// @Produce json
// @Router /.well-known/mcp.json [get]
func (h *HTTPMCPServer) handleServerCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeHTTPError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", "")
		return
	}
	reg := h.dispatcher.Registry()
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":            h.opts.Name,
		"version":         h.opts.Version,
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"transport": map[string]any{
			"type":           "http",
			"endpoint":       "/mcp",
			"session_header": SessionHeader,
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{"count": reg.Len(), "names": reg.Names()},
			"resources": map[string]any{"count": len(resources)},
		},
	})
}

// handleConfigSchema serves /.well-known/mcp-config, the schema of the
// per-client configuration the server accepts.
func (h *HTTPMCPServer) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"title":   "MCP Session Configuration",
		"type":    "object",
		"properties": map[string]any{
			"debug": map[string]any{
				"type":        "boolean",
				"default":     false,
				"description": "Enable verbose server logging",
			},
		},
		"required": []string{},
	})
}

// @Summary Liveness and session count
// @Tags Operations
// @Produce json
// @Router /health [get]
func (h *HTTPMCPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  h.sessions.Len(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

// handleListTools serves GET /mcp/tools for clients that discover tools
// without a session.
// @Summary List the tool catalogue
// @Tags MCP
// @Produce json
// @Router /mcp/tools [get]
func (h *HTTPMCPServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeHTTPError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", "Use GET /mcp/tools.")
		return
	}
	reg := h.dispatcher.Registry()
	WriteJSON(w, http.StatusOK, map[string]any{
		"tools":      reg.Tools(),
		"tool_names": reg.Names(),
		"total":      reg.Len(),
	})
}

func (h *HTTPMCPServer) handleDoc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeHTTPError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", "")
		return
	}
	doc, ok := LookupResource(r.PathValue("name"))
	if !ok {
		h.writeHTTPError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Unknown document", "Available: overview, units, cashtokens, escrow, errors")
		return
	}
	w.Header().Set("Content-Type", doc.MIMEType()+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Text))
}

// RegisterRoutes registers HTTP MCP endpoints
func (h *HTTPMCPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", h.handleMCP)
	mux.HandleFunc("/mcp/tools", h.handleListTools)
	mux.HandleFunc("/.well-known/mcp.json", h.handleServerCard)
	mux.HandleFunc("GET /.well-known/mcp-config", h.handleConfigSchema)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("/docs/{name}", h.handleDoc)
}
