package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bch-mcp-server/session"
)

const maxRequestBytes = 1 << 20

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification reports whether the request expects no response.
func (r jsonRPCRequest) notification() bool { return len(r.ID) == 0 }

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *HTTPMCPServer) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.writeToolError(w, http.StatusBadRequest, nil, NewParseError("Failed to read request body", err))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		h.writeToolError(w, http.StatusBadRequest, nil, NewInvalidRequestError("Empty request body", ""))
		return
	}
	if body[0] == '[' {
		h.writeToolError(w, http.StatusBadRequest, nil, NewInvalidRequestError("Batch requests are not supported", "Send one JSON-RPC object per POST"))
		return
	}
	var req jsonRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeToolError(w, http.StatusBadRequest, nil, NewParseError("Invalid JSON", err))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		h.writeToolError(w, http.StatusBadRequest, req.ID, NewInvalidRequestError("jsonrpc must be \"2.0\"", ""))
		return
	}
	if req.Method == "" {
		h.writeToolError(w, http.StatusBadRequest, req.ID, NewInvalidRequestError("Missing method", ""))
		return
	}

	sess, terr := h.resolveSession(r, req)
	if terr != nil {
		h.writeToolError(w, terr.HttpStatus, req.ID, terr)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set(SessionHeader, sess.ID)
	h.debugf("session %s: %s", session.ShortID(sess.ID), req.Method)

	ctx := session.WithSession(r.Context(), sess)
	if req.Method == "tools/call" {
		h.handleToolsCall(w, r.WithContext(ctx), sess, req)
		return
	}

	msg := h.core.HandleMessage(ctx, body)
	if msg == nil || req.notification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	WriteJSON(w, http.StatusOK, msg)
}

// resolveSession maps the request to its session. A token-less request
// opens a session, except a token-less notification which has nothing to
// bind to and yields nil.
func (h *HTTPMCPServer) resolveSession(r *http.Request, req jsonRPCRequest) (*session.Session, *ToolError) {
	token := strings.TrimSpace(r.Header.Get(SessionHeader))
	if token == "" {
		if req.notification() {
			return nil, nil
		}
		sess, err := h.sessions.Create()
		if errors.Is(err, session.ErrLimit) {
			return nil, NewSessionLimitError()
		}
		if err != nil {
			return nil, NewInternalError("", err.Error())
		}
		return sess, nil
	}
	sess, err := h.sessions.Get(token)
	if err != nil {
		return nil, NewSessionNotFoundError(token)
	}
	return sess, nil
}

func (h *HTTPMCPServer) handleToolsCall(w http.ResponseWriter, r *http.Request, sess *session.Session, req jsonRPCRequest) {
	var params toolCallParams
	if len(req.Params) == 0 {
		te := NewMissingFieldError("", "params")
		te.Hint = "Expected params: {\"name\": \"tool_name\", \"arguments\": {}}"
		h.writeToolError(w, http.StatusOK, req.ID, te)
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.writeToolError(w, http.StatusOK, req.ID, NewInvalidFieldError("", "params", nil, "params must be an object: "+err.Error()))
		return
	}
	if strings.TrimSpace(params.Name) == "" {
		h.writeToolError(w, http.StatusOK, req.ID, NewMissingFieldError("", "name"))
		return
	}
	args := map[string]any{}
	if raw := bytes.TrimSpace(params.Arguments); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &args); err != nil {
			h.writeToolError(w, http.StatusOK, req.ID, NewInvalidFieldError(params.Name, "arguments", nil, "arguments must be a JSON object"))
			return
		}
	}

	release, err := sess.Acquire(r.Context())
	if err != nil {
		te := NewSessionClosedError(params.Name)
		if !errors.Is(err, session.ErrClosed) {
			te = NewTimeoutError(params.Name, err)
		}
		h.writeToolError(w, http.StatusOK, req.ID, te)
		return
	}
	res := h.dispatcher.Dispatch(r.Context(), Call{Name: params.Name, Arguments: args, ID: req.ID})
	release()

	if res.Err != nil {
		h.debugf("session %s: %s failed: %s", session.ShortID(sess.ID), params.Name, res.Err.Code)
		h.writeToolError(w, http.StatusOK, req.ID, res.Err)
		return
	}
	result := map[string]any{"content": res.Content, "isError": false}
	if structured, ok := res.Value.(map[string]any); ok {
		result["structuredContent"] = structured
	}
	h.writeJSONRPCResponse(w, jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (h *HTTPMCPServer) writeJSONRPCResponse(w http.ResponseWriter, resp jsonRPCResponse) {
	WriteJSON(w, http.StatusOK, resp)
}

func (h *HTTPMCPServer) writeJSONRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data any) {
	WriteJSON(w, status, jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &jsonRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (h *HTTPMCPServer) writeToolError(w http.ResponseWriter, status int, id json.RawMessage, te *ToolError) {
	h.writeJSONRPCError(w, status, id, te.RPCCode(), te.Message, te)
}
