// Package docs holds the OpenAPI description of the HTTP surface.
package docs

import (
	"net/http"

	"github.com/swaggo/swag"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/mcp": {
            "post": {
                "description": "JSON-RPC 2.0 endpoint. A request without Mcp-Session-Id opens a session and the token is returned in the response header.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["MCP"],
                "summary": "Send one JSON-RPC message",
                "parameters": [
                    {"type": "string", "description": "Session token", "name": "Mcp-Session-Id", "in": "header"},
                    {"description": "JSON-RPC request or notification", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JSONRPCRequest"}}
                ],
                "responses": {
                    "200": {"description": "JSON-RPC response", "schema": {"$ref": "#/definitions/JSONRPCResponse"}},
                    "202": {"description": "Notification accepted"},
                    "400": {"description": "Malformed JSON-RPC", "schema": {"$ref": "#/definitions/JSONRPCResponse"}},
                    "404": {"description": "Unknown or expired session", "schema": {"$ref": "#/definitions/JSONRPCResponse"}},
                    "503": {"description": "Session limit reached", "schema": {"$ref": "#/definitions/JSONRPCResponse"}}
                }
            },
            "delete": {
                "tags": ["MCP"],
                "summary": "End a session",
                "parameters": [
                    {"type": "string", "description": "Session token", "name": "Mcp-Session-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "204": {"description": "Session closed"},
                    "400": {"description": "Missing header", "schema": {"$ref": "#/definitions/ToolError"}},
                    "404": {"description": "Unknown session", "schema": {"$ref": "#/definitions/ToolError"}}
                }
            }
        },
        "/mcp/tools": {
            "get": {
                "produces": ["application/json"],
                "tags": ["MCP"],
                "summary": "List the tool catalogue without a session",
                "responses": {"200": {"description": "Tools with their input schemas"}}
            }
        },
        "/.well-known/mcp.json": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Server card",
                "responses": {"200": {"description": "Name, version, protocol version and capabilities"}}
            }
        },
        "/.well-known/mcp-config": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Client configuration schema",
                "responses": {"200": {"description": "JSON schema"}}
            }
        },
        "/docs/{name}": {
            "get": {
                "produces": ["text/markdown"],
                "tags": ["Discovery"],
                "summary": "Read a documentation page",
                "parameters": [
                    {"type": "string", "description": "overview, units, cashtokens, escrow or errors", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Markdown page"},
                    "404": {"description": "Unknown page", "schema": {"$ref": "#/definitions/ToolError"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Liveness and session count",
                "responses": {"200": {"description": "Status"}}
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["Operations"],
                "summary": "Prometheus metrics",
                "responses": {"200": {"description": "Exposition format"}}
            }
        },
        "/audit": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Recent audit entries, newest first",
                "description": "Mounted only when AUDIT_TOKEN is set; requires Authorization: Bearer <AUDIT_TOKEN>.",
                "parameters": [
                    {"type": "integer", "description": "1 to 1000, default 100", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Entries"},
                    "400": {"description": "Bad limit"},
                    "401": {"description": "Missing or invalid bearer token"}
                }
            }
        }
    },
    "definitions": {
        "JSONRPCRequest": {
            "type": "object",
            "properties": {
                "jsonrpc": {"type": "string", "example": "2.0"},
                "id": {},
                "method": {"type": "string", "example": "tools/call"},
                "params": {"type": "object"}
            }
        },
        "JSONRPCResponse": {
            "type": "object",
            "properties": {
                "jsonrpc": {"type": "string"},
                "id": {},
                "result": {"type": "object"},
                "error": {"$ref": "#/definitions/JSONRPCError"}
            }
        },
        "JSONRPCError": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "message": {"type": "string"},
                "data": {"$ref": "#/definitions/ToolError"}
            }
        },
        "ToolError": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "INVALID_FIELD_VALUE"},
                "message": {"type": "string"},
                "tool": {"type": "string"},
                "field": {"type": "string"},
                "field_value": {},
                "hint": {"type": "string"},
                "details": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Bitcoin Cash MCP Server",
	Description:      "Model Context Protocol server exposing Bitcoin Cash wallet, CashToken and escrow tools over HTTP.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Handler serves the registered document as JSON.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
}
