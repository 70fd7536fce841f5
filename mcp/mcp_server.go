package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"bch-mcp-server/session"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverInstructions = "Bitcoin Cash wallet tools. Read bch://docs/overview first. " +
	"Amounts default to satoshis; token amounts are decimal strings."

// MCPServer wraps the mcp-go server. Tool calls are routed through the
// dispatcher inside the caller's session.
type MCPServer struct {
	mcpServer  *server.MCPServer
	dispatcher *Dispatcher
	sessions   *session.Manager
}

// NewMCPServer registers every tool in the dispatcher's registry and the
// documentation resources.
func NewMCPServer(name, version string, dispatcher *Dispatcher, sessions *session.Manager) *MCPServer {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(serverInstructions),
		server.WithRecovery(),
	)

	s := &MCPServer{
		mcpServer:  mcpServer,
		dispatcher: dispatcher,
		sessions:   sessions,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// HandleMessage routes a raw JSON-RPC message other than a tools/call
// the HTTP transport handles itself. The result is nil for notifications.
func (s *MCPServer) HandleMessage(ctx context.Context, message []byte) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, json.RawMessage(message))
}

func (s *MCPServer) registerTools() {
	for _, tool := range s.dispatcher.Registry().Tools() {
		s.mcpServer.AddTool(tool, s.callTool)
	}
}

func (s *MCPServer) registerResources() {
	for _, doc := range Resources() {
		resource := mcp.NewResource(doc.URI(), doc.Title,
			mcp.WithResourceDescription(doc.Description),
			mcp.WithMIMEType(doc.MIMEType()),
		)
		s.mcpServer.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: doc.URI(), MIMEType: doc.MIMEType(), Text: doc.Text},
			}, nil
		})
	}
}

// callTool serves tools/call for transports that go through mcp-go.
func (s *MCPServer) callTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return Result{Err: NewInternalError(request.Params.Name, "call is not bound to a session")}.CallToolResult(), nil
	}
	release, err := sess.Acquire(ctx)
	if err != nil {
		return Result{Err: NewSessionClosedError(request.Params.Name)}.CallToolResult(), nil
	}
	defer release()

	res := s.dispatcher.Dispatch(ctx, Call{Name: request.Params.Name, Arguments: request.GetArguments()})
	return res.CallToolResult(), nil
}

// ServeStdio serves one client over stdin and stdout inside a single
// session that lives until ctx ends or the input closes.
func (s *MCPServer) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	sess, err := s.sessions.Create()
	if err != nil {
		return err
	}
	defer s.sessions.Close(sess.ID)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.Default())
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return session.WithSession(ctx, sess)
	})
	log.Printf("Serving MCP over stdio (session %s)", session.ShortID(sess.ID))
	return stdio.Listen(ctx, in, out)
}
