package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/ports"
)

// GraphURI is the resource exposing the Mermaid flowchart of the graph.
const GraphURI = "pergola://graph"

// ThreadResponse is the structured result of thread tools.
type ThreadResponse struct {
	ThreadID   string             `json:"thread_id" jsonschema_description:"The thread the tool acted on"`
	Outcome    *domain.Outcome    `json:"outcome,omitempty" jsonschema_description:"How the run stopped"`
	Checkpoint *domain.Checkpoint `json:"checkpoint,omitempty" jsonschema_description:"The current checkpoint of the thread or frame"`
}

// Server wraps the thread API and exposes it as an MCP Server.
type Server struct {
	engine    ports.ThreadAPI
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.ThreadAPI, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("pergola-mcp", strings.TrimSpace(pergola.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	lifecycle.Go(ctx, func(ctx context.Context) error {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_thread",
		mcp.WithDescription("Create a new thread seeded with the schema defaults."),
		mcp.WithOutputSchema[ThreadResponse](),
	), mcp.NewStructuredToolHandler(s.handleCreateThread))

	s.mcpServer.AddTool(mcp.NewTool("run_thread",
		mcp.WithDescription("Run a thread until it finishes or pauses. Without input a paused run resumes."),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread ID")),
		mcp.WithString("input", mcp.Description("JSON object starting a new run (optional)")),
		mcp.WithString("patch", mcp.Description("JSON object merged into the state before resuming (optional)")),
		mcp.WithOutputSchema[ThreadResponse](),
	), mcp.NewStructuredToolHandler(s.handleRunThread))

	s.mcpServer.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get the checkpoint of a thread or of a sub-workflow frame."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Thread ID, or thread ID followed by a frame path")),
		mcp.WithOutputSchema[ThreadResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetState))

	s.mcpServer.AddTool(mcp.NewTool("update_state",
		mcp.WithDescription("Merge a patch into a thread or frame through the field reducers."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Thread ID, or thread ID followed by a frame path")),
		mcp.WithString("patch", mcp.Required(), mcp.Description("JSON object of field updates")),
		mcp.WithOutputSchema[ThreadResponse](),
	), mcp.NewStructuredToolHandler(s.handleUpdateState))

	s.mcpServer.AddTool(mcp.NewTool("list_threads",
		mcp.WithDescription("List known thread IDs."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.engine.Threads(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleCreateThread(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ThreadResponse, error) {
	id, err := s.engine.Create(ctx)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("create failed: %w", err)
	}
	return ThreadResponse{ThreadID: id}, nil
}

func (s *Server) handleRunThread(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ThreadResponse, error) {
	threadID, _ := args["thread_id"].(string)

	input, err := objectArg(args, "input")
	if err != nil {
		return ThreadResponse{}, err
	}
	patch, err := objectArg(args, "patch")
	if err != nil {
		return ThreadResponse{}, err
	}
	if input != nil && patch != nil {
		return ThreadResponse{}, fmt.Errorf("input and patch are mutually exclusive")
	}

	if patch != nil {
		if _, err := s.engine.UpdateState(ctx, threadID, patch); err != nil {
			return ThreadResponse{}, fmt.Errorf("update failed: %w", err)
		}
	}

	out, err := s.engine.Run(ctx, threadID, input)
	if err != nil {
		s.logger.Error("MCP run failed", "thread_id", threadID, "error", err)
		return ThreadResponse{}, fmt.Errorf("run failed: %w", err)
	}
	return ThreadResponse{ThreadID: threadID, Outcome: out}, nil
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ThreadResponse, error) {
	key, _ := args["key"].(string)
	cp, err := s.engine.GetState(ctx, key)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("get state failed: %w", err)
	}
	return ThreadResponse{ThreadID: cp.ThreadID, Checkpoint: cp}, nil
}

func (s *Server) handleUpdateState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ThreadResponse, error) {
	key, _ := args["key"].(string)
	patch, err := objectArg(args, "patch")
	if err != nil {
		return ThreadResponse{}, err
	}
	cp, err := s.engine.UpdateState(ctx, key, patch)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("update failed: %w", err)
	}
	return ThreadResponse{ThreadID: cp.ThreadID, Checkpoint: cp}, nil
}

// objectArg decodes a JSON object argument. Clients may send it either as
// a JSON string or as an object. A missing argument yields nil.
func objectArg(args map[string]interface{}, name string) (map[string]any, error) {
	switch v := args[name].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid %s: expected a JSON object", name)
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Current Graph Definition",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "text/plain",
				Text:     graph.Mermaid(s.engine.Graph(), nil),
			},
		}, nil
	})
}
