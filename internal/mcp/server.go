package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/rag"
	"github.com/bull/ragbot/internal/training"
	"github.com/bull/ragbot/internal/vectorstore"
)

// Asker answers questions. rag.Engine implements it.
type Asker interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.Response, error)
}

// Trainer indexes text and lists what was indexed. training.Pipeline
// implements it.
type Trainer interface {
	TrainText(ctx context.Context, chatbotID, text, source string) (*training.Result, error)
	ListDocuments(ctx context.Context, chatbotID string, limit, offset int, search string) ([]vectorstore.Document, error)
}

// Chatbots creates and loads chatbots. chatbot.Service implements it.
type Chatbots interface {
	Create(ctx context.Context, ownerID, name string, settings *chatbot.Settings) (*chatbot.Chatbot, error)
	Get(ctx context.Context, id string) (*chatbot.Chatbot, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	logger *zap.Logger
}

// Config holds server dependencies.
type Config struct {
	Asker    Asker
	Trainer  Trainer
	Chatbots Chatbots
	// Defaults are applied to chatbots created without explicit models.
	Defaults chatbot.Settings
	Version  string
	Logger   *zap.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ragbot",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_chatbot",
		Description: "Ask a chatbot a question. The answer is grounded on the chatbot's trained content and lists the chunks it used.",
	}, makeAskHandler(cfg.Asker))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_chatbot",
		Description: "Create a chatbot. Train it with train_text before asking questions.",
	}, makeCreateHandler(cfg.Chatbots, cfg.Defaults))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "train_text",
		Description: "Chunk, embed and index raw text into a chatbot's knowledge base.",
	}, makeTrainTextHandler(cfg.Trainer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List the chunks indexed for a chatbot, optionally filtered by a substring.",
	}, makeListHandler(cfg.Trainer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chatbot_status",
		Description: "Get a chatbot's availability, training status, index size and query statistics.",
	}, makeStatusHandler(cfg.Chatbots))

	return &Server{server: server, logger: logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
