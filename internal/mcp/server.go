package mcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/index"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/memory"
	"github.com/pampax/pampax/internal/pipeline"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/telemetry"
	"github.com/pampax/pampax/pkg/version"
)

// ServerName identifies this implementation to MCP clients.
const ServerName = "pampax"

// Server bridges MCP clients to the retrieval pipeline. Logging in
// server context goes to file only; stdout and stderr belong to the
// JSON-RPC framing.
type Server struct {
	mcp     *mcp.Server
	pipe    *pipeline.Pipeline
	checker *health.Checker
	indexer *index.Indexer
	repo    string
	metrics *telemetry.Collector
	log     *slog.Logger
}

// Option adds an optional collaborator.
type Option func(*Server)

// WithHealth wires the health tool.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) { s.checker = c }
}

// WithIndexer wires the index_status tool.
func WithIndexer(ix *index.Indexer, repo string) Option {
	return func(s *Server) {
		s.indexer = ix
		s.repo = repo
	}
}

// WithTelemetry records per-tool query metrics.
func WithTelemetry(m *telemetry.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer builds the MCP server over an assembled pipeline.
func NewServer(pipe *pipeline.Pipeline, opts ...Option) (*Server, error) {
	const op = "mcp.NewServer"
	if pipe == nil {
		return nil, errors.E(errors.KindInvalidInput, op, "pipeline is required", nil)
	}

	s := &Server{
		pipe: pipe,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until the context is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp_server_started", slog.String("transport", "stdio"))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer exposes the underlying SDK server for transport wiring in
// tests.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Ranked code retrieval over the indexed repo. Fuses keyword, vector, symbol, and memory candidates; returns spans with scores and provenance. Use for focused lookups.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "assemble",
		Description: "Build a token-budgeted context bundle for a task: retrieval plus graph expansion, tiered packing, and optional reranking. Use when you need working context, not just hits.",
	}, s.handleAssemble)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rerank",
		Description: "Rescore caller-supplied documents against a query through the rerank provider bus.",
	}, s.handleRerank)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remember",
		Description: "Store a fact for later retrieval. Keyed memories replace in place; pinned memories never expire.",
	}, s.handleRemember)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recall",
		Description: "List or search remembered facts for a session.",
	}, s.handleRecall)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forget",
		Description: "Delete a memory by id or by (session, key).",
	}, s.handleForget)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pin_span",
		Description: "Pin a code span so assembly always considers it for this session.",
	}, s.handlePinSpan)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "learn",
		Description: "Tune per-intent seed weights from recorded interaction outcomes. Dry run by default.",
	}, s.handleLearn)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health",
		Description: "Component health: store integrity, disk, embedder, rerank breakers, cache hit rates, index freshness.",
	}, s.handleHealth)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Index row counts, embedding coverage, and the last index job. Check before searching a fresh checkout.",
	}, s.handleIndexStatus)

	s.log.Debug("mcp_tools_registered", slog.Int("count", 10))
}

// parseIntent validates an intent override from tool input.
func parseIntent(raw string) (bundle.Intent, error) {
	if raw == "" {
		return "", nil
	}
	it := bundle.Intent(raw)
	if !it.Valid() {
		return "", invalidParams("unknown intent " + raw)
	}
	return it, nil
}

func (s *Server) observe(tool, query string, results int, start time.Time) {
	if s.metrics != nil {
		s.metrics.Observe("mcp."+tool, query, results, time.Since(start))
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	start := time.Now()
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, invalidParams("query is required")
	}
	override, err := parseIntent(in.Intent)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	res, err := s.pipe.Search(ctx, pipeline.SearchRequest{
		Query:          in.Query,
		K:              in.K,
		Repo:           s.repo,
		Language:       in.Language,
		SessionID:      in.SessionID,
		IntentOverride: override,
	})
	if err != nil {
		s.log.Error("search_failed", slog.String("query", in.Query), slog.Any("error", err))
		return nil, SearchOutput{}, MapError(err)
	}

	s.observe("search", in.Query, len(res.Items), start)
	s.log.Info("search_completed",
		slog.String("query", in.Query),
		slog.Int("results", len(res.Items)),
		slog.Duration("elapsed", res.Duration))
	return nil, SearchOutput{
		Query:           res.Query,
		Intent:          res.Intent,
		Results:         res.Items,
		StoppingReasons: res.StoppingReasons,
	}, nil
}

func (s *Server) handleAssemble(ctx context.Context, _ *mcp.CallToolRequest, in AssembleInput) (
	*mcp.CallToolResult, AssembleOutput, error,
) {
	start := time.Now()
	if strings.TrimSpace(in.Query) == "" {
		return nil, AssembleOutput{}, invalidParams("query is required")
	}
	override, err := parseIntent(in.Intent)
	if err != nil {
		return nil, AssembleOutput{}, err
	}

	res, err := s.pipe.Assemble(ctx, pipeline.AssembleRequest{
		Query:          in.Query,
		SessionID:      in.SessionID,
		Repo:           s.repo,
		Language:       in.Language,
		K:              in.K,
		IntentOverride: override,
		TargetModel:    in.TargetModel,
		TokenBudget:    in.TokenBudget,
		RerankProvider: in.RerankProvider,
		RerankModel:    in.RerankModel,
		Include:        in.Include,
		NoCache:        in.NoCache,
	})
	if err != nil {
		s.log.Error("assemble_failed", slog.String("query", in.Query), slog.Any("error", err))
		return nil, AssembleOutput{}, MapError(err)
	}

	s.observe("assemble", in.Query, len(res.Bundle.Items), start)
	s.log.Info("assemble_completed",
		slog.String("query", in.Query),
		slog.Int("items", len(res.Bundle.Items)),
		slog.Int("tokens", res.Bundle.TokenReport.EstUsed),
		slog.Duration("elapsed", res.Duration))
	return nil, AssembleOutput{Bundle: res.Bundle, InteractionID: res.InteractionID}, nil
}

func (s *Server) handleRerank(ctx context.Context, _ *mcp.CallToolRequest, in RerankInput) (
	*mcp.CallToolResult, RerankOutput, error,
) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, RerankOutput{}, invalidParams("query is required")
	}
	if len(in.Documents) == 0 {
		return nil, RerankOutput{}, invalidParams("documents are required")
	}

	docs := make([]rerank.Document, 0, len(in.Documents))
	for _, d := range in.Documents {
		docs = append(docs, rerank.Document{ID: d.ID, Content: d.Content})
	}
	ranked, err := s.pipe.Rerank(ctx, in.Query, docs, rerank.Options{
		Provider: in.Provider,
		Model:    in.Model,
		TopK:     in.TopK,
	})
	if err != nil {
		return nil, RerankOutput{}, MapError(err)
	}
	return nil, RerankOutput{Ranking: ranked}, nil
}

func (s *Server) handleRemember(ctx context.Context, _ *mcp.CallToolRequest, in RememberInput) (
	*mcp.CallToolResult, MemoryOutput, error,
) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, MemoryOutput{}, invalidParams("content is required")
	}

	m, err := s.pipe.Memories().Create(ctx, memory.CreateRequest{
		SessionID: in.SessionID,
		Kind:      in.Kind,
		Key:       in.Key,
		Content:   in.Content,
		Metadata:  in.Metadata,
		TTL:       time.Duration(in.TTLDays) * 24 * time.Hour,
		Pinned:    in.Pinned,
	})
	if err != nil {
		return nil, MemoryOutput{}, MapError(err)
	}
	return nil, MemoryOutput{Memory: m}, nil
}

func (s *Server) handleRecall(ctx context.Context, _ *mcp.CallToolRequest, in RecallInput) (
	*mcp.CallToolResult, RecallOutput, error,
) {
	hits, err := s.pipe.Memories().Query(ctx, memory.QueryRequest{
		SessionID:      in.SessionID,
		Query:          in.Query,
		Kind:           in.Kind,
		K:              in.K,
		IncludeExpired: in.IncludeExpired,
	})
	if err != nil {
		return nil, RecallOutput{}, MapError(err)
	}

	out := RecallOutput{Memories: make([]RecallHit, 0, len(hits))}
	for _, h := range hits {
		out.Memories = append(out.Memories, RecallHit{Memory: h.Memory, Score: h.Score})
	}
	return nil, out, nil
}

func (s *Server) handleForget(ctx context.Context, _ *mcp.CallToolRequest, in ForgetInput) (
	*mcp.CallToolResult, ForgetOutput, error,
) {
	switch {
	case in.ID != "":
		if err := s.pipe.Memories().Forget(ctx, in.ID); err != nil {
			return nil, ForgetOutput{}, MapError(err)
		}
	case in.Key != "":
		if err := s.pipe.Memories().ForgetByKey(ctx, in.SessionID, in.Key); err != nil {
			return nil, ForgetOutput{}, MapError(err)
		}
	default:
		return nil, ForgetOutput{}, invalidParams("id or key is required")
	}
	return nil, ForgetOutput{Forgotten: true}, nil
}

func (s *Server) handlePinSpan(ctx context.Context, _ *mcp.CallToolRequest, in PinSpanInput) (
	*mcp.CallToolResult, MemoryOutput, error,
) {
	if in.SpanID == "" {
		return nil, MemoryOutput{}, invalidParams("span_id is required")
	}
	m, err := s.pipe.Memories().PinSpan(ctx, in.SessionID, in.SpanID, in.Label, in.Note)
	if err != nil {
		return nil, MemoryOutput{}, MapError(err)
	}
	return nil, MemoryOutput{Memory: m}, nil
}

func (s *Server) handleLearn(ctx context.Context, _ *mcp.CallToolRequest, in LearnInput) (
	*mcp.CallToolResult, learner.Report, error,
) {
	req := learner.Request{
		Repo:          in.Repo,
		UpdateWeights: in.Apply,
		MinSignals:    in.MinSignals,
	}
	if in.SinceDays > 0 {
		req.Since = time.Now().UTC().AddDate(0, 0, -in.SinceDays)
	}
	for _, raw := range in.Intents {
		it, err := parseIntent(raw)
		if err != nil {
			return nil, learner.Report{}, err
		}
		req.Intents = append(req.Intents, it)
	}

	rep, err := s.pipe.Learn(ctx, req)
	if err != nil {
		return nil, learner.Report{}, MapError(err)
	}
	return nil, *rep, nil
}

func (s *Server) handleHealth(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (
	*mcp.CallToolResult, health.Report, error,
) {
	if s.checker == nil {
		return nil, health.Report{}, MapError(errors.E(errors.KindUnavailable, "mcp.health", "health checker is not configured", nil))
	}
	rep := s.checker.Run(ctx)
	return nil, *rep, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult, index.Status, error,
) {
	if s.indexer == nil {
		return nil, index.Status{}, MapError(errors.E(errors.KindUnavailable, "mcp.index_status", "indexer is not configured", nil))
	}
	st, err := s.indexer.Status(ctx, s.repo)
	if err != nil {
		return nil, index.Status{}, MapError(err)
	}
	return nil, *st, nil
}
