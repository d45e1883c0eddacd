// Package mcp exposes the lookup adapters as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/shard/lookup"
	"github.com/sweetpotato0/shard/pkg/logging"
	"github.com/sweetpotato0/shard/research"
)

// ToolNames maps lookup kinds to the tool names they are published under.
var ToolNames = map[lookup.Kind]string{
	lookup.KindEncyclopedia: "wikipedia_lookup",
	lookup.KindWeather:      "weather_lookup",
	lookup.KindFinancial:    "financial_data",
	lookup.KindPreprint:     "arxiv_lookup",
}

// ResearchToolName is the bounded multi-page encyclopedia research tool.
const ResearchToolName = "wikipedia_research"

var toolDescriptions = map[lookup.Kind]string{
	lookup.KindEncyclopedia: "Fetch the introduction of the best matching Wikipedia article",
	lookup.KindWeather:      "Current temperature and conditions for a city, region or postal code",
	lookup.KindFinancial:    "Latest daily quote for a ticker symbol or company name",
	lookup.KindPreprint:     "Search arXiv and return the most relevant preprints",
}

type lookupArgs struct {
	Query string `json:"query" jsonschema:"What to look up"`
}

// Server wraps an MCP server publishing one tool per registered adapter.
type Server struct {
	server   *sdkmcp.Server
	registry *lookup.Registry
	loop     *research.Loop
	logger   *slog.Logger
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithResearch also publishes the research loop as a tool.
func WithResearch(l *research.Loop) Option {
	return func(s *Server) {
		s.loop = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// NewServer builds the server and registers its tools.
func NewServer(registry *lookup.Registry, opts ...Option) *Server {
	s := &Server{registry: registry, version: "0.1.0"}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("mcp")
	}

	s.server = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "shard",
		Title:   "Shard lookups",
		Version: s.version,
	}, nil)

	for _, kind := range registry.Kinds() {
		adapter, _ := registry.Get(kind)
		s.addLookupTool(adapter)
	}
	if s.loop != nil {
		s.addResearchTool()
	}
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *sdkmcp.Server {
	return s.server
}

// Run serves on transport until ctx is done or the peer disconnects.
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// RunStdio serves over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) addLookupTool(adapter lookup.Adapter) {
	kind := adapter.Kind()
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        ToolNames[kind],
		Description: toolDescriptions[kind],
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a lookupArgs) (*sdkmcp.CallToolResult, any, error) {
		query := strings.TrimSpace(a.Query)
		if query == "" {
			return nil, nil, fmt.Errorf("query is required")
		}
		s.logger.Debug("mcp lookup", "kind", kind, "query", query)
		res, err := adapter.Lookup(ctx, query)
		if err != nil {
			return nil, nil, err
		}
		return textResult(render(res)), nil, nil
	})
}

// alwaysLive never cancels; an MCP call ends with its request context.
type alwaysLive struct{}

func (alwaysLive) Cancelled() bool { return false }

type quietObserver struct{}

func (quietObserver) StepStarted(int, string)     {}
func (quietObserver) StepCompleted(research.Step) {}

func (s *Server) addResearchTool() {
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        ResearchToolName,
		Description: fmt.Sprintf("Research a question across up to %d Wikipedia articles", research.MaxIterations),
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a lookupArgs) (*sdkmcp.CallToolResult, any, error) {
		query := strings.TrimSpace(a.Query)
		if query == "" {
			return nil, nil, fmt.Errorf("query is required")
		}
		out := s.loop.Run(ctx, query, alwaysLive{}, quietObserver{})
		if len(out.Findings) == 0 {
			return textResult(fmt.Sprintf("No answer found after reading %d article(s): %s", out.Iterations, strings.Join(out.Path, " -> "))), nil, nil
		}
		var b strings.Builder
		for _, f := range out.Findings {
			fmt.Fprintf(&b, "%s\n%s\n", f.Title, f.Summary)
			if f.URL != "" {
				fmt.Fprintf(&b, "Source: %s\n", f.URL)
			}
			fmt.Fprintf(&b, "Path: %s\n", strings.Join(f.Path, " -> "))
		}
		return textResult(strings.TrimSpace(b.String())), nil, nil
	})
}

func render(res *lookup.Result) string {
	if res.NotFound {
		msg := fmt.Sprintf("No %s results for %q.", res.Kind, res.Query)
		if res.Hint != "" {
			msg += " " + res.Hint
		}
		return msg
	}
	var b strings.Builder
	b.WriteString(res.Summary)
	for _, src := range res.Sources {
		fmt.Fprintf(&b, "\nSource: %s <%s>", src.Name, src.URL)
	}
	return b.String()
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}
