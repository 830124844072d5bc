// Package tools exposes extraction and scraping as MCP tools.
package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/ingest"
	"github.com/jackzampolin/glean/internal/scrape"
	"github.com/jackzampolin/glean/internal/svcctx"
)

// ServerName identifies glean to MCP clients.
const ServerName = "glean"

// Tool argument keys, shared by schemas and handlers.
const (
	argSource = "source"
	argURL    = "url"
	argFormat = "format"
)

// NewServer returns an MCP server with every glean tool registered.
func NewServer(s *svcctx.Services, version string) *server.MCPServer {
	srv := server.NewMCPServer(ServerName, version)
	Register(srv, s)
	return srv
}

// Register binds the tool definitions to their handlers.
func Register(srv *server.MCPServer, s *svcctx.Services) {
	srv.AddTool(
		mcp.NewTool("extract_text",
			mcp.WithDescription("Extract text from an image or PDF. "+
				"Runs every configured OCR engine, merges their output and corrects it with an LLM. "+
				"Pass an absolute file path or an http:// / https:// URL."),
			mcp.WithString(argSource,
				mcp.Required(),
				mcp.Description("Absolute file path or http/https URL of the image or PDF"),
			),
		),
		ExtractHandler(s),
	)

	srv.AddTool(
		mcp.NewTool("scrape_page",
			mcp.WithDescription("Fetch a web page and return its visible text, or markdown."),
			mcp.WithString(argURL,
				mcp.Required(),
				mcp.Description("http or https URL of the page"),
			),
			mcp.WithString(argFormat,
				mcp.Description("text (default) or markdown"),
			),
		),
		ScrapeHandler(s),
	)
}

// ExtractHandler serves the extract_text tool.
func ExtractHandler(s *svcctx.Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source, _ := req.Params.Arguments[argSource].(string)
		source = strings.TrimSpace(source)
		if source == "" {
			return mcp.NewToolResultError(argSource + " is required"), nil
		}

		var (
			src *ingest.Source
			err error
		)
		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			src, err = s.Ingester.Fetch(ctx, source)
		} else {
			src, err = s.Ingester.Open(source)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ext, err := app.Extract(ctx, s, src, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(ext.Text), nil
	}
}

// ScrapeHandler serves the scrape_page tool.
func ScrapeHandler(s *svcctx.Services) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawURL, _ := req.Params.Arguments[argURL].(string)
		if rawURL == "" {
			return mcp.NewToolResultError(argURL + " is required"), nil
		}
		name, _ := req.Params.Arguments[argFormat].(string)
		format, err := scrape.ParseFormat(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		page, err := s.Scraper.Page(ctx, rawURL, format)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(page.Content), nil
	}
}
