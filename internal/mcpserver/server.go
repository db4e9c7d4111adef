// Package mcpserver exposes the contact directory and the meeting registry
// as Model Context Protocol tools, so that external assistants can look up
// contacts and schedule meetings through the same commit path as a voice
// session.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/registry"
	"github.com/MrWong99/meetvoice/internal/session"
)

// Tool names.
const (
	ToolFindContact          = "find_contact"
	ToolListUpcomingMeetings = "list_upcoming_meetings"
	ToolMeetingsForContact   = "meetings_for_contact"
	ToolExtractMeeting       = "extract_meeting"
	ToolScheduleMeeting      = "schedule_meeting"
	ToolSetMeetingStatus     = "set_meeting_status"
)

// Deps are the collaborators behind the tools. Directory, Registry and
// Extractor are required.
type Deps struct {
	Directory *directory.Directory
	Registry  *registry.Registry
	Extractor session.Extractor
	Metrics   *observe.Metrics
	Clock     func() time.Time
	Version   string
}

// Server is the MCP server with all meetvoice tools registered.
type Server struct {
	deps Deps
	srv  *mcpsdk.Server
}

// New builds the server and registers every tool.
func New(deps Deps) (*Server, error) {
	if deps.Directory == nil || deps.Registry == nil || deps.Extractor == nil {
		return nil, errors.New("mcpserver: directory, registry and extractor are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		deps: deps,
		srv: mcpsdk.NewServer(&mcpsdk.Implementation{Name: "meetvoice", Version: deps.Version}, nil),
	}

	addTool(s, &mcpsdk.Tool{
		Name:        ToolFindContact,
		Description: "Look up a known contact by spoken name and/or company. Tolerates partial and misheard names.",
	}, s.findContact)
	addTool(s, &mcpsdk.Tool{
		Name:        ToolListUpcomingMeetings,
		Description: "List scheduled meetings that have not started yet, soonest first.",
	}, s.listUpcoming)
	addTool(s, &mcpsdk.Tool{
		Name:        ToolMeetingsForContact,
		Description: "List all meetings booked with a registry contact.",
	}, s.meetingsForContact)
	addTool(s, &mcpsdk.Tool{
		Name:        ToolExtractMeeting,
		Description: "Extract meeting details (name, email, company, time, purpose, duration) from a free-form transcript.",
	}, s.extractMeeting)
	addTool(s, &mcpsdk.Tool{
		Name:        ToolScheduleMeeting,
		Description: "Book a meeting. An email address is required; a contact with the same email is reused.",
	}, s.scheduleMeeting)
	addTool(s, &mcpsdk.Tool{
		Name:        ToolSetMeetingStatus,
		Description: "Mark a meeting as completed or cancelled.",
	}, s.setMeetingStatus)

	return s, nil
}

// MCP returns the underlying SDK server, e.g. for in-memory transports.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// addTool registers h under t. Results are returned as JSON text content and
// every call is timed and counted.
func addTool[In any](s *Server, t *mcpsdk.Tool, h func(context.Context, In) (any, error)) {
	mcpsdk.AddTool(s.srv, t, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		start := time.Now()
		out, err := h(ctx, in)
		s.deps.Metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

		status := "ok"
		defer func() { s.deps.Metrics.RecordToolCall(ctx, t.Name, status) }()

		if err != nil {
			status = "error"
			observe.Logger(ctx).Warn("mcp tool failed", "tool", t.Name, "err", err)
			return nil, nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			status = "error"
			return nil, nil, fmt.Errorf("mcpserver: encode %s result: %w", t.Name, err)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		}, nil, nil
	})
}
