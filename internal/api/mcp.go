package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Queue  QueueService
	Config ConfigService
	Poller Poller
}

// NewMCPServer creates an MCP server exposing the operator actions of the
// auto-reply service.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"waagent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("waagent: review and resolve proposed WhatsApp auto-replies and manage auto-reply policy."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_approval_queue",
			mcp.WithDescription("List proposed auto-replies waiting for operator approval, oldest first."),
			mcp.WithString("status", mcp.Description("pending (default), approved, rejected or expired")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items (default 50)")),
		),
		mcpListQueue(deps),
	)

	s.AddTool(
		mcp.NewTool("resolve_approval",
			mcp.WithDescription("Approve (and send) or reject a pending proposal."),
			mcp.WithNumber("id", mcp.Description("Queue item id"), mcp.Required()),
			mcp.WithString("action", mcp.Description("approve or reject"), mcp.Required()),
			mcp.WithString("edited_text", mcp.Description("Replacement text to send instead of the proposal")),
		),
		mcpResolve(deps),
	)

	s.AddTool(
		mcp.NewTool("poll_now",
			mcp.WithDescription("Run one poll cycle over unseen inbound messages and return its summary."),
		),
		mcpPollNow(deps),
	)

	s.AddTool(
		mcp.NewTool("set_auto_response",
			mcp.WithDescription("Enable or disable auto-replies for one chat."),
			mcp.WithString("chat_jid", mcp.Description("Chat JID, e.g. 15551234567@s.whatsapp.net"), mcp.Required()),
			mcp.WithBoolean("enabled", mcp.Description("Whether auto-replies are on for this chat"), mcp.Required()),
			mcp.WithBoolean("require_approval", mcp.Description("Queue every reply for approval")),
			mcp.WithNumber("max_daily_responses", mcp.Description("Daily cap on autonomous replies")),
		),
		mcpSetAutoResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("set_kill_switch",
			mcp.WithDescription("Turn all auto-replies on or off globally."),
			mcp.WithBoolean("enabled", mcp.Description("true to allow auto-replies"), mcp.Required()),
		),
		mcpSetKillSwitch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"autoreply://queue/pending",
			"Pending Approvals",
			mcp.WithResourceDescription("Pending auto-reply proposals as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpListQueue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", storage.StatusPending)
		limit := req.GetInt("limit", 50)

		items, err := deps.Queue.List(status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing queue failed: %v", err)), nil
		}
		if items == nil {
			items = []storage.QueueItem{}
		}
		return mcpJSON(items)
	}
}

func mcpResolve(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		var edited *string
		if s := req.GetString("edited_text", ""); s != "" {
			edited = &s
		}

		res, err := deps.Queue.Resolve(context.WithoutCancel(ctx), int64(id), autoreply.Action(action), edited)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("Queue item not found or already processed"), nil
		}
		if err != nil && res.MessageID == "" {
			return mcpError(fmt.Sprintf("resolve failed: %v", err)), nil
		}
		if err != nil {
			return mcpText(fmt.Sprintf("Sent %s, but: %v", res.MessageID, err)), nil
		}
		if res.MessageID != "" {
			return mcpText(fmt.Sprintf("Approved item %d, sent message %s", id, res.MessageID)), nil
		}
		return mcpText(fmt.Sprintf("Rejected item %d", id)), nil
	}
}

func mcpPollNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sum, err := deps.Poller.PollOnce(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("poll failed: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpSetAutoResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chat, err := req.RequireString("chat_jid")
		if err != nil {
			return mcpError("chat_jid is required"), nil
		}
		enabled, err := req.RequireBool("enabled")
		if err != nil {
			return mcpError("enabled is required"), nil
		}

		u := autoreply.ConfigUpdate{ChatJID: chat, Enabled: &enabled}
		args := req.GetArguments()
		if _, ok := args["require_approval"]; ok {
			v := req.GetBool("require_approval", true)
			u.RequireApproval = &v
		}
		if _, ok := args["max_daily_responses"]; ok {
			u.MaxDailyResponses = autoreply.Some(req.GetInt("max_daily_responses", 0))
		}

		cfg, err := deps.Config.Update(u)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(cfg)
	}
}

func mcpSetKillSwitch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		enabled, err := req.RequireBool("enabled")
		if err != nil {
			return mcpError("enabled is required"), nil
		}
		if err := deps.Config.SetKillSwitch(enabled); err != nil {
			return mcpError(fmt.Sprintf("failed to set kill switch: %v", err)), nil
		}
		if enabled {
			return mcpText("Auto-replies enabled"), nil
		}
		return mcpText("Auto-replies disabled"), nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Queue.List(storage.StatusPending, 200)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending approvals: %w", err)
		}
		if items == nil {
			items = []storage.QueueItem{}
		}
		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
