package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agent-relay/broker/internal/events"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("send_dm",
			mcp.WithDescription("Send a direct message to another agent or to the remote Relaycast service."),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your own agent name")),
			mcp.WithString("token", mcp.Required(), mcp.Description("Your per-agent relay token")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Target agent name or remote recipient")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message body")),
		),
		s.sendDMHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("post_message",
			mcp.WithDescription("Post a message to a channel; delivered to every local agent subscribed to it."),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your own agent name")),
			mcp.WithString("token", mcp.Required(), mcp.Description("Your per-agent relay token")),
			mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name, without the leading #")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message body")),
		),
		s.postMessageHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reply_to_thread",
			mcp.WithDescription("Reply within an existing message thread."),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your own agent name")),
			mcp.WithString("token", mcp.Required(), mcp.Description("Your per-agent relay token")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Target agent name or remote recipient")),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread identifier being replied to")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message body")),
		),
		s.replyToThreadHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("check_inbox",
			mcp.WithDescription("List recent messages delivered to you."),
			mcp.WithString("agent_name", mcp.Required(), mcp.Description("Your own agent name")),
			mcp.WithString("token", mcp.Required(), mcp.Description("Your per-agent relay token")),
		),
		s.checkInboxHandler(),
	)
}

func (s *Server) sendDMHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentName, err := req.RequireString("agent_name")
		if err != nil {
			return mcp.NewToolResultError("agent_name is required"), nil
		}
		token, err := req.RequireString("token")
		if err != nil {
			return mcp.NewToolResultError("token is required"), nil
		}
		if !s.authorize(agentName, token) {
			return mcp.NewToolResultError("invalid agent_name/token"), nil
		}
		to, err := req.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError("to is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		eventID := uuid.NewString()
		if _, derr := s.registry.Get(to); derr == nil {
			if _, err := s.pipeline.Enqueue(to, agentName, text, "", "", 3, eventID); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		if s.relay != nil {
			_ = s.relay.PostOutbound(ctx, agentName, to, "", text)
		}
		s.bus.Publish(events.BrokerSubject(events.KindRelayInbound), events.RelayInbound(agentName, to, "", text))
		return mcp.NewToolResultText("sent"), nil
	}
}

func (s *Server) postMessageHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentName, err := req.RequireString("agent_name")
		if err != nil {
			return mcp.NewToolResultError("agent_name is required"), nil
		}
		token, err := req.RequireString("token")
		if err != nil {
			return mcp.NewToolResultError("token is required"), nil
		}
		if !s.authorize(agentName, token) {
			return mcp.NewToolResultError("invalid agent_name/token"), nil
		}
		channel, err := req.RequireString("channel")
		if err != nil {
			return mcp.NewToolResultError("channel is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		eventID := uuid.NewString()
		members := s.registry.ChannelMembers(channel)
		for _, member := range members {
			if member == agentName {
				continue
			}
			if _, err := s.pipeline.Enqueue(member, agentName, text, "", channel, 3, eventID); err != nil {
				continue
			}
		}
		if s.relay != nil {
			_ = s.relay.PostOutbound(ctx, agentName, "#"+channel, "", text)
		}
		s.bus.Publish(events.BrokerSubject(events.KindRelayInbound), events.RelayInbound(agentName, "#"+channel, "", text))
		result, _ := json.Marshal(map[string]interface{}{"channel": channel, "targets": members})
		return mcp.NewToolResultText(string(result)), nil
	}
}

func (s *Server) replyToThreadHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentName, err := req.RequireString("agent_name")
		if err != nil {
			return mcp.NewToolResultError("agent_name is required"), nil
		}
		token, err := req.RequireString("token")
		if err != nil {
			return mcp.NewToolResultError("token is required"), nil
		}
		if !s.authorize(agentName, token) {
			return mcp.NewToolResultError("invalid agent_name/token"), nil
		}
		to, err := req.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError("to is required"), nil
		}
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError("thread_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		eventID := uuid.NewString()
		if _, derr := s.registry.Get(to); derr == nil {
			if _, err := s.pipeline.Enqueue(to, agentName, text, threadID, "", 3, eventID); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		if s.relay != nil {
			_ = s.relay.PostOutbound(ctx, agentName, to, threadID, text)
		}
		s.bus.Publish(events.BrokerSubject(events.KindRelayInbound), events.RelayInbound(agentName, to, threadID, text))
		return mcp.NewToolResultText("replied"), nil
	}
}

func (s *Server) checkInboxHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentName, err := req.RequireString("agent_name")
		if err != nil {
			return mcp.NewToolResultError("agent_name is required"), nil
		}
		token, err := req.RequireString("token")
		if err != nil {
			return mcp.NewToolResultError("token is required"), nil
		}
		if !s.authorize(agentName, token) {
			return mcp.NewToolResultError("invalid agent_name/token"), nil
		}
		rec, err := s.registry.Get(agentName)
		if err != nil {
			return mcp.NewToolResultError("agent_not_found"), nil
		}
		data, _ := json.MarshalIndent(rec.History(), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}
