package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/skybridge/adapters"
	"github.com/mbocsi/skybridge/client"
)

// Controller is the part of the bridge the tools drive.
type Controller interface {
	State() client.State
	URL() string
	Topics() []client.TopicInfo
	Connect(ctx context.Context) error
	Disconnect() error
}

type PoseSource interface {
	Poses() []adapters.PoseSnapshot
	Pose(name string) (adapters.PoseSnapshot, bool)
}

// MCPServer exposes the bridge to agents as MCP tools over stdio.
type MCPServer struct {
	Server     *server.MCPServer
	controller Controller
	poses      PoseSource
}

func NewMCPServer(version string, controller Controller, poses PoseSource) *MCPServer {
	s := &MCPServer{
		Server:     server.NewMCPServer("skybridge", version),
		controller: controller,
		poses:      poses,
	}
	s.registerTools()
	return s
}

func (s *MCPServer) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}

func (s *MCPServer) registerTools() {
	s.Server.AddTool(mcp.NewTool("bridge_status",
		mcp.WithDescription("Get the rosbridge connection state and endpoint"),
	), s.handleStatus)

	s.Server.AddTool(mcp.NewTool("list_topics",
		mcp.WithDescription("List subscribed ROS topics with their message type and subscriber count"),
	), s.handleListTopics)

	s.Server.AddTool(mcp.NewTool("connect_bridge",
		mcp.WithDescription("Connect to rosbridge, retrying as configured"),
	), s.handleConnect)

	s.Server.AddTool(mcp.NewTool("disconnect_bridge",
		mcp.WithDescription("Close the rosbridge connection"),
	), s.handleDisconnect)

	s.Server.AddTool(mcp.NewTool("get_pose",
		mcp.WithDescription("Get the latest pose of an odometry adapter in the display frame"),
		mcp.WithString("name",
			mcp.Description("Adapter name; omit to list every adapter"),
		),
		mcp.WithBoolean("smoothed",
			mcp.Description("Return only the smoothed display pose instead of the full snapshot"),
		),
	), s.handleGetPose)
}

type statusResult struct {
	State  string             `json:"state"`
	URL    string             `json:"url"`
	Topics []client.TopicInfo `json:"topics"`
}

func (s *MCPServer) status() statusResult {
	return statusResult{
		State:  s.controller.State().String(),
		URL:    s.controller.URL(),
		Topics: s.controller.Topics(),
	}
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status())
}

func (s *MCPServer) handleListTopics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.controller.Topics())
}

func (s *MCPServer) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.Connect(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect: %v", err)), nil
	}
	return jsonResult(s.status())
}

func (s *MCPServer) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.Disconnect(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to disconnect: %v", err)), nil
	}
	return jsonResult(s.status())
}

func (s *MCPServer) handleGetPose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	smoothed := request.GetBool("smoothed", false)
	name := request.GetString("name", "")

	if name == "" {
		poses := s.poses.Poses()
		if !smoothed {
			return jsonResult(poses)
		}
		result := make(map[string]adapters.Pose, len(poses))
		for _, p := range poses {
			result[p.Name] = p.Smoothed
		}
		return jsonResult(result)
	}

	pose, ok := s.poses.Pose(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("No odometry adapter named %q", name)), nil
	}
	if smoothed {
		return jsonResult(pose.Smoothed)
	}
	return jsonResult(pose)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
