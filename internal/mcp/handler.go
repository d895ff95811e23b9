package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"lspmux/internal/errors"
)

// handleMessage processes one incoming message and returns the response
// to write, or nil for notifications.
func (s *Server) handleMessage(msg *MCPMessage) *MCPMessage {
	if msg.IsRequest() {
		return s.handleRequest(msg)
	}
	if msg.IsNotification() {
		s.handleNotification(msg)
		return nil
	}
	return NewErrorMessage(msg.Id, InvalidRequest, "Invalid message: not a request or notification", nil)
}

func (s *Server) handleRequest(msg *MCPMessage) *MCPMessage {
	s.logger.Debug("Handling request", map[string]interface{}{
		"method": msg.Method,
		"id":     msg.Id,
	})

	switch msg.Method {
	case "initialize":
		return NewResultMessage(msg.Id, s.initializeResult())
	case "tools/list":
		return NewResultMessage(msg.Id, map[string]interface{}{
			"tools": s.toolDefinitions(),
		})
	case "tools/call":
		return s.handleCallTool(msg)
	default:
		return NewErrorMessage(msg.Id, MethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method), nil)
	}
}

func (s *Server) handleNotification(msg *MCPMessage) {
	switch msg.Method {
	case "notifications/initialized":
		s.logger.Info("Client initialized", nil)
	default:
		s.logger.Debug("Unknown notification", map[string]interface{}{
			"method": msg.Method,
		})
	}
}

// ServerCapabilities represents the capabilities exposed by the server
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents the tools capability
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo identifies the server to the client
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

func (s *Server) initializeResult() *InitializeResult {
	return &InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    "lspmux",
			Version: s.version,
		},
	}
}

// handleCallTool executes a tool and wraps its result or error as text
// content. Tool failures come back as tool results with isError set, not
// as protocol errors, so clients can render them.
func (s *Server) handleCallTool(msg *MCPMessage) *MCPMessage {
	params, ok := msg.Params.(map[string]interface{})
	if !ok {
		return NewErrorMessage(msg.Id, InvalidParams, "Invalid params: expected object", nil)
	}

	toolName, ok := params["name"].(string)
	if !ok {
		return NewErrorMessage(msg.Id, InvalidParams, "Missing tool name", nil)
	}

	toolParams, ok := params["arguments"].(map[string]interface{})
	if !ok {
		toolParams = make(map[string]interface{})
	}

	handler, exists := s.tools[toolName]
	if !exists {
		return NewErrorMessage(msg.Id, MethodNotFound, fmt.Sprintf("Unknown tool: %s", toolName), nil)
	}

	s.logger.Info("Calling tool", map[string]interface{}{
		"tool": toolName,
	})

	result, err := handler(context.Background(), toolParams)
	if err != nil {
		return NewResultMessage(msg.Id, errorContent(err))
	}
	return NewResultMessage(msg.Id, textContent(result, false))
}

func textContent(result interface{}, isError bool) map[string]interface{} {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(result)))
	}
	out := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(data)},
		},
	}
	if isError {
		out["isError"] = true
	}
	return out
}

func errorContent(err error) map[string]interface{} {
	payload := map[string]interface{}{
		"code":    string(errors.CodeOf(err)),
		"message": err.Error(),
	}
	var be *errors.BridgeError
	if errors.AsBridge(err, &be) && be.Details != nil {
		payload["details"] = be.Details
	}
	return textContent(map[string]interface{}{"error": payload}, true)
}
