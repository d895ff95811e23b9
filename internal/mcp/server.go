// Package mcp exposes the bridge operations as MCP tools over stdio.
// Messages are newline-delimited JSON-RPC; the framed protocol on the
// backend side never mixes with this stream because backends own their
// own pipes.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"lspmux/internal/dispatch"
	"lspmux/internal/logging"
	"lspmux/internal/lsp"
)

// MaxMessageSize is the maximum size for a single MCP message (1MB)
const MaxMessageSize = 1024 * 1024

// ToolHandler handles one tool call
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Server is the MCP tool server driving the dispatcher
type Server struct {
	stdin   io.Reader
	stdout  io.Writer
	scanner *bufio.Scanner
	logger  *logging.Logger

	version   string
	sessionID string

	dispatcher *dispatch.Dispatcher
	supervisor *lsp.Supervisor
	tools      map[string]ToolHandler
}

// NewServer creates an MCP server over the given dispatcher and
// supervisor.
func NewServer(version string, dispatcher *dispatch.Dispatcher, supervisor *lsp.Supervisor, logger *logging.Logger) *Server {
	s := &Server{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		logger:     logger,
		version:    version,
		sessionID:  uuid.NewString(),
		dispatcher: dispatcher,
		supervisor: supervisor,
		tools:      make(map[string]ToolHandler),
	}
	s.registerTools()
	return s
}

// SetStdin sets the input stream (for testing)
func (s *Server) SetStdin(r io.Reader) {
	s.stdin = r
	s.scanner = nil
}

// SetStdout sets the output stream (for testing)
func (s *Server) SetStdout(w io.Writer) {
	s.stdout = w
}

// Start runs the message loop until EOF
func (s *Server) Start() error {
	s.logger.Info("MCP server starting", map[string]interface{}{
		"version": s.version,
		"session": s.sessionID,
	})

	for {
		msg, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("MCP server shutting down (EOF)", nil)
				return nil
			}
			s.logger.Error("Error reading message", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		response := s.handleMessage(msg)
		if response != nil {
			if err := s.writeMessage(response); err != nil {
				s.logger.Error("Error writing response", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// readMessage reads one newline-delimited JSON-RPC message
func (s *Server) readMessage() (*MCPMessage, error) {
	if s.scanner == nil {
		s.scanner = bufio.NewScanner(s.stdin)
		s.scanner.Buffer(make([]byte, MaxMessageSize), MaxMessageSize)
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading from stdin: %w", err)
		}
		return nil, io.EOF
	}

	line := s.scanner.Text()
	var msg MCPMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("error parsing JSON-RPC message: %w", err)
	}
	return &msg, nil
}

// writeMessage writes one message followed by a newline
func (s *Server) writeMessage(msg *MCPMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error marshaling JSON-RPC message: %w", err)
	}
	if _, err := fmt.Fprintf(s.stdout, "%s\n", data); err != nil {
		return fmt.Errorf("error writing to stdout: %w", err)
	}
	return nil
}
