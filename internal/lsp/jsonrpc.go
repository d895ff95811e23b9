package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"lspmux/internal/logging"
)

// Message represents a JSON-RPC 2.0 message
type Message struct {
	Jsonrpc string      `json:"jsonrpc"`
	Id      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RpcError   `json:"error,omitempty"`
}

// RpcError represents a JSON-RPC error
type RpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// nullResult marshals as an explicit "result": null. Responses to
// server-initiated requests must carry the result member even when empty,
// or strict servers treat the reply as malformed.
var nullResult = json.RawMessage("null")

// isResponse reports whether the message is a response (has an id, no method)
func (m *Message) isResponse() bool {
	return m.Id != nil && m.Method == ""
}

// idAsInt normalizes a JSON-RPC id to an int for pending-request lookup.
// Decoded ids arrive as float64; ids we allocate are ints.
func idAsInt(id interface{}) (int, bool) {
	switch v := id.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

const headerSeparator = "\r\n\r\n"

// encodeMessage serializes a message into one wire frame:
// "Content-Length: <N>\r\n\r\n" followed by the UTF-8 JSON body, where N
// is the exact byte length of the body.
func encodeMessage(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d%s", len(body), headerSeparator)
	buf.Write(body)
	return buf.Bytes(), nil
}

// decodeFrames drains zero or more complete frames from buf and returns
// the unconsumed remainder. It is a pure function of the buffer contents,
// independent of the underlying I/O: callers append newly read bytes and
// call it again. Incomplete frames are left in place untouched. Frames
// with a missing or non-numeric Content-Length are skipped by discarding
// up to and including the next separator, so one corrupt frame cannot
// stall the stream.
func decodeFrames(buf []byte, logger *logging.Logger) (rest []byte, msgs []*Message) {
	for {
		sep := bytes.Index(buf, []byte(headerSeparator))
		if sep < 0 {
			return buf, msgs
		}

		length, ok := parseContentLength(buf[:sep])
		if !ok {
			if logger != nil {
				logger.Warn("Skipping frame with malformed header", map[string]interface{}{
					"header": string(buf[:sep]),
				})
			}
			buf = buf[sep+len(headerSeparator):]
			continue
		}

		total := sep + len(headerSeparator) + length
		if len(buf) < total {
			// Body not fully arrived; wait for more input
			return buf, msgs
		}

		body := buf[sep+len(headerSeparator) : total]
		buf = buf[total:]

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			if logger != nil {
				logger.Warn("Skipping frame with unparseable body", map[string]interface{}{
					"error": err.Error(),
				})
			}
			continue
		}

		msgs = append(msgs, &msg)
	}
}

// parseContentLength extracts the Content-Length value from a header
// block. Header names are matched case-insensitively.
func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
