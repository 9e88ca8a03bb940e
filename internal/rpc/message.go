package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Request is the normalized inbound command shape shared by every
// transport and by the scanner.
type Request struct {
	Cmd   string          `json:"cmd"`
	Args  json.RawMessage `json:"args"`
	Nonce json.RawMessage `json:"nonce"`
}

// Response is an outbound frame. A nil Evt and a nil Nonce are written
// as JSON null.
type Response struct {
	Cmd   string          `json:"cmd"`
	Data  any             `json:"data"`
	Evt   *string         `json:"evt"`
	Nonce json.RawMessage `json:"nonce"`
}

var (
	evtError = ptr("ERROR")
	evtReady = ptr("READY")
)

func ptr[T any](v T) *T { return &v }

// ActivityEvent is published to the bridge whenever an activity starts,
// updates or ends. Activity is nil for stop events.
type ActivityEvent struct {
	Activity map[string]any `json:"activity"`
	PID      *int           `json:"pid,omitempty"`
	SocketID string         `json:"socketId"`
}

// DecodeRequest parses one transport payload. Payloads that are not a JSON
// object or that carry no cmd are rejected.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if req.Cmd == "" {
		return Request{}, fmt.Errorf("malformed request: missing cmd")
	}
	return req, nil
}

// Handshake is the first message on an IPC connection, and the query
// parameters of a WebSocket upgrade.
type Handshake struct {
	Version  int
	ClientID string
	Encoding string
}

// DecodeHandshake parses an IPC handshake payload. The version may be sent
// as a number or a numeric string and defaults to ProtocolVersion when
// absent. A non-string client_id is kept as its JSON text.
func DecodeHandshake(data []byte) (Handshake, error) {
	var raw struct {
		V        json.RawMessage `json:"v"`
		ClientID json.RawMessage `json:"client_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Handshake{}, fmt.Errorf("malformed handshake: %w", err)
	}
	v, err := parseVersion(raw.V)
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Version: v, ClientID: parseClientID(raw.ClientID), Encoding: "json"}, nil
}

func parseClientID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseVersion(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ProtocolVersion, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseVersionString(s), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("malformed handshake version %s", raw)
	}
	return int(f), nil
}

// ParseVersionString reads a version from a query or handshake string.
// Empty means ProtocolVersion; garbage yields 0, which never validates.
func ParseVersionString(s string) int {
	if s == "" {
		return ProtocolVersion
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// Validate applies the shared handshake rules. requireClientID is set by
// transports that must know the application (IPC). It returns the close
// code to use on failure and 0 on success.
func (h Handshake) Validate(requireClientID bool) int {
	if h.Version != ProtocolVersion {
		return ErrorInvalidVersion
	}
	if h.Encoding != "" && h.Encoding != "json" {
		return ErrorInvalidEncoding
	}
	if requireClientID && h.ClientID == "" {
		return ErrorInvalidClientID
	}
	return 0
}
