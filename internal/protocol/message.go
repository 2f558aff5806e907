// Package protocol defines the wire formats shared by the agent and the
// console: JSON commands and responses on the command channel, binary
// screen frames and input events on the frame channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Command types understood by the agent.
const (
	CmdSystemInfo      = "system_info"
	CmdHardwareMonitor = "hardware_monitor"
	CmdNetworkMonitor  = "network_monitor"
	CmdPowerManagement = "power_management"
	CmdStartRDP        = "start_rdp"
	CmdStopRDP         = "stop_rdp"
	CmdExecuteCommand  = "execute_command"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is a single request on the command channel. There is no
// correlation identifier: the channel carries one request at a time.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Response answers exactly one Command.
type Response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool { return r.Status == StatusSuccess }

// Err converts an error response into a Go error. It returns nil for
// successful responses.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	if r.Message == "" {
		return fmt.Errorf("remote error")
	}
	return fmt.Errorf("remote error: %s", r.Message)
}

// Bind unmarshals the response data into v.
func (r Response) Bind(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: response data: %v", ErrProtocol, err)
	}
	return nil
}

// Bind copies the command data into the struct v through its JSON tags.
func (c Command) Bind(v any) error {
	if len(c.Data) == 0 {
		return nil
	}
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("%w: command data: %v", ErrProtocol, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: command data: %v", ErrProtocol, err)
	}
	return nil
}

// Success builds a success response around v. A value that cannot be
// marshalled turns into an error response instead.
func Success(v any) Response {
	if v == nil {
		return Response{Status: StatusSuccess}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Failure("encode result: %v", err)
	}
	return Response{Status: StatusSuccess, Data: data}
}

// Failure builds an error response with a formatted message.
func Failure(format string, args ...any) Response {
	return Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// EncodeCommand serialises a command to JSON.
func EncodeCommand(c Command) ([]byte, error) {
	if c.Type == "" {
		return nil, fmt.Errorf("%w: command without type", ErrProtocol)
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	return json.Marshal(c)
}

// DecodeCommand parses a JSON command. Malformed structure or an empty
// type wraps ErrProtocol.
func DecodeCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("%w: decode command: %v", ErrProtocol, err)
	}
	if c.Type == "" {
		return Command{}, fmt.Errorf("%w: command without type", ErrProtocol)
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	return c, nil
}

// EncodeResponse serialises a response to JSON.
func EncodeResponse(r Response) ([]byte, error) {
	if r.Status != StatusSuccess && r.Status != StatusError {
		return nil, fmt.Errorf("%w: invalid status %q", ErrProtocol, r.Status)
	}
	return json.Marshal(r)
}

// DecodeResponse parses a JSON response.
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if r.Status != StatusSuccess && r.Status != StatusError {
		return Response{}, fmt.Errorf("%w: invalid status %q", ErrProtocol, r.Status)
	}
	return r, nil
}

// DisplayInfo describes a single connected display.
type DisplayInfo struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RDPEndpoint is the result of start_rdp: where the viewer should
// connect its frame channel and how frame payloads are encoded.
type RDPEndpoint struct {
	IP    string `json:"ip"`
	Port  int    `json:"port"`
	TLS   bool   `json:"tls"`
	Codec string `json:"codec,omitempty"`
}
