// ABOUTME: Wire types for the overwatch telemetry protocol.
// ABOUTME: Defines agent/monitor identities, telemetry reports, and the command envelope.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Command type tags. Every frame on a register or telemetry channel carries
// exactly one of these.
const (
	TypeClientRegist = "CLIENT_REGIST"
	TypeClientOnline = "CLIENT_ONLINE"
	TypeClientReport = "CLIENT_REPORT"
	TypeServerOnline = "SERVER_ONLINE"
)

// ErrMissingContents indicates a command arrived without the payload its tag requires.
var ErrMissingContents = errors.New("missing command contents")

// Agent identifies one reporting process. Name is generated once at startup
// and stays stable for the process lifetime. The online flag is only
// authoritative at the monitor server.
type Agent struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Online  bool   `json:"online"`
}

// MonitorNode identifies a monitor server by its reachable address.
type MonitorNode struct {
	Address string `json:"address"`
}

// Report is one telemetry sample. Memory and disk fields are optional;
// a nil pointer means the agent did not collect that metric, and it must
// stay absent on the wire.
type Report struct {
	Name          string    `json:"name"`
	OS            string    `json:"os"`
	Load          float64   `json:"load"`
	CPUs          int       `json:"cpus"`
	MemoryTotal   *float64  `json:"memory_total,omitempty"`
	MemoryUsed    *float64  `json:"memory_used,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	DiskTotal     *float64  `json:"disk_total,omitempty"`
	DiskUsed      *float64  `json:"disk_used,omitempty"`
	DiskPercent   *float64  `json:"disk_percent,omitempty"`
	Timestamp     Timestamp `json:"timestamp,omitempty"`
}

// Validate checks the fields every report must carry.
func (r *Report) Validate() error {
	if r.Name == "" {
		return errors.New("report missing agent name")
	}
	if r.Load < 0 {
		return fmt.Errorf("report load must be >= 0, got %v", r.Load)
	}
	if r.CPUs <= 0 {
		return fmt.Errorf("report cpu count must be > 0, got %d", r.CPUs)
	}
	return nil
}

// ErrorReply is the per-message error payload sent back on a
// request/response channel when a frame cannot be processed.
type ErrorReply struct {
	Error string `json:"error"`
}

// Command is the envelope carried by every frame: a string tag plus a
// tag-specific contents mapping. The envelope carries no version field;
// new contents fields must be optional to stay compatible.
type Command struct {
	Type     string                     `json:"type"`
	Contents map[string]json.RawMessage `json:"contents"`
}

// NewClientRegist builds the first message an agent sends on a register channel.
func NewClientRegist(agent Agent) (*Command, error) {
	return newCommand(TypeClientRegist, "client", agent)
}

// NewClientOnline builds the first message an agent sends on a telemetry channel.
func NewClientOnline(agent Agent) (*Command, error) {
	return newCommand(TypeClientOnline, "client", agent)
}

// NewClientReport wraps one telemetry sample for the telemetry channel.
func NewClientReport(report *Report) (*Command, error) {
	return newCommand(TypeClientReport, "report", report)
}

// NewServerOnline builds the monitor's one-shot startup announcement.
func NewServerOnline(address string) (*Command, error) {
	return newCommand(TypeServerOnline, "address", address)
}

func newCommand(typ, key string, payload any) (*Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s contents: %w", typ, err)
	}
	return &Command{
		Type:     typ,
		Contents: map[string]json.RawMessage{key: raw},
	}, nil
}

// Client decodes the agent identity carried by CLIENT_REGIST and CLIENT_ONLINE.
func (c *Command) Client() (*Agent, error) {
	raw, ok := c.Contents["client"]
	if !ok {
		return nil, fmt.Errorf("%s: %w: client", c.Type, ErrMissingContents)
	}
	var agent Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, fmt.Errorf("%s: decoding client: %w", c.Type, err)
	}
	if agent.Name == "" {
		return nil, fmt.Errorf("%s: client name is required", c.Type)
	}
	return &agent, nil
}

// Report decodes the telemetry sample carried by CLIENT_REPORT.
func (c *Command) Report() (*Report, error) {
	raw, ok := c.Contents["report"]
	if !ok {
		return nil, fmt.Errorf("%s: %w: report", c.Type, ErrMissingContents)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("%s: decoding report: %w", c.Type, err)
	}
	return &report, nil
}

// MonitorAddress decodes the address carried by SERVER_ONLINE.
func (c *Command) MonitorAddress() (string, error) {
	raw, ok := c.Contents["address"]
	if !ok {
		return "", fmt.Errorf("%s: %w: address", c.Type, ErrMissingContents)
	}
	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		return "", fmt.Errorf("%s: decoding address: %w", c.Type, err)
	}
	if addr == "" {
		return "", fmt.Errorf("%s: address is required", c.Type)
	}
	return addr, nil
}

// RandomAgentName returns a short opaque token, unique per process lifetime.
func RandomAgentName() string {
	return strings.ToUpper(uuid.New().String()[:8])
}
