// ABOUTME: Client agent driving the discover → connect → stream → retry loop.
// ABOUTME: Streams periodic telemetry reports with structured cancellation of the report loop.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/protocol"
	"github.com/overwatch-io/overwatch/internal/sysinfo"
)

// discoverTimeout bounds one discovery attempt: dialing the register plus
// waiting for its (optional) reply.
const discoverTimeout = 10 * time.Second

// Sampler collects host telemetry. Satisfied by *sysinfo.Collector; tests
// substitute a fake.
type Sampler interface {
	Sample(ctx context.Context, name string) (*protocol.Report, error)
	QuickReport(ctx context.Context, name string) (*protocol.Report, error)
}

// Agent is the reporting client. Its identity is created once and stays
// stable for the process lifetime.
type Agent struct {
	identity    protocol.Agent
	registerURL string
	sampler     Sampler

	reportInterval time.Duration
	retryDelay     time.Duration

	logger *slog.Logger
}

// New creates an Agent from configuration with a freshly generated name.
func New(cfg *config.AgentConfig, logger *slog.Logger) *Agent {
	address := cfg.Address
	if address == "" {
		address = localAddress()
	}

	name := protocol.RandomAgentName()
	return &Agent{
		identity:       protocol.Agent{Name: name, Address: address, Online: true},
		registerURL:    cfg.RegisterURL,
		sampler:        sysinfo.NewCollector(),
		reportInterval: cfg.ReportInterval,
		retryDelay:     cfg.RetryDelay,
		logger:         logger.With("component", "agent", "name", name),
	}
}

// Identity returns the agent's stable identity.
func (a *Agent) Identity() protocol.Agent {
	return a.identity
}

// Run drives the session state machine until the context is canceled:
// Idle → Discovering → Streaming, restarting from the top on any failure
// after the retry delay. Cancellation interrupts every wait and flows
// through the same cleanup path as a failure.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"address", a.identity.Address,
		"register_url", a.registerURL,
	)

	for {
		node, err := a.discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("discovery failed, retrying", "error", err, "retry_in", a.retryDelay)
			if !sleepCtx(ctx, a.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		a.logger.Info("discovered monitor", "address", node.Address)

		if err := a.stream(ctx, node.Address); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("telemetry session ended, retrying", "error", err, "retry_in", a.retryDelay)
			if !sleepCtx(ctx, a.retryDelay) {
				return ctx.Err()
			}
		}
	}
}

// discover opens a register channel, sends CLIENT_REGIST, and waits for a
// single MonitorNode reply. No reply before the deadline or channel closure
// is a failure; the caller re-enters discovery after the retry delay.
func (a *Agent) discover(ctx context.Context) (*protocol.MonitorNode, error) {
	dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, a.registerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing register service: %w", err)
	}
	defer conn.CloseNow()

	cmd, err := protocol.NewClientRegist(a.identity)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(dctx, conn, cmd); err != nil {
		return nil, fmt.Errorf("sending CLIENT_REGIST: %w", err)
	}

	_, data, err := conn.Read(dctx)
	if err != nil {
		return nil, fmt.Errorf("awaiting monitor address: %w", err)
	}

	var node protocol.MonitorNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decoding monitor address: %w", err)
	}
	if node.Address == "" {
		// An error reply decodes to an empty node; treat it like no reply.
		var reply protocol.ErrorReply
		if json.Unmarshal(data, &reply) == nil && reply.Error != "" {
			return nil, fmt.Errorf("register rejected registration: %s", reply.Error)
		}
		return nil, fmt.Errorf("register reply carried no monitor address")
	}

	// Discovery channels are short-lived; close once the address is in hand.
	conn.Close(websocket.StatusNormalClosure, "")
	return &node, nil
}

// stream opens the telemetry channel, announces CLIENT_ONLINE, and runs the
// report loop concurrently with a receive loop draining monitor frames.
// On channel closure from either side the report loop is cancelled and
// awaited before stream returns, so no report activity survives the
// transition back to Idle.
func (a *Agent) stream(ctx context.Context, monitorAddr string) error {
	conn, _, err := websocket.Dial(ctx, monitorURL(monitorAddr), nil)
	if err != nil {
		return fmt.Errorf("dialing monitor: %w", err)
	}
	defer conn.CloseNow()

	online, err := protocol.NewClientOnline(a.identity)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, online); err != nil {
		return fmt.Errorf("sending CLIENT_ONLINE: %w", err)
	}

	a.logger.Info("telemetry channel open", "monitor", monitorAddr)

	reportCtx, cancelReports := context.WithCancel(ctx)
	reportsDone := make(chan struct{})
	go func() {
		defer close(reportsDone)
		a.reportLoop(reportCtx, conn)
	}()

	// Receive loop: monitor-originated frames are informational only today;
	// drain them until the channel closes.
	var readErr error
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		a.logger.Debug("received from monitor", "frame", string(data))
	}

	cancelReports()
	<-reportsDone

	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
		return ctx.Err()
	}
	return fmt.Errorf("telemetry channel closed: %w", readErr)
}

// reportLoop sends one CLIENT_REPORT per tick until cancelled. A transient
// error inside a single tick (metrics collection, a failed write) is
// swallowed and the next tick retried; channel-level teardown arrives via
// cancellation from the receive loop.
func (a *Agent) reportLoop(ctx context.Context, conn *websocket.Conn) {
	first := true
	for {
		if err := a.sendReport(ctx, conn, first); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("report tick failed", "error", err)
		} else {
			first = false
		}

		if !sleepCtx(ctx, a.reportInterval) {
			return
		}
	}
}

func (a *Agent) sendReport(ctx context.Context, conn *websocket.Conn, first bool) error {
	var report *protocol.Report
	var err error
	if first {
		// The opening sample is the minimal epoch-ms report; later ticks
		// carry the full memory/disk sample.
		report, err = a.sampler.QuickReport(ctx, a.identity.Name)
	} else {
		report, err = a.sampler.Sample(ctx, a.identity.Name)
	}
	if err != nil {
		return fmt.Errorf("collecting sample: %w", err)
	}

	cmd, err := protocol.NewClientReport(report)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}

	a.logger.Debug("report sent", "load", report.Load, "cpus", report.CPUs)
	return nil
}

// monitorURL turns a discovered monitor address into a telemetry endpoint.
func monitorURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}

// localAddress guesses the host's outbound address. No traffic is sent;
// the UDP connect only resolves the route.
func localAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// sleepCtx waits for d or until ctx is done. Returns false when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
