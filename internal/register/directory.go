// ABOUTME: In-memory discovery directory mapping agent names and monitor addresses.
// ABOUTME: Mutex-guarded maps behind an explicit API; state is in-memory only.

package register

import (
	"sync"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

// Directory holds who is up and where the monitors are. It lives in memory
// only: agents and monitors re-register on their own retry loops, so loss
// on restart is acceptable.
type Directory struct {
	mu       sync.RWMutex
	agents   map[string]protocol.Agent
	monitors map[string]protocol.MonitorNode
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		agents:   make(map[string]protocol.Agent),
		monitors: make(map[string]protocol.MonitorNode),
	}
}

// UpsertAgent records or refreshes an agent entry.
func (d *Directory) UpsertAgent(agent protocol.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agent.Name] = agent
}

// UpsertMonitor records or refreshes a monitor node, keyed by address.
func (d *Directory) UpsertMonitor(node protocol.MonitorNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitors[node.Address] = node
}

// PickMonitor returns one currently known monitor node. The selection is
// arbitrary; single-monitor deployments make it deterministic and no
// multi-monitor policy is defined yet.
func (d *Directory) PickMonitor() (protocol.MonitorNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, node := range d.monitors {
		return node, true
	}
	return protocol.MonitorNode{}, false
}

// GetAgent looks up a single agent by name.
func (d *Directory) GetAgent(name string) (protocol.Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agent, ok := d.agents[name]
	return agent, ok
}

// Agents returns a snapshot of all registered agents.
func (d *Directory) Agents() []protocol.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agents := make([]protocol.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		agents = append(agents, a)
	}
	return agents
}

// Monitors returns a snapshot of all known monitor nodes.
func (d *Directory) Monitors() []protocol.MonitorNode {
	d.mu.RLock()
	defer d.mu.RUnlock()

	monitors := make([]protocol.MonitorNode, 0, len(d.monitors))
	for _, m := range d.monitors {
		monitors = append(monitors, m)
	}
	return monitors
}
