package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
)

const (
	tickDurationMetricKey    = "sim_tick_duration_millis"
	commandsAppliedMetricKey = "sim_commands_applied_total"
)

// HubConfig tunes the loop and the staging buffer.
type HubConfig struct {
	TickRate        int
	CommandCapacity int
	ServerVersion   string
	Clock           logging.Clock
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
}

func (c HubConfig) normalized() HubConfig {
	if c.TickRate <= 0 {
		c.TickRate = 15
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 256
	}
	if c.Clock == nil {
		c.Clock = logging.SystemClock{}
	}
	return c
}

// Hub owns the world and the single goroutine allowed to mutate it. Request
// goroutines stage work through Enqueue; the loop drains the buffer once per
// tick and applies it in FIFO order. Reads go through the snapshot accessors,
// which copy state under the same mutex the loop holds while stepping, so
// readers never observe a half-applied tick.
type Hub struct {
	mu     sync.Mutex
	world  *World
	buffer *CommandBuffer
	cfg    HubConfig

	tick           atomic.Uint64
	lastTickMillis atomic.Int64
	started        time.Time
}

// NewHub wraps the world with the command buffer and loop configuration.
func NewHub(world *World, cfg HubConfig) *Hub {
	normalized := cfg.normalized()
	return &Hub{
		world:   world,
		buffer:  NewCommandBuffer(normalized.CommandCapacity, normalized.Metrics),
		cfg:     normalized,
		started: normalized.Clock.Now(),
	}
}

// Enqueue stages a command from any goroutine without blocking. It reports a
// reject reason when the buffer is saturated. After the loop has stopped,
// staged commands are silently discarded rather than surfaced as errors.
func (h *Hub) Enqueue(cmd Command) (bool, string) {
	if h == nil {
		return false, CommandRejectQueueFull
	}
	switch cmd.Type {
	case CommandConsole, CommandWhitelistAdd, CommandWhitelistRemove:
	default:
		return false, CommandRejectInvalid
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = h.cfg.Clock.Now()
	}
	if !h.buffer.Push(cmd) {
		if h.cfg.Logger != nil {
			h.cfg.Logger.Printf("[backpressure] dropping command actor=%s type=%s", cmd.Actor, cmd.Type)
		}
		return false, CommandRejectQueueFull
	}
	return true, ""
}

// Pending reports the number of staged commands.
func (h *Hub) Pending() int {
	if h == nil {
		return 0
	}
	return h.buffer.Len()
}

// Advance drains the staged commands and runs a single simulation step. The
// loop goroutine calls this once per tick; tests call it directly.
func (h *Hub) Advance(now time.Time, dt float64) {
	if h == nil {
		return
	}
	commands := h.buffer.Drain()
	h.tick.Add(1)

	start := h.cfg.Clock.Now()
	h.mu.Lock()
	h.world.Apply(commands)
	h.world.Step(now, dt)
	h.mu.Unlock()
	elapsed := h.cfg.Clock.Now().Sub(start)

	h.lastTickMillis.Store(elapsed.Milliseconds())
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Store(tickDurationMetricKey, uint64(max(elapsed.Milliseconds(), 0)))
		if len(commands) > 0 {
			h.cfg.Metrics.Add(commandsAppliedMetricKey, uint64(len(commands)))
		}
	}
}

// Run drives the fixed-rate tick loop until the stop channel closes.
func (h *Hub) Run(stop <-chan struct{}) {
	if h == nil {
		return
	}
	tickRate := h.cfg.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := h.cfg.Clock.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := h.cfg.Clock.Now()
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = 1.0 / float64(tickRate)
			}
			last = now
			h.Advance(now, dt)
		}
	}
}

// Tick reports the most recently completed tick number.
func (h *Hub) Tick() uint64 {
	if h == nil {
		return 0
	}
	return h.tick.Load()
}

// Status builds the health-endpoint snapshot.
func (h *Hub) Status() Status {
	h.mu.Lock()
	online := h.world.ActorCount()
	cfg := h.world.Config()
	h.mu.Unlock()

	return Status{
		OK:             true,
		ServerName:     cfg.ServerName,
		Version:        h.cfg.ServerVersion,
		MOTD:           cfg.MOTD,
		OnlineActors:   online,
		MaxActors:      cfg.MaxActors,
		TickRate:       h.cfg.TickRate,
		Tick:           h.tick.Load(),
		LastTickMillis: h.lastTickMillis.Load(),
		UptimeSeconds:  h.cfg.Clock.Now().Sub(h.started).Seconds(),
	}
}

// Actors copies the live actor list.
func (h *Hub) Actors() []ActorSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.SnapshotActors()
}

// ActorDetail resolves one actor by UUID.
func (h *Hub) ActorDetail(id string) (ActorDetail, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.ActorDetail(id)
}

// ActorInventory copies one actor's inventory.
func (h *Hub) ActorInventory(id string) (InventorySnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.ActorInventory(id)
}

// ActorEnderChest copies one actor's stash.
func (h *Hub) ActorEnderChest(id string) (InventorySnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.ActorEnderChest(id)
}

// WhitelistEntries copies the allow-list membership.
func (h *Hub) WhitelistEntries() []WhitelistEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.world.WhitelistEntries()
}
