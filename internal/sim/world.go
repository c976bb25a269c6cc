package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"emberfall/server/logging"
)

const (
	worldWidth  = 800.0
	worldHeight = 600.0
	actorHalf   = 14.0
	moveSpeed   = 48.0 // pixels per second while wandering

	inventorySlots = 36
	stashSlots     = 27
)

const (
	EventActorSpawned     logging.EventType = "sim.actor_spawned"
	EventActorKicked      logging.EventType = "sim.actor_kicked"
	EventBroadcast        logging.EventType = "sim.broadcast"
	EventTeleport         logging.EventType = "sim.teleport"
	EventWhitelistChanged logging.EventType = "sim.whitelist_changed"
	EventCommandUnknown   logging.EventType = "sim.command_unknown"
	EventStoreFailure     logging.EventType = "sim.store_failure"
)

// WhitelistStore persists allow-list membership. Implementations are only
// ever called from the loop goroutine, so they need no internal locking
// beyond what their backing store requires.
type WhitelistStore interface {
	List() ([]WhitelistEntry, error)
	Put(entry WhitelistEntry) error
	Delete(name string) error
}

// WorldConfig seeds the authoritative world.
type WorldConfig struct {
	ServerName  string
	MOTD        string
	MaxActors   int
	Seed        string
	SpawnActors []string
}

func (c WorldConfig) normalized() WorldConfig {
	if c.ServerName == "" {
		c.ServerName = "emberfall"
	}
	if c.MaxActors < 1 {
		c.MaxActors = 32
	}
	if c.Seed == "" {
		c.Seed = "emberfall"
	}
	return c
}

type actorState struct {
	ActorSummary
	inventory  *Inventory
	enderChest *Inventory
	intentX    float64
	intentY    float64
	retarget   float64 // seconds until the wander heading is re-rolled
}

// World owns all mutable simulation state. Every method must be called from
// the loop goroutine (or while holding the hub mutex during reads).
type World struct {
	cfg    WorldConfig
	actors map[string]*actorState
	// order fixes the iteration sequence for stepping and snapshots, so the
	// shared rng draws in spawn order and identical seeds replay identically.
	order       []string
	whitelist   map[string]WhitelistEntry
	store       WhitelistStore
	rng         *rand.Rand
	publisher   logging.Publisher
	currentTick uint64
}

// NewWorld constructs the world, restores whitelist membership from the
// store, and spawns the configured actors.
func NewWorld(cfg WorldConfig, publisher logging.Publisher, store WhitelistStore) (*World, error) {
	normalized := cfg.normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	w := &World{
		cfg:       normalized,
		actors:    make(map[string]*actorState),
		whitelist: make(map[string]WhitelistEntry),
		store:     store,
		rng:       newDeterministicRNG(normalized.Seed, "world"),
		publisher: publisher,
	}

	if store != nil {
		entries, err := store.List()
		if err != nil {
			return nil, fmt.Errorf("restore whitelist: %w", err)
		}
		for _, entry := range entries {
			w.whitelist[foldName(entry.Name)] = entry
		}
	}

	for _, name := range normalized.SpawnActors {
		w.spawnActor(name)
	}
	return w, nil
}

func deterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

func newDeterministicRNG(rootSeed, label string) *rand.Rand {
	return rand.New(rand.NewSource(deterministicSeedValue(rootSeed, label)))
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (w *World) spawnActor(name string) *actorState {
	if len(w.actors) >= w.cfg.MaxActors {
		return nil
	}
	inventory := NewInventory(inventorySlots)
	inventory.Add(ItemStack{Type: ItemTypeGold, Quantity: 50})
	inventory.Add(ItemStack{Type: ItemTypeHealthPotion, Quantity: 2})
	inventory.Add(ItemStack{Type: ItemTypeBread, Quantity: 5})

	state := &actorState{
		ActorSummary: ActorSummary{
			UUID:      uuid.NewString(),
			Name:      name,
			X:         actorHalf + w.rng.Float64()*(worldWidth-2*actorHalf),
			Y:         actorHalf + w.rng.Float64()*(worldHeight-2*actorHalf),
			Facing:    "south",
			Health:    20,
			MaxHealth: 20,
		},
		inventory:  inventory,
		enderChest: NewInventory(stashSlots),
	}
	w.actors[state.UUID] = state
	w.order = append(w.order, state.UUID)
	w.publish(logging.Event{
		Type:     EventActorSpawned,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Actor:    logging.EntityRef{ID: state.UUID, Kind: logging.EntityKindActor},
		Payload:  map[string]any{"name": name},
	})
	return state
}

// Apply executes staged commands in FIFO order.
func (w *World) Apply(commands []Command) {
	for _, cmd := range commands {
		switch cmd.Type {
		case CommandConsole:
			w.execConsole(cmd)
		case CommandWhitelistAdd:
			w.applyWhitelistAdd(cmd.Name, cmd.Actor, cmd.IssuedAt)
		case CommandWhitelistRemove:
			w.applyWhitelistRemove(cmd.Name, cmd.Actor)
		default:
			w.publishUnknown(cmd.Actor, string(cmd.Type))
		}
	}
}

// Step advances the wander simulation by dt seconds.
func (w *World) Step(now time.Time, dt float64) {
	w.currentTick++
	for _, id := range w.order {
		state := w.actors[id]
		state.retarget -= dt
		if state.retarget <= 0 {
			state.retarget = 1 + w.rng.Float64()*4
			if w.rng.Float64() < 0.3 {
				state.intentX, state.intentY = 0, 0
			} else {
				angle := w.rng.Float64() * 2 * math.Pi
				state.intentX = math.Cos(angle)
				state.intentY = math.Sin(angle)
				state.Facing = deriveFacing(state.intentX, state.intentY)
			}
		}
		if state.intentX == 0 && state.intentY == 0 {
			continue
		}
		state.X += state.intentX * moveSpeed * dt
		state.Y += state.intentY * moveSpeed * dt
		state.X = math.Max(actorHalf, math.Min(worldWidth-actorHalf, state.X))
		state.Y = math.Max(actorHalf, math.Min(worldHeight-actorHalf, state.Y))
	}
}

func deriveFacing(dx, dy float64) string {
	if math.Abs(dx) >= math.Abs(dy) {
		if dx >= 0 {
			return "east"
		}
		return "west"
	}
	if dy >= 0 {
		return "south"
	}
	return "north"
}

func (w *World) execConsole(cmd Command) {
	fields := strings.Fields(cmd.Line)
	if len(fields) == 0 {
		w.publishUnknown(cmd.Actor, cmd.Line)
		return
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "say":
		w.publish(logging.Event{
			Type:     EventBroadcast,
			Severity: logging.SeverityInfo,
			Category: logging.CategorySimulation,
			Actor:    panelRef(cmd.Actor),
			Payload:  map[string]any{"message": strings.Join(args, " ")},
		})
	case "kick":
		if len(args) < 1 {
			w.publishUnknown(cmd.Actor, cmd.Line)
			return
		}
		w.kickActor(args[0], cmd.Actor)
	case "tp":
		if len(args) < 3 {
			w.publishUnknown(cmd.Actor, cmd.Line)
			return
		}
		w.teleportActor(args[0], args[1], args[2], cmd.Actor)
	case "whitelist":
		if len(args) < 2 {
			w.publishUnknown(cmd.Actor, cmd.Line)
			return
		}
		switch strings.ToLower(args[0]) {
		case "add":
			w.applyWhitelistAdd(args[1], cmd.Actor, cmd.IssuedAt)
		case "remove":
			w.applyWhitelistRemove(args[1], cmd.Actor)
		default:
			w.publishUnknown(cmd.Actor, cmd.Line)
		}
	default:
		w.publishUnknown(cmd.Actor, cmd.Line)
	}
}

func (w *World) kickActor(name, actor string) {
	folded := foldName(name)
	for id, state := range w.actors {
		if foldName(state.Name) != folded {
			continue
		}
		delete(w.actors, id)
		w.dropFromOrder(id)
		w.publish(logging.Event{
			Type:     EventActorKicked,
			Severity: logging.SeverityInfo,
			Category: logging.CategorySimulation,
			Actor:    panelRef(actor),
			Targets:  []logging.EntityRef{{ID: id, Kind: logging.EntityKindActor}},
			Payload:  map[string]any{"name": state.Name},
		})
		return
	}
	w.publish(logging.Event{
		Type:     EventCommandUnknown,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Actor:    panelRef(actor),
		Payload:  map[string]any{"reason": "kick target offline", "name": name},
	})
}

func (w *World) teleportActor(name, rawX, rawY, actor string) {
	x, errX := strconv.ParseFloat(rawX, 64)
	y, errY := strconv.ParseFloat(rawY, 64)
	if errX != nil || errY != nil {
		w.publishUnknown(actor, fmt.Sprintf("tp %s %s %s", name, rawX, rawY))
		return
	}
	folded := foldName(name)
	for id, state := range w.actors {
		if foldName(state.Name) != folded {
			continue
		}
		state.X = math.Max(actorHalf, math.Min(worldWidth-actorHalf, x))
		state.Y = math.Max(actorHalf, math.Min(worldHeight-actorHalf, y))
		w.publish(logging.Event{
			Type:     EventTeleport,
			Severity: logging.SeverityInfo,
			Category: logging.CategorySimulation,
			Actor:    panelRef(actor),
			Targets:  []logging.EntityRef{{ID: id, Kind: logging.EntityKindActor}},
			Payload:  map[string]any{"x": state.X, "y": state.Y},
		})
		return
	}
}

func (w *World) applyWhitelistAdd(name, actor string, at time.Time) {
	folded := foldName(name)
	if folded == "" {
		return
	}
	if _, exists := w.whitelist[folded]; exists {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	entry := WhitelistEntry{Name: name, AddedBy: actor, AddedAt: at}
	w.whitelist[folded] = entry
	if w.store != nil {
		if err := w.store.Put(entry); err != nil {
			w.publishStoreFailure("put", name, err)
		}
	}
	w.publish(logging.Event{
		Type:     EventWhitelistChanged,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Actor:    panelRef(actor),
		Payload:  map[string]any{"op": "add", "name": name},
	})
}

func (w *World) applyWhitelistRemove(name, actor string) {
	folded := foldName(name)
	if _, exists := w.whitelist[folded]; !exists {
		return
	}
	delete(w.whitelist, folded)
	if w.store != nil {
		if err := w.store.Delete(name); err != nil {
			w.publishStoreFailure("delete", name, err)
		}
	}
	w.publish(logging.Event{
		Type:     EventWhitelistChanged,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Actor:    panelRef(actor),
		Payload:  map[string]any{"op": "remove", "name": name},
	})
}

func (w *World) publishStoreFailure(op, name string, err error) {
	w.publish(logging.Event{
		Type:     EventStoreFailure,
		Severity: logging.SeverityError,
		Category: logging.CategorySystem,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Payload:  map[string]any{"op": op, "name": name, "error": err.Error()},
	})
}

func (w *World) publishUnknown(actor, line string) {
	w.publish(logging.Event{
		Type:     EventCommandUnknown,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Actor:    panelRef(actor),
		Payload:  map[string]any{"line": line},
	})
}

func (w *World) publish(event logging.Event) {
	event.Tick = w.currentTick
	w.publisher.Publish(context.Background(), event)
}

func panelRef(actor string) logging.EntityRef {
	if actor == "" {
		actor = "unknown"
	}
	return logging.EntityRef{ID: actor, Kind: logging.EntityKindPanel}
}

func (w *World) dropFromOrder(id string) {
	for i, existing := range w.order {
		if existing == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

// SnapshotActors copies the live actor list in spawn order.
func (w *World) SnapshotActors() []ActorSummary {
	actors := make([]ActorSummary, 0, len(w.actors))
	for _, id := range w.order {
		actors = append(actors, w.actors[id].ActorSummary)
	}
	return actors
}

// ActorDetail resolves one actor by UUID with its inventory summary.
func (w *World) ActorDetail(id string) (ActorDetail, bool) {
	state, ok := w.actors[id]
	if !ok {
		return ActorDetail{}, false
	}
	summary := make(map[string]int)
	for itemType, qty := range state.inventory.Summary() {
		summary[string(itemType)] = qty
	}
	return ActorDetail{ActorSummary: state.ActorSummary, InventorySummary: summary}, true
}

// ActorInventory copies one actor's full inventory.
func (w *World) ActorInventory(id string) (InventorySnapshot, bool) {
	state, ok := w.actors[id]
	if !ok {
		return InventorySnapshot{}, false
	}
	return InventorySnapshot{Contents: state.inventory.Snapshot()}, true
}

// ActorEnderChest copies one actor's stash.
func (w *World) ActorEnderChest(id string) (InventorySnapshot, bool) {
	state, ok := w.actors[id]
	if !ok {
		return InventorySnapshot{}, false
	}
	return InventorySnapshot{Contents: state.enderChest.Snapshot()}, true
}

// WhitelistEntries copies the allow-list membership.
func (w *World) WhitelistEntries() []WhitelistEntry {
	entries := make([]WhitelistEntry, 0, len(w.whitelist))
	for _, entry := range w.whitelist {
		entries = append(entries, entry)
	}
	return entries
}

// Whitelisted reports membership for a name.
func (w *World) Whitelisted(name string) bool {
	_, ok := w.whitelist[foldName(name)]
	return ok
}

// ActorCount reports the number of live actors.
func (w *World) ActorCount() int {
	return len(w.actors)
}

// Config exposes the immutable world configuration.
func (w *World) Config() WorldConfig {
	return w.cfg
}
