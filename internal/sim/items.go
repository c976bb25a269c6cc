package sim

// ItemType identifies a stackable item kind.
type ItemType string

const (
	ItemTypeGold         ItemType = "gold"
	ItemTypeHealthPotion ItemType = "health_potion"
	ItemTypeBread        ItemType = "bread"
	ItemTypeIronSword    ItemType = "iron_sword"
	ItemTypeTorch        ItemType = "torch"
)

// ItemStack is a quantity of one item type. A zero-quantity stack marks an
// empty slot.
type ItemStack struct {
	Type     ItemType
	Quantity int
}

func (s ItemStack) empty() bool {
	return s.Quantity <= 0 || s.Type == ""
}

// Inventory is a fixed run of slots. Only the loop goroutine touches it.
type Inventory struct {
	slots []ItemStack
}

// NewInventory allocates an inventory with the given slot count.
func NewInventory(size int) *Inventory {
	if size < 1 {
		size = 1
	}
	return &Inventory{slots: make([]ItemStack, size)}
}

// Size reports the slot count.
func (inv *Inventory) Size() int {
	if inv == nil {
		return 0
	}
	return len(inv.slots)
}

// Set places a stack into a slot, replacing whatever was there.
func (inv *Inventory) Set(slot int, stack ItemStack) bool {
	if inv == nil || slot < 0 || slot >= len(inv.slots) {
		return false
	}
	inv.slots[slot] = stack
	return true
}

// Add places a stack into the first empty slot.
func (inv *Inventory) Add(stack ItemStack) bool {
	if inv == nil || stack.empty() {
		return false
	}
	for i, existing := range inv.slots {
		if existing.empty() {
			inv.slots[i] = stack
			return true
		}
	}
	return false
}

// Summary totals quantities per item type across all slots.
func (inv *Inventory) Summary() map[ItemType]int {
	summary := make(map[ItemType]int)
	if inv == nil {
		return summary
	}
	for _, stack := range inv.slots {
		if stack.empty() {
			continue
		}
		summary[stack.Type] += stack.Quantity
	}
	return summary
}

// Snapshot copies every slot into the wire representation.
func (inv *Inventory) Snapshot() []SlotSnapshot {
	if inv == nil {
		return nil
	}
	contents := make([]SlotSnapshot, len(inv.slots))
	for i, stack := range inv.slots {
		slot := SlotSnapshot{Slot: i, Empty: stack.empty()}
		if !slot.Empty {
			slot.Type = string(stack.Type)
			slot.Quantity = stack.Quantity
		}
		contents[i] = slot
	}
	return contents
}
