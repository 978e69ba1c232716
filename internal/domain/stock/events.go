package stock

import "time"

// snapshot is the post-mutation state carried by every stock event.
type snapshot struct {
	LocationID string
	VariantID  string
	OnHand     uint
	Reserved   uint
	Available  uint
	LowStock   bool
	Version    uint64
	OccurredAt time.Time
}

func (e *Entry) snapshot() snapshot {
	return snapshot{
		LocationID: e.LocationID,
		VariantID:  e.VariantID,
		OnHand:     e.QuantityOnHand,
		Reserved:   e.QuantityReserved,
		Available:  e.Available(),
		LowStock:   e.IsLowStock(),
		Version:    e.Version,
		OccurredAt: e.UpdatedAt,
	}
}

func (s snapshot) Key() Key { return Key{LocationID: s.LocationID, VariantID: s.VariantID} }

func (s snapshot) IsLowStock() bool { return s.LowStock }

type ReservedEvent struct {
	snapshot
	Quantity uint
}

func (ReservedEvent) EventName() string { return "stock.reserved" }

type ReleasedEvent struct {
	snapshot
	Requested uint
	Released  uint
}

func (ReleasedEvent) EventName() string { return "stock.released" }

// Clamped reports whether the release asked for more than was reserved.
func (e ReleasedEvent) Clamped() bool { return e.Released < e.Requested }

type ReceivedEvent struct {
	snapshot
	Quantity uint
}

func (ReceivedEvent) EventName() string { return "stock.received" }

type RemovedEvent struct {
	snapshot
	Quantity uint
}

func (RemovedEvent) EventName() string { return "stock.removed" }

type SoldEvent struct {
	snapshot
	Quantity uint
}

func (SoldEvent) EventName() string { return "stock.sold" }

type SaleReversedEvent struct {
	snapshot
	Quantity uint
}

func (SaleReversedEvent) EventName() string { return "stock.sale_reversed" }

type ThresholdChangedEvent struct {
	snapshot
	Previous uint
}

func (ThresholdChangedEvent) EventName() string { return "stock.threshold_changed" }

// LowStockEvent is raised by the inventory service when a mutation leaves an
// entry at or below its threshold.
type LowStockEvent struct {
	LocationID string
	VariantID  string
	Available  uint
	Threshold  uint
	OccurredAt time.Time
}

func (LowStockEvent) EventName() string { return "stock.low" }

func NewLowStockEvent(e *Entry) LowStockEvent {
	return LowStockEvent{
		LocationID: e.LocationID,
		VariantID:  e.VariantID,
		Available:  e.Available(),
		Threshold:  e.LowStockThreshold,
		OccurredAt: time.Now().UTC(),
	}
}
