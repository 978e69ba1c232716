package stock

import (
	"time"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

var (
	ErrInvalidQuantity    = shared.NewError(shared.CodeInvalidQuantity, "stock: quantity must be greater than zero")
	ErrInsufficientStock  = shared.NewError(shared.CodeInsufficientStock, "stock: insufficient stock")
	ErrInvalidReservation = shared.NewError(shared.CodeInvalidReservation, "stock: confirmed quantity exceeds reservation")
	ErrInvalidKey         = shared.NewError(shared.CodeInvalidArgument, "stock: location id and variant id are required")
)

// Key identifies a stock entry.
type Key struct {
	LocationID string
	VariantID  string
}

func (k Key) String() string { return k.LocationID + "/" + k.VariantID }

func (k Key) Valid() bool { return k.LocationID != "" && k.VariantID != "" }

// Entry is the stock ledger row for one variant at one location.
type Entry struct {
	Key
	QuantityOnHand    uint
	QuantityReserved  uint
	LowStockThreshold uint
	shared.Versioned
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntry creates an entry with no reservations.
func NewEntry(key Key, onHand, lowStockThreshold uint) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	now := time.Now().UTC()
	e := &Entry{
		Key:               key,
		QuantityOnHand:    onHand,
		LowStockThreshold: lowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	e.Bump()
	return e, nil
}

func (e *Entry) Available() uint {
	if e.QuantityReserved >= e.QuantityOnHand {
		return 0
	}
	return e.QuantityOnHand - e.QuantityReserved
}

func (e *Entry) IsLowStock() bool { return e.Available() <= e.LowStockThreshold }

func (e *Entry) IsOutOfStock() bool { return e.Available() == 0 }

// Reserve places a provisional hold on qty units.
func (e *Entry) Reserve(qty uint) (ReservedEvent, error) {
	if qty == 0 {
		return ReservedEvent{}, ErrInvalidQuantity
	}
	if e.Available() < qty {
		return ReservedEvent{}, ErrInsufficientStock.Detailf("%s: requested %d, available %d", e.Key, qty, e.Available())
	}
	e.QuantityReserved += qty
	e.touch()
	return ReservedEvent{snapshot: e.snapshot(), Quantity: qty}, nil
}

// ReleaseReservation drops up to qty reserved units. Releasing more than is
// reserved clamps to zero; Requested vs Released on the event tells the
// caller whether that happened.
func (e *Entry) ReleaseReservation(qty uint) (ReleasedEvent, error) {
	if qty == 0 {
		return ReleasedEvent{}, ErrInvalidQuantity
	}
	released := qty
	if released > e.QuantityReserved {
		released = e.QuantityReserved
	}
	e.QuantityReserved -= released
	e.touch()
	return ReleasedEvent{snapshot: e.snapshot(), Requested: qty, Released: released}, nil
}

// AddStock receives inventory.
func (e *Entry) AddStock(qty uint) (ReceivedEvent, error) {
	if qty == 0 {
		return ReceivedEvent{}, ErrInvalidQuantity
	}
	e.QuantityOnHand += qty
	e.touch()
	return ReceivedEvent{snapshot: e.snapshot(), Quantity: qty}, nil
}

// RemoveStock writes off on-hand units. Reserved units cannot be removed.
func (e *Entry) RemoveStock(qty uint) (RemovedEvent, error) {
	if qty == 0 {
		return RemovedEvent{}, ErrInvalidQuantity
	}
	if e.QuantityOnHand < qty {
		return RemovedEvent{}, ErrInsufficientStock.Detailf("%s: remove %d, on hand %d", e.Key, qty, e.QuantityOnHand)
	}
	if e.Available() < qty {
		return RemovedEvent{}, ErrInsufficientStock.Detailf("%s: remove %d, unreserved %d", e.Key, qty, e.Available())
	}
	e.QuantityOnHand -= qty
	e.touch()
	return RemovedEvent{snapshot: e.snapshot(), Quantity: qty}, nil
}

// ConfirmSale turns qty reserved units into a permanent deduction.
func (e *Entry) ConfirmSale(qty uint) (SoldEvent, error) {
	if qty == 0 {
		return SoldEvent{}, ErrInvalidQuantity
	}
	if e.QuantityReserved < qty {
		return SoldEvent{}, ErrInvalidReservation.Detailf("%s: confirm %d, reserved %d", e.Key, qty, e.QuantityReserved)
	}
	e.QuantityReserved -= qty
	e.QuantityOnHand -= qty
	e.touch()
	return SoldEvent{snapshot: e.snapshot(), Quantity: qty}, nil
}

// ReverseSale undoes a ConfirmSale that was not followed through: the units
// return to on-hand and are held again for the same order.
func (e *Entry) ReverseSale(qty uint) (SaleReversedEvent, error) {
	if qty == 0 {
		return SaleReversedEvent{}, ErrInvalidQuantity
	}
	e.QuantityOnHand += qty
	e.QuantityReserved += qty
	e.touch()
	return SaleReversedEvent{snapshot: e.snapshot(), Quantity: qty}, nil
}

func (e *Entry) SetLowStockThreshold(threshold uint) ThresholdChangedEvent {
	prev := e.LowStockThreshold
	e.LowStockThreshold = threshold
	e.touch()
	return ThresholdChangedEvent{snapshot: e.snapshot(), Previous: prev}
}

// Clone returns a deep copy; entries have no reference fields.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func (e *Entry) touch() {
	e.Bump()
	e.UpdatedAt = time.Now().UTC()
}
