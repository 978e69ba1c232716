package id

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUIDGenerator issues random v4 identifiers for aggregates.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

const orderNumberPrefix = "ORD"

// OrderNumberGenerator issues human-facing order numbers of the form
// ORD-YYYYMMDD-XXXXXXXX, where the suffix is taken from a random UUID.
type OrderNumberGenerator struct {
	now func() time.Time
}

func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{now: time.Now}
}

func (g *OrderNumberGenerator) NewOrderNumber() string {
	now := time.Now
	if g != nil && g.now != nil {
		now = g.now
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return orderNumberPrefix + "-" + now().UTC().Format("20060102") + "-" + suffix
}
