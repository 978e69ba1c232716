package coupon

import "time"

const (
	EventUsageRecorded = "coupon.usage_recorded"
	EventUsageReverted = "coupon.usage_reverted"
)

type UsageChangedEvent struct {
	name       string
	Code       string
	UsageCount uint
	OccurredAt time.Time
}

func (e UsageChangedEvent) EventName() string { return e.name }

func (c *Coupon) usageChanged(name string) UsageChangedEvent {
	return UsageChangedEvent{name: name, Code: c.Code, UsageCount: c.UsageCount, OccurredAt: c.UpdatedAt}
}
