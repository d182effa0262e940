package enums

import "fmt"

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateItem        OutboxAggregateType = "item"
	AggregateFulfillment OutboxAggregateType = "fulfillment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateItem,
	AggregateFulfillment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to outbox_events.event_type.
type OutboxEventType string

const (
	EventContributionApplied  OutboxEventType = "contribution_applied"
	EventFulfillmentRequested OutboxEventType = "fulfillment_requested"
	EventPayoutInitiated      OutboxEventType = "payout_initiated"
	EventFulfillmentCompleted OutboxEventType = "fulfillment_completed"
	EventFulfillmentFailed    OutboxEventType = "fulfillment_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventContributionApplied,
	EventFulfillmentRequested,
	EventPayoutInitiated,
	EventFulfillmentCompleted,
	EventFulfillmentFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
