package enums

import "fmt"

// FulfillmentStatus tracks a redemption through settlement.
type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusCompleted  FulfillmentStatus = "completed"
	FulfillmentStatusFailed     FulfillmentStatus = "failed"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusProcessing,
	FulfillmentStatusCompleted,
	FulfillmentStatusFailed,
}

// ActiveFulfillmentStatuses are the statuses covered by the one-active-per-item index.
var ActiveFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusProcessing,
}

func (s FulfillmentStatus) String() string {
	return string(s)
}

func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the status still blocks a new fulfillment for the item.
func (s FulfillmentStatus) IsActive() bool {
	return s == FulfillmentStatusPending || s == FulfillmentStatusProcessing
}

// IsTerminal reports whether no further transition is allowed.
func (s FulfillmentStatus) IsTerminal() bool {
	return s == FulfillmentStatusCompleted || s == FulfillmentStatusFailed
}

// CanTransitionTo encodes pending->processing|failed and processing->completed|failed.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	switch s {
	case FulfillmentStatusPending:
		return next == FulfillmentStatusProcessing || next == FulfillmentStatusFailed
	case FulfillmentStatusProcessing:
		return next == FulfillmentStatusCompleted || next == FulfillmentStatusFailed
	default:
		return false
	}
}

func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
