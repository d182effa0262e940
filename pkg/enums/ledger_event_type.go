package enums

import "fmt"

// LedgerEventType maps to the ledger_events.type column.
type LedgerEventType string

const (
	LedgerEventTypeContributionApplied LedgerEventType = "contribution_applied"
	LedgerEventTypePayoutInitiated     LedgerEventType = "payout_initiated"
	LedgerEventTypePayoutCompleted     LedgerEventType = "payout_completed"
	LedgerEventTypePayoutFailed        LedgerEventType = "payout_failed"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeContributionApplied,
	LedgerEventTypePayoutInitiated,
	LedgerEventTypePayoutCompleted,
	LedgerEventTypePayoutFailed,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
