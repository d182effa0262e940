package enums

import "fmt"

// FulfillmentMethod identifies how redeemed funds leave the platform.
type FulfillmentMethod string

const (
	FulfillmentMethodBankTransfer FulfillmentMethod = "bank_transfer"
)

var validFulfillmentMethods = []FulfillmentMethod{
	FulfillmentMethodBankTransfer,
}

func (m FulfillmentMethod) String() string {
	return string(m)
}

func (m FulfillmentMethod) IsValid() bool {
	for _, candidate := range validFulfillmentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

func ParseFulfillmentMethod(value string) (FulfillmentMethod, error) {
	for _, candidate := range validFulfillmentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment method %q", value)
}
