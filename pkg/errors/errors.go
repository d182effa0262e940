package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable identifier rendered to clients.
type Code string

const (
	CodeUnauthorized          Code = "Unauthorized"
	CodeForbidden             Code = "Forbidden"
	CodeItemNotFound          Code = "ItemNotFound"
	CodeAlreadyFulfilled      Code = "AlreadyFulfilled"
	CodeInsufficientFunding   Code = "InsufficientFunding"
	CodeFulfillmentInProgress Code = "FulfillmentInProgress"
	CodeDuplicateIdempotency  Code = "DuplicateIdempotencyKey"
	CodePayoutSetupRequired   Code = "PayoutSetupRequired"
	CodePayoutAccountInvalid  Code = "PayoutAccountInvalid"
	CodeTransferRejected      Code = "TransferRejected"
	CodeInternal              Code = "InternalError"

	CodeValidation    Code = "ValidationError"
	CodeInvalidAmount Code = "InvalidAmount"
	CodeNotFound      Code = "NotFound"
	CodeStateConflict Code = "StateConflict"
	CodeRateLimit     Code = "RateLimitExceeded"
	CodeDependency    Code = "DependencyError"
)

// Action tells the client what to do next to unblock a request.
type Action string

const (
	ActionOnboard           Action = "onboard"
	ActionRefreshOnboarding Action = "refresh_onboarding"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeItemNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "item not found",
	},
	CodeAlreadyFulfilled: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "item has already been fulfilled",
	},
	CodeInsufficientFunding: {
		HTTPStatus:     http.StatusPaymentRequired,
		PublicMessage:  "item is not fully funded",
		DetailsAllowed: true,
	},
	CodeFulfillmentInProgress: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      true,
		PublicMessage:  "a fulfillment for this item is already in progress",
		DetailsAllowed: true,
	},
	CodeDuplicateIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key already used",
		DetailsAllowed: true,
	},
	CodePayoutSetupRequired: {
		HTTPStatus:    http.StatusBadRequest,
		PublicMessage: "payout account setup required",
	},
	CodePayoutAccountInvalid: {
		HTTPStatus:    http.StatusInternalServerError,
		PublicMessage: "payout account is invalid",
	},
	CodeTransferRejected: {
		HTTPStatus:     http.StatusInternalServerError,
		PublicMessage:  "transfer was rejected",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeInvalidAmount: {
		HTTPStatus:    http.StatusBadRequest,
		PublicMessage: "amount must be positive",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeRateLimit: {
		HTTPStatus:    http.StatusTooManyRequests,
		PublicMessage: "rate limit exceeded",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	action  Action
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Action() Action {
	if e == nil {
		return ""
	}
	return e.action
}

func (e *Error) WithAction(action Action) *Error {
	if e == nil {
		return nil
	}
	e.action = action
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
