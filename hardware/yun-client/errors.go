package yun

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind is coarse classification of Code.
type Kind uint8

const (
	KindSuccess Kind = iota
	KindArgument
	KindResourceExhausted
	KindProtocol
	KindOperation
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindArgument:
		return "argument"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindProtocol:
		return "protocol"
	case KindOperation:
		return "operation"
	case KindGeneric:
		return "generic"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Code is fine grained outcome of client operation.
// Operation kind codes mirror runtime failure tokens.
type Code uint16

const (
	Success Code = iota
	GenericError

	// rejected locally, nothing sent
	NullValueError
	OverflowError
	WrongParameterError

	OutOfSubscribeMemory
	PayloadOverflow

	YieldError
	SerialCommunicationError

	SetUpError
	NoSetUpError
	ParameterRejectedError
	ConfigGenericError
	ConnectSSLError
	ConnectError
	ConnectTimeout
	ConnectCredentialNotFound
	ConnectGenericError
	PublishError
	PublishTimeout
	PublishGenericError
	SubscribeError
	SubscribeTimeout
	SubscribeGenericError
	UnsubscribeError
	UnsubscribeTimeout
	UnsubscribeGenericError
	DisconnectError
	DisconnectTimeout
	DisconnectGenericError
	ShadowInitError
	NoShadowInitError
	ShadowRegisterDeltaGenericError
	ShadowUnregisterDeltaGenericError
	ShadowGetGenericError
	ShadowUpdateInvalidJSONError
	ShadowUpdateGenericError
	ShadowDeleteGenericError
	DrainingIntervalGenericError
	OfflineQueueGenericError

	codeCount
)

var codeNames = [codeCount]string{
	Success:                           "Success",
	GenericError:                      "GenericError",
	NullValueError:                    "NullValueError",
	OverflowError:                     "OverflowError",
	WrongParameterError:               "WrongParameterError",
	OutOfSubscribeMemory:              "OutOfSubscribeMemory",
	PayloadOverflow:                   "PayloadOverflow",
	YieldError:                        "YieldError",
	SerialCommunicationError:          "SerialCommunicationError",
	SetUpError:                        "SetUpError",
	NoSetUpError:                      "NoSetUpError",
	ParameterRejectedError:            "ParameterRejectedError",
	ConfigGenericError:                "ConfigGenericError",
	ConnectSSLError:                   "ConnectSSLError",
	ConnectError:                      "ConnectError",
	ConnectTimeout:                    "ConnectTimeout",
	ConnectCredentialNotFound:         "ConnectCredentialNotFound",
	ConnectGenericError:               "ConnectGenericError",
	PublishError:                      "PublishError",
	PublishTimeout:                    "PublishTimeout",
	PublishGenericError:               "PublishGenericError",
	SubscribeError:                    "SubscribeError",
	SubscribeTimeout:                  "SubscribeTimeout",
	SubscribeGenericError:             "SubscribeGenericError",
	UnsubscribeError:                  "UnsubscribeError",
	UnsubscribeTimeout:                "UnsubscribeTimeout",
	UnsubscribeGenericError:           "UnsubscribeGenericError",
	DisconnectError:                   "DisconnectError",
	DisconnectTimeout:                 "DisconnectTimeout",
	DisconnectGenericError:            "DisconnectGenericError",
	ShadowInitError:                   "ShadowInitError",
	NoShadowInitError:                 "NoShadowInitError",
	ShadowRegisterDeltaGenericError:   "ShadowRegisterDeltaGenericError",
	ShadowUnregisterDeltaGenericError: "ShadowUnregisterDeltaGenericError",
	ShadowGetGenericError:             "ShadowGetGenericError",
	ShadowUpdateInvalidJSONError:      "ShadowUpdateInvalidJSONError",
	ShadowUpdateGenericError:          "ShadowUpdateGenericError",
	ShadowDeleteGenericError:          "ShadowDeleteGenericError",
	DrainingIntervalGenericError:      "DrainingIntervalGenericError",
	OfflineQueueGenericError:          "OfflineQueueGenericError",
}

func (c Code) String() string {
	if c < codeCount {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", c)
}

func (c Code) Kind() Kind {
	switch c {
	case Success:
		return KindSuccess
	case GenericError:
		return KindGeneric
	case NullValueError, OverflowError, WrongParameterError:
		return KindArgument
	case OutOfSubscribeMemory, PayloadOverflow:
		return KindResourceExhausted
	case YieldError, SerialCommunicationError:
		return KindProtocol
	}
	if c < codeCount {
		return KindOperation
	}
	return KindGeneric
}

// Error is returned by every failed Client operation.
type Error struct {
	Op    string // family name: setup, publish, shadow-get...
	Code  Code
	Reply string // raw runtime reply, empty for local errors and timeouts
	Local bool   // true if nothing was sent
	Err   error  // optional underlying cause
}

func (e *Error) Error() string {
	s := fmt.Sprintf("yun %s: %s", e.Op, e.Code)
	if !e.Local {
		s += fmt.Sprintf(" reply='%s'", e.Reply)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() Kind { return e.Code.Kind() }

// CodeOf extracts Code from error returned by Client, possibly annotated.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return GenericError
}

func KindOf(err error) Kind { return CodeOf(err).Kind() }

func localError(op string, code Code) *Error {
	return &Error{Op: op, Code: code, Local: true}
}
