// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuahub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// StatusCode is an OPC UA status code as reported by the server.
type StatusCode uint32

// Status code severity masks.
const (
	StatusSeverityMask      = 0xC0000000
	StatusSeverityGood      = 0x00000000
	StatusSeverityUncertain = 0x40000000
	StatusSeverityBad       = 0x80000000
)

// Status codes the hub reacts to.
const (
	StatusGood                       StatusCode = 0x00000000
	StatusBadUnexpectedError         StatusCode = 0x80010000
	StatusBadCommunicationError      StatusCode = 0x80050000
	StatusBadTimeout                 StatusCode = 0x800A0000
	StatusBadShutdown                StatusCode = 0x800C0000
	StatusBadServerNotConnected      StatusCode = 0x800D0000
	StatusBadServerHalted            StatusCode = 0x800E0000
	StatusBadNothingToDo             StatusCode = 0x800F0000
	StatusBadUserAccessDenied        StatusCode = 0x801F0000
	StatusBadSecureChannelIDInvalid  StatusCode = 0x80220000
	StatusBadSessionIDInvalid        StatusCode = 0x80250000
	StatusBadSessionClosed           StatusCode = 0x80260000
	StatusBadSessionNotActivated     StatusCode = 0x80270000
	StatusBadNoCommunication         StatusCode = 0x80310000
	StatusBadNodeIDInvalid           StatusCode = 0x80330000
	StatusBadNodeIDUnknown           StatusCode = 0x80340000
	StatusBadAttributeIDInvalid      StatusCode = 0x80350000
	StatusBadNotReadable             StatusCode = 0x803A0000
	StatusBadNotWritable             StatusCode = 0x803B0000
	StatusBadOutOfRange              StatusCode = 0x803C0000
	StatusBadTypeMismatch            StatusCode = 0x80740000
	StatusBadWriteNotSupported       StatusCode = 0x80730000
	StatusBadConnectionClosed        StatusCode = 0x80AE0000
	StatusBadSecureChannelClosed     StatusCode = 0x80860000
	StatusBadRequestTimeout          StatusCode = 0x80850000
	StatusBadNotConnected            StatusCode = 0x808A0000
	StatusBadDisconnect              StatusCode = 0x80AD0000
	StatusBadTooManySessions         StatusCode = 0x80560000
	StatusBadIdentityTokenRejected   StatusCode = 0x80210000
	StatusBadSecurityChecksFailed    StatusCode = 0x80130000
)

var statusNames = map[StatusCode]string{
	StatusGood:                      "Good",
	StatusBadUnexpectedError:        "BadUnexpectedError",
	StatusBadCommunicationError:     "BadCommunicationError",
	StatusBadTimeout:                "BadTimeout",
	StatusBadShutdown:               "BadShutdown",
	StatusBadServerNotConnected:     "BadServerNotConnected",
	StatusBadServerHalted:           "BadServerHalted",
	StatusBadNothingToDo:            "BadNothingToDo",
	StatusBadUserAccessDenied:       "BadUserAccessDenied",
	StatusBadSecureChannelIDInvalid: "BadSecureChannelIdInvalid",
	StatusBadSessionIDInvalid:       "BadSessionIdInvalid",
	StatusBadSessionClosed:          "BadSessionClosed",
	StatusBadSessionNotActivated:    "BadSessionNotActivated",
	StatusBadNoCommunication:        "BadNoCommunication",
	StatusBadNodeIDInvalid:          "BadNodeIdInvalid",
	StatusBadNodeIDUnknown:          "BadNodeIdUnknown",
	StatusBadAttributeIDInvalid:     "BadAttributeIdInvalid",
	StatusBadNotReadable:            "BadNotReadable",
	StatusBadNotWritable:            "BadNotWritable",
	StatusBadOutOfRange:             "BadOutOfRange",
	StatusBadTypeMismatch:           "BadTypeMismatch",
	StatusBadWriteNotSupported:      "BadWriteNotSupported",
	StatusBadConnectionClosed:       "BadConnectionClosed",
	StatusBadSecureChannelClosed:    "BadSecureChannelClosed",
	StatusBadRequestTimeout:         "BadRequestTimeout",
	StatusBadNotConnected:           "BadNotConnected",
	StatusBadDisconnect:             "BadDisconnect",
	StatusBadTooManySessions:        "BadTooManySessions",
	StatusBadIdentityTokenRejected:  "BadIdentityTokenRejected",
	StatusBadSecurityChecksFailed:   "BadSecurityChecksFailed",
}

// String returns the string representation of the status code.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// transport reports whether the code means the session or the channel
// underneath it is gone.
func (s StatusCode) transport() bool {
	switch s {
	case StatusBadCommunicationError, StatusBadTimeout, StatusBadShutdown,
		StatusBadServerNotConnected, StatusBadServerHalted,
		StatusBadSecureChannelIDInvalid, StatusBadSessionIDInvalid,
		StatusBadSessionClosed, StatusBadSessionNotActivated,
		StatusBadNoCommunication, StatusBadConnectionClosed,
		StatusBadSecureChannelClosed, StatusBadRequestTimeout,
		StatusBadNotConnected, StatusBadDisconnect:
		return true
	}
	return false
}

// Common errors.
var (
	// ErrNotConnected indicates no session is established.
	ErrNotConnected = errors.New("opcuahub: not connected")

	// ErrInvalidNodeID indicates a node identifier could not be parsed.
	ErrInvalidNodeID = errors.New("opcuahub: invalid node ID")

	// ErrInvalidEndpoint indicates an invalid endpoint was configured.
	ErrInvalidEndpoint = errors.New("opcuahub: invalid endpoint")

	// ErrUnknownHub indicates a write command named a hub that is not registered.
	ErrUnknownHub = errors.New("opcuahub: unknown hub")

	// ErrDuplicateHub indicates a hub with the same name is already registered.
	ErrDuplicateHub = errors.New("opcuahub: duplicate hub")

	// ErrHubClosed indicates the hub has been closed and will not connect again.
	ErrHubClosed = errors.New("opcuahub: hub closed")

	// ErrRegistryClosed indicates the registry has been closed.
	ErrRegistryClosed = errors.New("opcuahub: registry closed")

	// ErrMalformedValue indicates a value could not be converted to the node's type.
	ErrMalformedValue = errors.New("opcuahub: malformed value")

	// ErrUnsupportedType indicates a value or data type the hub cannot write.
	ErrUnsupportedType = errors.New("opcuahub: unsupported type")

	// ErrWriteUnconfirmed indicates the server returned no result for a write.
	ErrWriteUnconfirmed = errors.New("opcuahub: write not confirmed")
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("opcuahub: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a call that lost its session mid-flight and could
// not be recovered by reconnecting.
type TransportError struct {
	Op        string
	Err       error
	Reconnect error
}

func (e *TransportError) Error() string {
	if e.Reconnect != nil {
		return fmt.Sprintf("opcuahub: %s: %v (reconnect: %v)", e.Op, e.Err, e.Reconnect)
	}
	return fmt.Sprintf("opcuahub: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Reconnect != nil {
		return []error{e.Err, e.Reconnect}
	}
	return []error{e.Err}
}

// StatusError is a bad status code returned by the server. Item is set when
// the code came from one result of a request rather than from the service
// itself; such codes describe the node's data source, never the session.
type StatusError struct {
	Op     string
	NodeID string
	Code   StatusCode
	Item   bool
}

func (e *StatusError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("opcuahub: %s %s: %s", e.Op, e.NodeID, e.Code)
	}
	return fmt.Sprintf("opcuahub: %s: %s", e.Op, e.Code)
}

// Is matches another StatusError with the same code.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ConfigError reports invalid user input: configuration, hub names and
// command values.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("opcuahub: %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("opcuahub: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WriteError reports a failed write command.
type WriteError struct {
	Hub    string
	NodeID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("opcuahub: write %s on hub %s: %v", e.NodeID, e.Hub, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsStatusCode checks if the error carries the given status code.
func IsStatusCode(err error, code StatusCode) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotReadable checks if the error indicates the value is not readable.
func IsNotReadable(err error) bool {
	return IsStatusCode(err, StatusBadNotReadable)
}

// IsNotWritable checks if the error indicates the value is not writable.
func IsNotWritable(err error) bool {
	return IsStatusCode(err, StatusBadNotWritable)
}

// IsUserAccessDenied checks if the error indicates access denied.
func IsUserAccessDenied(err error) bool {
	return IsStatusCode(err, StatusBadUserAccessDenied)
}

// IsCancellation checks if the error is a cancellation signal.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// cancelled also treats any error as cancellation once the caller's context
// is done, whatever the protocol library turned it into.
func cancelled(ctx context.Context, err error) bool {
	return IsCancellation(err) || ctx.Err() != nil
}

// IsTransport checks if the error means the connection or session was lost
// or timed out.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Item && se.Code.transport()
	}
	if errors.Is(err, ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsNodeScoped checks if the error concerns a single node or value and leaves
// the session usable.
func IsNodeScoped(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Item || !se.Code.transport()
	}
	var ce *ConfigError
	return errors.As(err, &ce) || errors.Is(err, ErrInvalidNodeID) || errors.Is(err, ErrWriteUnconfirmed)
}
