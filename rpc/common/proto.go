package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for requests, responses and push
// events. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Path      string          `json:"path,omitempty"`       // Used for: singletonFetch, queryFetch, unsubscribe
	QueryKind string          `json:"query_kind,omitempty"` // Used for: queryFetch
	Name      string          `json:"name,omitempty"`       // Used for: actionInvoke
	Token     string          `json:"token,omitempty"`      // Used for: actionInvoke
	Payload   json.RawMessage `json:"payload,omitempty"`    // Used for: queryFetch, actionInvoke
	IDs       []string        `json:"ids,omitempty"`        // Used for: unsubscribe

	// Response fields
	Entity   entity.ApiEntity            `json:"entity,omitempty"`   // Used for: singletonFetch, actionInvoke
	Entities map[string]entity.ApiEntity `json:"entities,omitempty"` // Used for: queryFetch

	// Push fields
	Batch *entity.Batch `json:"batch,omitempty"`

	// Error fields, empty if no error occurred
	Err       string `json:"err,omitempty"`
	ErrCode   string `json:"err_code,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

// SetError stores err in the error fields of the message. Errors that are not
// an *apierr.Error are reported with code UNKNOWN.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		m.Err = apiErr.Message
		m.ErrCode = apiErr.Code
		m.Retriable = apiErr.Retriable()
		return
	}
	m.Err = err.Error()
	m.ErrCode = apierr.CodeUnknown
}

// DecodeError returns the decoded error of a response, or nil.
func (m *Message) DecodeError() error {
	if m.Err == "" && m.ErrCode == "" && m.MsgType != MsgTError {
		return nil
	}
	return apierr.Decode(m.ErrCode, m.Err, m.Retriable)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSingletonFetchRequest creates a new singletonFetch request
func NewSingletonFetchRequest(path string) *Message {
	return &Message{
		MsgType: MsgTSingletonFetch,
		Path:    path,
	}
}

// NewSingletonFetchResponse creates a new singletonFetch response
func NewSingletonFetchResponse(e entity.ApiEntity, err error) *Message {
	msg := &Message{
		MsgType: MsgTSingletonFetch,
		Entity:  e,
	}
	msg.SetError(err)
	return msg
}

// NewQueryFetchRequest creates a new queryFetch request
func NewQueryFetchRequest(path, kind string, payload json.RawMessage) *Message {
	return &Message{
		MsgType:   MsgTQueryFetch,
		Path:      path,
		QueryKind: kind,
		Payload:   payload,
	}
}

// NewQueryFetchResponse creates a new queryFetch response
func NewQueryFetchResponse(entities map[string]entity.ApiEntity, err error) *Message {
	msg := &Message{
		MsgType:  MsgTQueryFetch,
		Entities: entities,
	}
	msg.SetError(err)
	return msg
}

// NewActionInvokeRequest creates a new actionInvoke request
func NewActionInvokeRequest(name, token string, payload json.RawMessage) *Message {
	return &Message{
		MsgType: MsgTActionInvoke,
		Name:    name,
		Token:   token,
		Payload: payload,
	}
}

// NewActionInvokeResponse creates a new actionInvoke response
func NewActionInvokeResponse(e entity.ApiEntity, err error) *Message {
	msg := &Message{
		MsgType: MsgTActionInvoke,
		Entity:  e,
	}
	msg.SetError(err)
	return msg
}

// NewUnsubscribeRequest creates a new unsubscribe request. It has no response.
func NewUnsubscribeRequest(path string, ids []string) *Message {
	return &Message{
		MsgType: MsgTUnsubscribe,
		Path:    path,
		IDs:     ids,
	}
}

// NewPushMessage creates a push event carrying batch
func NewPushMessage(batch entity.Batch) *Message {
	return &Message{
		MsgType: MsgTPush,
		Batch:   &batch,
	}
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTError,
	}
	msg.SetError(err)
	return msg
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSingletonFetch:
		return "singletonFetch"
	case MsgTQueryFetch:
		return "queryFetch"
	case MsgTActionInvoke:
		return "actionInvoke"
	case MsgTUnsubscribe:
		return "unsubscribe"
	case MsgTPush:
		return "push"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "singletonFetch":
		*t = MsgTSingletonFetch
	case "queryFetch":
		*t = MsgTQueryFetch
	case "actionInvoke":
		*t = MsgTActionInvoke
	case "unsubscribe":
		*t = MsgTUnsubscribe
	case "push":
		*t = MsgTPush
	case "error":
		*t = MsgTError
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	MsgTUnknown MessageType = iota
	MsgTError               // Request failed before reaching a handler

	// Request / response

	MsgTSingletonFetch // Fetch a singleton
	MsgTQueryFetch     // Run a table query
	MsgTActionInvoke   // Invoke an action with an idempotency token

	// One-way

	MsgTUnsubscribe // Client evicted ids, stop pushing them
	MsgTPush        // Server-pushed patch batch
)
