package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrUnknownKind = errors.New("unknown query kind")
	ErrUnhashable  = errors.New("query payload cannot be hashed")
)

// Kind names one variant of a table's query union, e.g. "byOwner".
type Kind string

// Request is one variant of a table's query union. Two requests with the same
// kind and structurally equal payloads select the same query instance.
//
// A nil Request means "inactive".
type Request interface {
	Kind() Kind
	Payload() any
}

// request is the generic Request built by New
type request struct {
	kind    Kind
	payload any
}

func (r request) Kind() Kind   { return r.kind }
func (r request) Payload() any { return r.payload }

// New creates a request of the given kind.
func New(kind Kind, payload any) Request {
	return request{kind: kind, payload: payload}
}

// Key identifies a query instance within the whole datafront.
type Key struct {
	Table string
	Kind  Kind
	Hash  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s#%s", k.Table, k.Kind, k.Hash)
}

// Hash returns the structural hash of a request. The payload is encoded to
// JSON and re-encoded through a generic value so that object keys are sorted
// and struct field order does not matter.
func Hash(req Request) (string, error) {
	canonical, err := canonicalJSON(req.Payload())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnhashable, err)
	}

	d := xxhash.New()
	_, _ = d.WriteString(string(req.Kind()))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(canonical)
	return strconv.FormatUint(d.Sum64(), 16), nil
}

// canonicalJSON encodes v with sorted object keys and numbers kept verbatim
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
