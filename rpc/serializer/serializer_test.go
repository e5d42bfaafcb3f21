package serializer

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

// testMessages covers every message type. Numbers are float64 so that the
// JSON round trip is lossless.
func testMessages() map[string]common.Message {
	return map[string]common.Message{
		"QueryFetchRequest": *common.NewQueryFetchRequest("items", "byOwner", json.RawMessage(`{"owner":"u1"}`)),
		"QueryFetchResponse": *common.NewQueryFetchResponse(map[string]entity.ApiEntity{
			"e1": {"name": "X", "count": float64(3), "tags": []any{"a", "b"}},
			"e2": {"name": "Y", "pos": map[string]any{"x": float64(1), "y": float64(2)}},
		}, nil),
		"SingletonResponse": *common.NewSingletonFetchResponse(entity.ApiEntity{"online": true}, nil),
		"ActionRequest":     *common.NewActionInvokeRequest("createBase", "tok-1", json.RawMessage(`{"name":"P"}`)),
		"Unsubscribe":       *common.NewUnsubscribeRequest("items", []string{"e1", "e2"}),
		"Push": *common.NewPushMessage(entity.Batch{
			Singletons: []entity.SingletonPatch{{Path: "session", Patch: entity.ApiEntity{"online": false}}},
			Tables:     []entity.TablePatch{{Path: "items", EID: "e1", Patch: entity.ApiEntity{"name": "Z"}, Version: 7}},
		}),
		"Error": *common.NewErrorResponse(apierr.Retriable(apierr.CodeTryAgain, "busy")),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgName, msg := range testMessages() {
				data, err := serializer.Serialize(msg)
				require.NoError(t, err, msgName)

				var result common.Message
				require.NoError(t, serializer.Deserialize(data, &result), msgName)
				assert.Equal(t, msg, result, msgName)
			}
		})
	}
}

// TestErrorFieldsDecode checks that wire errors turn back into the same apierr shape
func TestErrorFieldsDecode(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(*common.NewQueryFetchResponse(nil, apierr.Fatal(apierr.CodeNotFound, "no such table")))
			require.NoError(t, err)

			var result common.Message
			require.NoError(t, serializer.Deserialize(data, &result))

			var apiErr *apierr.Error
			require.ErrorAs(t, result.DecodeError(), &apiErr)
			assert.Equal(t, apierr.CodeNotFound, apiErr.Code)
			assert.Equal(t, "no such table", apiErr.Message)
			assert.False(t, apiErr.Retriable())
		})
	}
}

// TestJSONMessageTypeIsReadable checks the textual encoding of message types
func TestJSONMessageTypeIsReadable(t *testing.T) {
	data, err := NewJSONSerializer().Serialize(*common.NewSingletonFetchRequest("session"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_type":"singletonFetch","path":"session"}`, string(data))

	var msg common.Message
	assert.Error(t, NewJSONSerializer().Deserialize([]byte(`{"msg_type":"bogus"}`), &msg))
}
