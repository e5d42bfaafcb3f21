package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// invokeRPCRequest is a helper function used by the RPC client to send requests
// It takes a request message, a transport layer and a serializer as parameters
// It returns the response message or the error the server reported. Server
// errors are decoded into *apierr.Error, transport errors are returned as they
// are and classified by the caller.
func invokeRPCRequest(ctx context.Context, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.Send(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - failed to decode response: %w", err)
	}

	// Check if the response is an error response
	if err := resp.DecodeError(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// encodePayload turns a request payload into its JSON form. A nil payload is
// sent as no payload.
func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("RPC client - failed to encode payload: %w", err)
	}
	return b, nil
}
