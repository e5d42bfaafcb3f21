package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport"
)

// NewRPCTransport connects transport and returns the datafront transport
// speaking the dFront protocol over it.
//
// Usage:
//
//	t, err := client.NewRPCTransport(config, unix.NewUnixClientTransport(), serializer.NewJSONSerializer())
//	if err != nil {
//		return err
//	}
//	df := datafront.New(t, datafront.DefaultConfig())
func NewRPCTransport(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (datafront.ITransport, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	t := &rpcTransport{
		config:     config,
		transport:  transport,
		serializer: serializer,
		pushes:     make(chan entity.Batch, 64),
		done:       make(chan struct{}),
	}
	go t.decodePushes()

	return t, nil
}

type rpcTransport struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	pushes     chan entity.Batch
	done       chan struct{}
	closeOnce  sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see datafront.ITransport)
// --------------------------------------------------------------------------

func (t *rpcTransport) FetchSingleton(ctx context.Context, path string) (entity.ApiEntity, error) {
	resp, err := invokeRPCRequest(ctx, common.NewSingletonFetchRequest(path), t.transport, t.serializer)
	if err != nil {
		return nil, err
	}
	if resp.Entity == nil {
		return entity.ApiEntity{}, nil
	}
	return resp.Entity, nil
}

func (t *rpcTransport) FetchQuery(ctx context.Context, path string, kind query.Kind, payload any) (map[string]entity.ApiEntity, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, apierr.Fatal(apierr.CodeInvalidArgument, err.Error())
	}
	resp, err := invokeRPCRequest(ctx, common.NewQueryFetchRequest(path, string(kind), raw), t.transport, t.serializer)
	if err != nil {
		return nil, err
	}
	if resp.Entities == nil {
		return map[string]entity.ApiEntity{}, nil
	}
	return resp.Entities, nil
}

func (t *rpcTransport) InvokeAction(ctx context.Context, name, token string, payload any) (entity.ApiEntity, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, apierr.Fatal(apierr.CodeInvalidArgument, err.Error())
	}
	resp, err := invokeRPCRequest(ctx, common.NewActionInvokeRequest(name, token, raw), t.transport, t.serializer)
	if err != nil {
		return nil, err
	}
	return resp.Entity, nil
}

func (t *rpcTransport) Unsubscribe(path string, ids []string) {
	if len(ids) == 0 {
		return
	}
	req, err := t.serializer.Serialize(*common.NewUnsubscribeRequest(path, ids))
	if err != nil {
		Logger.Errorf("Failed to encode unsubscribe for %s: %v", path, err)
		return
	}
	if err := t.transport.Post(req); err != nil {
		Logger.Warningf("Failed to unsubscribe %d ids of %s: %v", len(ids), path, err)
	}
}

func (t *rpcTransport) PushEvents() <-chan entity.Batch {
	return t.pushes
}

func (t *rpcTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return t.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// decodePushes decodes push frames in arrival order until the transport
// closes its event channel or the transport is closed. A reconnect becomes a
// resync batch.
func (t *rpcTransport) decodePushes() {
	defer close(t.pushes)

	for ev := range t.transport.Events() {
		var batch entity.Batch
		if ev.Reconnected {
			batch.Resync = true
		} else {
			var msg common.Message
			if err := t.serializer.Deserialize(ev.Data, &msg); err != nil {
				Logger.Errorf("Dropping undecodable push event: %v", err)
				continue
			}
			if msg.MsgType != common.MsgTPush || msg.Batch == nil {
				Logger.Warningf("Dropping %s message received as push event", msg.MsgType)
				continue
			}
			batch = *msg.Batch
			batch.Resync = false
		}

		select {
		case t.pushes <- batch:
		case <-t.done:
			return
		}
	}
}

