package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		ws.NewWSServerTransport(config.Transport.WorkersPerConn),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		tables:     xsync.NewMapOf[string, *serverTable](),
		singletons: xsync.NewMapOf[string, *serverSingleton](),
		subs:       xsync.NewMapOf[uint64, *subscriptions](),
		actions:    xsync.NewMapOf[string, ActionFunc](),
		runs:       xsync.NewMapOf[string, *actionRun](),
		registry:   metrics.NewRegistry(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.registerBuiltinActions()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return s
}

// RPCServer is the reference datafront server. It keeps tables and singletons
// in memory, answers fetches, runs actions and pushes every mutation to the
// connections subscribed to the mutated entities.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer

	tables     *xsync.MapOf[string, *serverTable]
	singletons *xsync.MapOf[string, *serverSingleton]
	subs       *xsync.MapOf[uint64, *subscriptions]
	actions    *xsync.MapOf[string, ActionFunc]
	runs       *xsync.MapOf[string, *actionRun]

	// mutationMu orders mutations, their push events and the subscribe step
	// of fetches, so every subscribed connection sees every later mutation
	mutationMu sync.Mutex

	registry metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(connID uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode the request
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(apierr.Fatal(apierr.CodeInvalidArgument,
				fmt.Sprintf("failed to deserialize request: %s", err)))
		} else {
			respMsg = s.Handle(connID, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				fmt.Errorf("failed to serialize response: %s", err)))
		}
		return val
	})

	s.transport.RegisterDisconnectHandler(func(connID uint64) {
		if _, ok := s.subs.LoadAndDelete(connID); ok {
			metrics.GetOrRegisterCounter("subscribers", s.registry).Dec(1)
			Logger.Debugf("dropped subscriptions of connection %d", connID)
		}
	})
}

// Handle answers one request that arrived on connection connID. Unsubscribe
// requests are one-way, their response is discarded by the transport.
func (s *RPCServer) Handle(connID uint64, msg *common.Message) *common.Message {
	start := time.Now()
	defer metrics.GetOrRegisterTimer("rpc."+msg.MsgType.String(), s.registry).UpdateSince(start)

	ctx := s.ctx
	if s.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	switch msg.MsgType {
	case common.MsgTSingletonFetch:
		e, err := s.fetchSingleton(connID, msg.Path)
		return common.NewSingletonFetchResponse(e, err)
	case common.MsgTQueryFetch:
		entities, err := s.fetchQuery(connID, msg.Path, msg.QueryKind, msg.Payload)
		return common.NewQueryFetchResponse(entities, err)
	case common.MsgTActionInvoke:
		e, err := s.invokeAction(ctx, msg.Name, msg.Token, msg.Payload)
		return common.NewActionInvokeResponse(e, err)
	case common.MsgTUnsubscribe:
		s.unsubscribe(connID, msg.Path, msg.IDs)
		return &common.Message{MsgType: common.MsgTUnsubscribe}
	default:
		return common.NewErrorResponse(apierr.Fatal(apierr.CodeInvalidArgument,
			fmt.Sprintf("unsupported message type %s", msg.MsgType)))
	}
}

// Serve starts the RPC server. It blocks until Close is called or the
// transport fails.
func (s *RPCServer) Serve() error {
	if s.config.SeedFile != "" {
		seed, err := LoadSeed(s.config.SeedFile)
		if err != nil {
			return err
		}
		s.ApplySeed(seed)
	}

	if s.config.MetricsLogIntervalSec > 0 {
		go s.logMetrics(time.Duration(s.config.MetricsLogIntervalSec) * time.Second)
	}

	Logger.Infof("dFront setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics log.
func (s *RPCServer) Close() error {
	s.cancel()
	return s.transport.Close()
}
