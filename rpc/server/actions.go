package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/rcrowley/go-metrics"
)

// ActionFunc executes one action invocation.
type ActionFunc func(ctx context.Context, payload json.RawMessage) (entity.ApiEntity, error)

// actionRun is the server side record of one (action, token) pair
type actionRun struct {
	done   chan struct{}
	result entity.ApiEntity
	err    error
}

// RegisterAction makes fn invocable under name. A later registration replaces
// an earlier one.
func (s *RPCServer) RegisterAction(name string, fn ActionFunc) {
	s.actions.Store(name, fn)
}

// invokeAction runs the action at most once per token. A token that already
// completed replays its result, a token that is running waits for the first
// run. Tokens whose run failed retriably are forgotten, so a retry executes
// again.
func (s *RPCServer) invokeAction(ctx context.Context, name, token string, payload json.RawMessage) (entity.ApiEntity, error) {
	fn, ok := s.actions.Load(name)
	if !ok {
		return nil, apierr.Fatal(apierr.CodeNotFound, fmt.Sprintf("unknown action %q", name))
	}
	if token == "" {
		return nil, apierr.Fatal(apierr.CodeInvalidArgument, "action token is required")
	}

	key := name + "\x00" + token
	started := false
	run, _ := s.runs.LoadOrCompute(key, func() *actionRun {
		started = true
		return &actionRun{done: make(chan struct{})}
	})

	if !started {
		metrics.GetOrRegisterCounter("actions.replayed", s.registry).Inc(1)
		select {
		case <-run.done:
			return run.result.Clone(), run.err
		case <-ctx.Done():
			return nil, apierr.Classify(ctx.Err())
		}
	}

	run.result, run.err = fn(ctx, payload)
	if run.err != nil {
		run.err = apierr.Classify(run.err)
		if apierr.IsRetriable(run.err) {
			s.runs.Delete(key)
		}
		Logger.Infof("action %s (token %s) failed: %v", name, token, run.err)
	}
	close(run.done)

	return run.result.Clone(), run.err
}

// registerBuiltinActions installs the mutation actions the CLI uses
func (s *RPCServer) registerBuiltinActions() {
	s.RegisterAction("patch", func(_ context.Context, payload json.RawMessage) (entity.ApiEntity, error) {
		var args struct {
			Path  string           `json:"path"`
			EID   string           `json:"eid"`
			Patch entity.ApiEntity `json:"patch"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, apierr.Fatal(apierr.CodeInvalidArgument, err.Error())
		}
		if err := s.PatchEntity(args.Path, args.EID, args.Patch); err != nil {
			return nil, err
		}
		e, _ := s.Entity(args.Path, args.EID)
		return e, nil
	})

	s.RegisterAction("patchSingleton", func(_ context.Context, payload json.RawMessage) (entity.ApiEntity, error) {
		var args struct {
			Path  string           `json:"path"`
			Patch entity.ApiEntity `json:"patch"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, apierr.Fatal(apierr.CodeInvalidArgument, err.Error())
		}
		s.PatchSingleton(args.Path, args.Patch)
		e, _ := s.Singleton(args.Path)
		return e, nil
	})
}
