package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/rcrowley/go-metrics"
)

// KindAll is the query kind every table answers. It selects every entity.
const KindAll = "all"

// Matcher reports whether an entity belongs to a query result.
type Matcher func(id string, e entity.ApiEntity) bool

// QueryFunc builds the matcher of one query from its payload.
type QueryFunc func(payload json.RawMessage) (Matcher, error)

// serverTable is one entity collection of the server
type serverTable struct {
	mu       sync.RWMutex
	entities map[string]entity.ApiEntity
	versions map[string]uint64
	queries  map[string]QueryFunc
}

type serverSingleton struct {
	mu    sync.RWMutex
	value entity.ApiEntity
}

// subscriptions are the entities one connection receives push events for
type subscriptions struct {
	mu         sync.Mutex
	tables     map[string]map[string]struct{}
	singletons map[string]struct{}
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// table returns the table stored under path and creates it if needed
func (s *RPCServer) table(path string) *serverTable {
	t, _ := s.tables.LoadOrCompute(path, func() *serverTable {
		return &serverTable{
			entities: map[string]entity.ApiEntity{},
			versions: map[string]uint64{},
			queries: map[string]QueryFunc{
				KindAll: func(json.RawMessage) (Matcher, error) {
					return func(string, entity.ApiEntity) bool { return true }, nil
				},
			},
		}
	})
	return t
}

// RegisterQuery declares the query kind of the table stored under path.
func (s *RPCServer) RegisterQuery(path, kind string, fn QueryFunc) {
	t := s.table(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries[kind] = fn
}

// RegisterFieldQuery declares a query kind selecting the entities whose field
// equals the field of the same name in the payload. Values are compared by
// their printed form, so 3 and 3.0 match.
func (s *RPCServer) RegisterFieldQuery(path, kind, field string) {
	s.RegisterQuery(path, kind, func(payload json.RawMessage) (Matcher, error) {
		var args map[string]any
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, apierr.Fatal(apierr.CodeInvalidArgument, fmt.Sprintf("%s payload: %v", kind, err))
		}
		want, ok := args[field]
		if !ok {
			return nil, apierr.Fatal(apierr.CodeInvalidArgument, fmt.Sprintf("%s payload is missing %q", kind, field))
		}
		wantStr := fmt.Sprint(want)
		return func(_ string, e entity.ApiEntity) bool {
			v, ok := e[field]
			return ok && fmt.Sprint(v) == wantStr
		}, nil
	})
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *RPCServer) fetchQuery(connID uint64, path, kind string, payload json.RawMessage) (map[string]entity.ApiEntity, error) {
	t, ok := s.tables.Load(path)
	if !ok {
		return nil, apierr.Fatal(apierr.CodeNotFound, fmt.Sprintf("unknown table %q", path))
	}

	t.mu.RLock()
	fn, ok := t.queries[kind]
	t.mu.RUnlock()
	if !ok {
		return nil, apierr.Fatal(apierr.CodeInvalidArgument, fmt.Sprintf("table %q has no query kind %q", path, kind))
	}

	match, err := fn(payload)
	if err != nil {
		return nil, err
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	t.mu.RLock()
	result := make(map[string]entity.ApiEntity)
	for id, e := range t.entities {
		if match(id, e) {
			result[id] = e.Clone()
		}
	}
	t.mu.RUnlock()

	sub := s.subscriptionsFor(connID)
	sub.mu.Lock()
	ids := sub.tables[path]
	if ids == nil {
		ids = map[string]struct{}{}
		sub.tables[path] = ids
	}
	for id := range result {
		ids[id] = struct{}{}
	}
	sub.mu.Unlock()

	return result, nil
}

func (s *RPCServer) fetchSingleton(connID uint64, path string) (entity.ApiEntity, error) {
	sg, ok := s.singletons.Load(path)
	if !ok {
		return nil, apierr.Fatal(apierr.CodeNotFound, fmt.Sprintf("unknown singleton %q", path))
	}

	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	sg.mu.RLock()
	value := sg.value.Clone()
	sg.mu.RUnlock()

	sub := s.subscriptionsFor(connID)
	sub.mu.Lock()
	sub.singletons[path] = struct{}{}
	sub.mu.Unlock()

	return value, nil
}

// Entity returns a copy of one entity of a table.
func (s *RPCServer) Entity(path, eid string) (entity.ApiEntity, bool) {
	t, ok := s.tables.Load(path)
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entities[eid]
	return e.Clone(), ok
}

// Singleton returns a copy of the singleton stored under path.
func (s *RPCServer) Singleton(path string) (entity.ApiEntity, bool) {
	sg, ok := s.singletons.Load(path)
	if !ok {
		return nil, false
	}
	sg.mu.RLock()
	defer sg.mu.RUnlock()
	return sg.value.Clone(), true
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// PutEntity stores e under eid, replacing any previous value. Subscribers of
// the entity receive the full value as replacing patch, so fields missing in e
// are dropped on the client as well.
func (s *RPCServer) PutEntity(path, eid string, e entity.ApiEntity) {
	s.mutateEntity(path, eid, func(entity.ApiEntity) (entity.ApiEntity, entity.TablePatch) {
		return e.Clone(), entity.TablePatch{Patch: e.Clone(), Replace: true}
	})
}

// PatchEntity merges patch into the entity eid. It fails with NOT_FOUND if the
// entity does not exist.
func (s *RPCServer) PatchEntity(path, eid string, patch entity.ApiEntity) error {
	found := true
	s.mutateEntity(path, eid, func(cur entity.ApiEntity) (entity.ApiEntity, entity.TablePatch) {
		if cur == nil {
			found = false
			return nil, entity.TablePatch{}
		}
		return entity.Merge(cur, patch), entity.TablePatch{Patch: patch.Clone()}
	})
	if !found {
		return apierr.Fatal(apierr.CodeNotFound, fmt.Sprintf("unknown entity %s/%s", path, eid))
	}
	return nil
}

// DeleteEntity removes the entity eid. Subscribers receive a deletion patch.
func (s *RPCServer) DeleteEntity(path, eid string) {
	s.mutateEntity(path, eid, func(cur entity.ApiEntity) (entity.ApiEntity, entity.TablePatch) {
		if cur == nil {
			return nil, entity.TablePatch{}
		}
		return nil, entity.TablePatch{Deleted: true}
	})
}

// PatchSingleton merges patch into the singleton stored under path and
// creates the singleton if needed.
func (s *RPCServer) PatchSingleton(path string, patch entity.ApiEntity) {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	sg, _ := s.singletons.LoadOrCompute(path, func() *serverSingleton {
		return &serverSingleton{value: entity.ApiEntity{}}
	})
	sg.mu.Lock()
	sg.value = entity.Merge(sg.value, patch)
	sg.mu.Unlock()

	s.pushLocked(func(sub *subscriptions) entity.Batch {
		if _, ok := sub.singletons[path]; !ok {
			return entity.Batch{}
		}
		return entity.Batch{Singletons: []entity.SingletonPatch{{Path: path, Patch: patch.Clone()}}}
	})
}

// mutateEntity applies fn to the current value of one entity and pushes the
// returned patch. fn returns the new value and the patch, whose path, id and
// version are filled in here. A nil value without deletion leaves the table
// unchanged.
func (s *RPCServer) mutateEntity(path, eid string, fn func(cur entity.ApiEntity) (next entity.ApiEntity, patch entity.TablePatch)) {
	s.mutationMu.Lock()
	defer s.mutationMu.Unlock()

	t := s.table(path)
	t.mu.Lock()
	next, patch := fn(t.entities[eid])
	if next == nil && !patch.Deleted {
		t.mu.Unlock()
		return
	}
	t.versions[eid]++
	patch.Path = path
	patch.EID = eid
	patch.Version = t.versions[eid]
	if patch.Deleted {
		delete(t.entities, eid)
	} else {
		t.entities[eid] = next
	}
	t.mu.Unlock()

	s.pushLocked(func(sub *subscriptions) entity.Batch {
		if _, ok := sub.tables[path][eid]; !ok {
			return entity.Batch{}
		}
		return entity.Batch{Tables: []entity.TablePatch{patch}}
	})
}

// --------------------------------------------------------------------------
// Subscriptions and push fan-out
// --------------------------------------------------------------------------

func (s *RPCServer) subscriptionsFor(connID uint64) *subscriptions {
	sub, _ := s.subs.LoadOrCompute(connID, func() *subscriptions {
		metrics.GetOrRegisterCounter("subscribers", s.registry).Inc(1)
		return &subscriptions{
			tables:     map[string]map[string]struct{}{},
			singletons: map[string]struct{}{},
		}
	})
	return sub
}

func (s *RPCServer) unsubscribe(connID uint64, path string, ids []string) {
	sub, ok := s.subs.Load(connID)
	if !ok {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	for _, id := range ids {
		delete(sub.tables[path], id)
	}
	if len(sub.tables[path]) == 0 {
		delete(sub.tables, path)
	}
	Logger.Debugf("connection %d unsubscribed %d ids of %s", connID, len(ids), path)
}

// Subscribed returns the sorted ids of path connection connID receives push
// events for.
func (s *RPCServer) Subscribed(connID uint64, path string) []string {
	sub, ok := s.subs.Load(connID)
	if !ok {
		return nil
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	ids := make([]string, 0, len(sub.tables[path]))
	for id := range sub.tables[path] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pushLocked sends the batch build returns for every connection. Empty
// batches are skipped. Must be called with mutationMu held.
func (s *RPCServer) pushLocked(build func(sub *subscriptions) entity.Batch) {
	s.subs.Range(func(connID uint64, sub *subscriptions) bool {
		sub.mu.Lock()
		batch := build(sub)
		sub.mu.Unlock()
		if batch.Empty() {
			return true
		}

		data, err := s.serializer.Serialize(*common.NewPushMessage(batch))
		if err != nil {
			Logger.Errorf("failed to serialize push event: %v", err)
			return true
		}
		if err := s.transport.Push(connID, data); err != nil {
			Logger.Warningf("failed to push to connection %d: %v", connID, err)
			return true
		}
		metrics.GetOrRegisterMeter("push.patches", s.registry).Mark(int64(len(batch.Tables) + len(batch.Singletons)))
		return true
	})
}
