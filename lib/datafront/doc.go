// Package datafront is the entry point of the client-side data layer.
//
// A Client mirrors a subset of server-owned data: tables of entities selected
// by typed queries, singletons, and token-keyed actions. Data is fetched on
// demand, shared between every consumer of the same query, kept live by patch
// batches the server pushes, and evicted once nobody uses it anymore.
//
// Example:
//
//	client := datafront.New(transport, datafront.DefaultConfig())
//	items, _ := datafront.NewTable(client, "items", entity.Mapper[Item](), "byOwner")
//	client.Start()
//	defer client.Close()
//
//	q := items.Use()
//	defer q.Close()
//	_ = q.Activate(query.New("byOwner", map[string]string{"owner": "u1"}))
//	for range q.Changed() {
//		if !q.IsLoading() {
//			fmt.Println(q.Result())
//		}
//	}
//
// Components:
//
//   - table: entity cache plus query instance registry (package table)
//   - singleton: lazily fetched single objects (package singleton)
//   - action: token-keyed mutations with at most one run per token (package action)
//   - updater: routes push batches to tables and singletons (package updater)
//   - cleaner: sweeps unused query instances and cache entries (package cleaner)
//
// The server side is reached through an ITransport. The rpc/client package
// provides one over tcp, unix sockets and websockets, dftest a scripted one
// for tests.
package datafront
