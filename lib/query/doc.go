// Package query implements the query instance registry of a table.
//
// A table declares a closed set of query kinds. Each request is a (kind,
// payload) pair and is identified by the structural hash of its payload: two
// handles activated with structurally equal requests share one Instance, and
// with it one fetch, one loading flag, one error and one result id list.
//
// Instances are reference counted by the handles bound to them. An instance
// without uses stays registered until the next Sweep, so a handle flipping
// between requests does not throw away results that are about to be reused.
//
// Fetch bookkeeping is generation based. BeginFetch hands out a token, and only
// the fetch presenting the current token may complete or fail the instance.
// Results of swept instances are rejected.
package query
