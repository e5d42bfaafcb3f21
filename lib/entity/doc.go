// Package entity defines the wire-shape records the datafront mirrors from
// the server and the push events that keep them live.
//
// An ApiEntity is a flat map of top-level fields. Patches are field-level
// overwrites: Merge never descends into nested values, so a patch carrying
// {"pos": {"x": 1}} replaces the whole "pos" field.
//
// Domain values are derived from ApiEntities by pure mapping functions. Decode
// and Mapper cover the common case of mapping onto a tagged struct.
package entity
