package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIsShallow(t *testing.T) {
	base := ApiEntity{"id": "e1", "pos": map[string]any{"x": 1, "y": 2}, "online": false}
	merged := Merge(base, ApiEntity{"pos": map[string]any{"x": 5}, "online": true})

	assert.Equal(t, map[string]any{"x": 5}, merged["pos"])
	assert.Equal(t, true, merged["online"])
	assert.Equal(t, "e1", merged["id"])

	// inputs stay untouched
	assert.Equal(t, false, base["online"])
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, base["pos"])
}

func TestCloneNil(t *testing.T) {
	assert.Nil(t, ApiEntity(nil).Clone())
}

type user struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Online bool   `json:"online"`
}

func TestDecode(t *testing.T) {
	// json numbers arrive as float64, yaml numbers as int
	u, err := Decode[user](ApiEntity{"id": "u1", "count": float64(3), "online": true})
	require.NoError(t, err)
	assert.Equal(t, user{ID: "u1", Count: 3, Online: true}, u)

	u, err = Decode[user](ApiEntity{"id": "u2", "count": 7})
	require.NoError(t, err)
	assert.Equal(t, 7, u.Count)
}

func TestMapperYieldsZeroOnMismatch(t *testing.T) {
	m := Mapper[user]()
	assert.Equal(t, "u1", m(ApiEntity{"id": "u1"}).ID)
	assert.Equal(t, 0, m(ApiEntity{"count": []any{"x"}}).Count)
}

func TestBatchEmpty(t *testing.T) {
	assert.True(t, Batch{}.Empty())
	assert.False(t, Batch{Tables: []TablePatch{{Path: "users", EID: "u1"}}}.Empty())
}
