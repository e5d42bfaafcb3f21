package cache

import (
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nameOf(raw entity.ApiEntity) string {
	s, _ := raw["name"].(string)
	return s
}

func TestPutAndGet(t *testing.T) {
	s := NewStore[string](nameOf)
	s.Put("u1", entity.ApiEntity{"name": "ada"})
	s.UseIDs("u2")

	got := s.Get("u1", "u2", "u3")
	assert.Equal(t, map[string]string{"u1": "ada"}, got)

	state, ok := s.State("u1")
	require.True(t, ok)
	assert.Equal(t, StateDone, state)

	state, ok = s.State("u2")
	require.True(t, ok)
	assert.Equal(t, StateCreated, state)
}

func TestPatchBeforeFetchIsDropped(t *testing.T) {
	s := NewStore[string](nameOf)
	assert.False(t, s.Patch("u1", entity.ApiEntity{"name": "x"}))
	assert.False(t, s.Has("u1"))

	s.UseIDs("u1")
	assert.False(t, s.Patch("u1", entity.ApiEntity{"name": "x"}))
	_, ok := s.Raw("u1")
	assert.False(t, ok)
}

func TestPatchRecomputesMapped(t *testing.T) {
	s := NewStore[string](nameOf)
	s.Put("u1", entity.ApiEntity{"name": "ada", "age": 36})
	require.True(t, s.Patch("u1", entity.ApiEntity{"name": "grace"}))

	assert.Equal(t, "grace", s.Get("u1")["u1"])
	raw, _ := s.Raw("u1")
	assert.Equal(t, 36, raw["age"])
}

// applying p1 then p2 equals applying the merge of both
func TestPatchComposition(t *testing.T) {
	p1 := entity.ApiEntity{"name": "a", "x": 1}
	p2 := entity.ApiEntity{"x": 2, "y": 3}

	a := NewStore[string](nameOf)
	a.Put("e", entity.ApiEntity{"name": "start", "z": 0})
	a.Patch("e", p1)
	a.Patch("e", p2)

	b := NewStore[string](nameOf)
	b.Put("e", entity.ApiEntity{"name": "start", "z": 0})
	b.Patch("e", entity.Merge(p1, p2))

	rawA, _ := a.Raw("e")
	rawB, _ := b.Raw("e")
	assert.Equal(t, rawB, rawA)
}

func TestVersionedPatches(t *testing.T) {
	s := NewStore[string](nameOf)
	s.Put("u1", entity.ApiEntity{"name": "v0"})

	assert.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v2"}, 2))
	assert.False(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v1"}, 1))
	assert.False(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v2b"}, 2))
	assert.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "unversioned"}, 0))
	assert.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v3"}, 3))

	assert.Equal(t, "v3", s.Get("u1")["u1"])
}

func TestDelete(t *testing.T) {
	s := NewStore[string](nameOf)
	s.UseIDs("u1")
	s.Put("u1", entity.ApiEntity{"name": "ada"})

	assert.True(t, s.Delete("u1"))
	assert.False(t, s.Delete("u1"))
	assert.Empty(t, s.Get("u1"))
	assert.False(t, s.Patch("u1", entity.ApiEntity{"name": "x"}))

	uses, ok := s.Uses("u1")
	require.True(t, ok)
	assert.Equal(t, 1, uses)
}

func TestVersionedDelete(t *testing.T) {
	s := NewStore[string](nameOf)
	s.Put("u1", entity.ApiEntity{"name": "v0"})
	require.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v3"}, 3))

	// a delayed delete from before the last patch is ignored
	assert.False(t, s.DeleteVersion("u1", 2))
	assert.Equal(t, "v3", s.Get("u1")["u1"])

	assert.True(t, s.DeleteVersion("u1", 4))
	assert.Empty(t, s.Get("u1"))
	assert.False(t, s.DeleteVersion("u1", 5))
}

func TestReplace(t *testing.T) {
	s := NewStore[string](nameOf)
	assert.False(t, s.ReplaceVersion("u1", entity.ApiEntity{"name": "early"}, 1))

	s.Put("u1", entity.ApiEntity{"name": "ada", "team": "red"})
	require.True(t, s.ReplaceVersion("u1", entity.ApiEntity{"name": "bob"}, 2))
	raw, _ := s.Raw("u1")
	assert.Equal(t, entity.ApiEntity{"name": "bob"}, raw)
	assert.Equal(t, "bob", s.Get("u1")["u1"])

	assert.False(t, s.ReplaceVersion("u1", entity.ApiEntity{"name": "old"}, 2))
}

func TestResetVersions(t *testing.T) {
	s := NewStore[string](nameOf)
	s.Put("u1", entity.ApiEntity{"name": "v0"})
	require.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v7"}, 7))
	require.False(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v1"}, 1))

	s.ResetVersions()
	assert.True(t, s.PatchVersion("u1", entity.ApiEntity{"name": "v1"}, 1))
	assert.Equal(t, "v1", s.Get("u1")["u1"])
}

func TestMarkLoading(t *testing.T) {
	s := NewStore[string](nameOf)
	s.UseIDs("created")
	s.Put("done", entity.ApiEntity{"name": "d"})
	s.MarkLoading("created", "done", "missing")

	state, _ := s.State("created")
	assert.Equal(t, StateCreated, state)
	state, _ = s.State("done")
	assert.Equal(t, StateLoading, state)

	// data stays visible while refreshing
	assert.Equal(t, "d", s.Get("done")["done"])
}

func TestSweepRemovesUnused(t *testing.T) {
	s := NewStore[string](nameOf)
	s.UseIDs("a", "b", "c")
	s.Put("d", entity.ApiEntity{"name": "orphan"})
	s.ReleaseIDs("b", "c")
	s.ReleaseIDs("c")

	assert.Equal(t, []string{"b", "c", "d"}, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has("a"))
	assert.Empty(t, s.Sweep())
}

// after any sequence of balanced use/release and a sweep, exactly the ids with
// a positive count remain
func TestRefCountProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "e"}

	for round := 0; round < 50; round++ {
		s := NewStore[string](nameOf)
		want := map[string]int{}

		for step := 0; step < 100; step++ {
			id := ids[rng.Intn(len(ids))]
			if rng.Intn(2) == 0 || want[id] == 0 {
				s.UseIDs(id)
				want[id]++
			} else {
				s.ReleaseIDs(id)
				want[id]--
			}
		}
		s.Sweep()

		for _, id := range ids {
			uses, ok := s.Uses(id)
			if want[id] > 0 {
				require.True(t, ok, "id %s should survive", id)
				assert.Equal(t, want[id], uses)
			} else {
				assert.False(t, ok, "id %s should be swept", id)
			}
		}
	}
}
