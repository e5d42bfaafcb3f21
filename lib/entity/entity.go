package entity

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// ApiEntity is the wire shape of one entity as delivered by the server.
// Beyond its top-level fields it is opaque to the datafront.
type ApiEntity map[string]any

// Clone returns a shallow copy of the entity.
func (a ApiEntity) Clone() ApiEntity {
	if a == nil {
		return nil
	}
	out := make(ApiEntity, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns a new entity with every top-level field of patch written over
// base. Nested values are replaced, never merged. Neither argument is modified.
func Merge(base, patch ApiEntity) ApiEntity {
	out := make(ApiEntity, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Decode maps a raw entity onto T. Fields are matched by their json tag, and
// numeric values are converted weakly so that entities decoded from JSON
// (float64) and from YAML (int) map the same way.
func Decode[T any](raw ApiEntity) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(map[string]any(raw)); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

// Mapper returns a mapping function that decodes entities onto T and yields
// the zero value for entities that do not fit.
func Mapper[T any]() func(ApiEntity) T {
	return func(raw ApiEntity) T {
		out, err := Decode[T](raw)
		if err != nil {
			Logger.Warningf("mapping entity onto %T failed: %v", out, err)
		}
		return out
	}
}
