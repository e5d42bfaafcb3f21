package server

import (
	"fmt"
	"os"
	"sort"

	"github.com/ValentinKolb/dFront/lib/entity"
	"gopkg.in/yaml.v3"
)

// Seed is the dataset a server starts with.
//
//	tables:
//	  T:
//	    a: {owner: u1, name: X}
//	singletons:
//	  online: {count: 3}
//	queries:
//	  T: {byOwner: owner}
type Seed struct {
	Tables     map[string]map[string]entity.ApiEntity `yaml:"tables"`
	Singletons map[string]entity.ApiEntity            `yaml:"singletons"`
	Queries    map[string]map[string]string           `yaml:"queries"`
}

// LoadSeed reads a seed file.
func LoadSeed(file string) (*Seed, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(b)
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(b []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// ApplySeed stores every table entity and singleton of seed and declares its
// field queries.
func (s *RPCServer) ApplySeed(seed *Seed) {
	for _, path := range sortedKeys(seed.Tables) {
		for id, e := range seed.Tables[path] {
			s.PutEntity(path, id, e)
		}
		Logger.Infof("seeded table %s with %d entities", path, len(seed.Tables[path]))
	}
	for path, e := range seed.Singletons {
		s.PatchSingleton(path, e)
	}
	for path, kinds := range seed.Queries {
		for kind, field := range kinds {
			s.RegisterFieldQuery(path, kind, field)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
