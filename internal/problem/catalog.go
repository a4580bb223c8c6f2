package problem

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed problems.yaml
var seedData []byte

// Catalog is an in-memory Source seeded from the embedded YAML file,
// indexed by lowercased "difficulty/topic".
type Catalog struct {
	byCategory map[string][]*Problem
	count      int
}

// NewCatalog loads the embedded seed set.
func NewCatalog() (*Catalog, error) {
	return newCatalogFrom(seedData)
}

func newCatalogFrom(data []byte) (*Catalog, error) {
	var file struct {
		Problems []*Problem `yaml:"problems"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse problem seed: %w", err)
	}

	c := &Catalog{byCategory: make(map[string][]*Problem)}
	for _, p := range file.Problems {
		if p.ID == "" || p.FunctionName == "" || len(p.Tests) == 0 {
			return nil, fmt.Errorf("problem %q is missing id, function name, or tests", p.ID)
		}
		key := categoryKey(p.Difficulty, p.Topic)
		c.byCategory[key] = append(c.byCategory[key], p)
		c.count++
	}

	log.Info().
		Int("problems", c.count).
		Int("categories", len(c.byCategory)).
		Msg("problem catalog loaded")
	return c, nil
}

// GetRandom implements Source.
func (c *Catalog) GetRandom(difficulty, topic string) (*Problem, error) {
	pool := c.byCategory[categoryKey(difficulty, topic)]
	if len(pool) == 0 {
		return nil, fmt.Errorf("no problems available for difficulty %q and topic %q", difficulty, topic)
	}
	return pool[rand.Intn(len(pool))], nil
}

// Count reports how many problems the catalog holds.
func (c *Catalog) Count() int {
	return c.count
}

func categoryKey(difficulty, topic string) string {
	return strings.ToLower(strings.TrimSpace(difficulty)) + "/" + strings.ToLower(strings.TrimSpace(topic))
}
