// Package kata picks the day's exercise name from a configured list,
// avoiding names shown on recent days.
package kata

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultNames is used when no list file is configured.
var defaultNames = []string{
	"Heian Shodan",
	"Heian Nidan",
	"Heian Sandan",
	"Heian Yondan",
	"Heian Godan",
	"Tekki Shodan",
	"Bassai Dai",
	"Kanku Dai",
	"Empi",
	"Jion",
}

// listFile is the yaml shape of a name list file.
type listFile struct {
	Katas []string `yaml:"katas"`
}

// Selector picks names uniformly at random, excluding recently shown ones.
type Selector struct {
	names []string
	rnd   *rand.Rand
}

// NewSelector loads the name list from path, or the built-in list when path
// is empty.
func NewSelector(path string) (*Selector, error) {
	names := defaultNames
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("kata: read list: %w", err)
		}
		var lf listFile
		if err := yaml.Unmarshal(data, &lf); err != nil {
			return nil, fmt.Errorf("kata: parse list: %w", err)
		}
		if len(lf.Katas) == 0 {
			return nil, errors.New("kata: list file has no katas")
		}
		names = lf.Katas
	}
	return &Selector{
		names: names,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Pick returns a random name not in excludeRecent. When the exclusion would
// empty the pool (short lists), the full list is used instead; a repeat
// beats no kata.
func (s *Selector) Pick(excludeRecent []string) (string, error) {
	if len(s.names) == 0 {
		return "", errors.New("kata: no names available")
	}

	excluded := make(map[string]bool, len(excludeRecent))
	for _, n := range excludeRecent {
		excluded[n] = true
	}

	pool := make([]string, 0, len(s.names))
	for _, n := range s.names {
		if !excluded[n] {
			pool = append(pool, n)
		}
	}
	if len(pool) == 0 {
		pool = s.names
	}

	return pool[s.rnd.Intn(len(pool))], nil
}
