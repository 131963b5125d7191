package heartrate

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BPMToken is replaced by the bpm value in label templates.
const BPMToken = "{{bpm}}"

// ErrEmptyTable is returned when a threshold table has no usable entries.
var ErrEmptyTable = errors.New("threshold table has no entries")

// Rand picks an index in [0,n). *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// ThresholdTable maps ascending exclusive upper bounds to label templates.
type ThresholdTable struct {
	buckets *orderedmap.OrderedMap[int, []string]
}

// NewThresholdTable builds a table from bound -> templates. Every bucket must
// carry at least one template.
func NewThresholdTable(labels map[int][]string) (*ThresholdTable, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyTable
	}

	bounds := make([]int, 0, len(labels))
	for bound, templates := range labels {
		if len(templates) == 0 {
			return nil, fmt.Errorf("threshold %d has no label templates", bound)
		}
		bounds = append(bounds, bound)
	}
	sort.Ints(bounds)

	buckets := orderedmap.New[int, []string](len(bounds))
	for _, bound := range bounds {
		buckets.Set(bound, append([]string(nil), labels[bound]...))
	}
	return &ThresholdTable{buckets: buckets}, nil
}

// ParseThresholdTable builds a table from string keys as found in config files.
func ParseThresholdTable(labels map[string][]string) (*ThresholdTable, error) {
	numeric := make(map[int][]string, len(labels))
	for key, templates := range labels {
		bound, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("threshold %q is not an integer", key)
		}
		numeric[bound] = templates
	}
	return NewThresholdTable(numeric)
}

// Bounds returns the upper bounds in ascending order.
func (t *ThresholdTable) Bounds() []int {
	bounds := make([]int, 0, t.buckets.Len())
	for pair := t.buckets.Oldest(); pair != nil; pair = pair.Next() {
		bounds = append(bounds, pair.Key)
	}
	return bounds
}

// Bucket returns the bound chosen for bpm: the smallest bound strictly greater
// than bpm, or the largest bound when bpm reaches all of them.
func (t *ThresholdTable) Bucket(bpm int) int {
	for pair := t.buckets.Oldest(); pair != nil; pair = pair.Next() {
		if bpm < pair.Key {
			return pair.Key
		}
	}
	return t.buckets.Newest().Key
}

// Selector renders bpm values through a ThresholdTable.
type Selector struct {
	table *ThresholdTable
	rng   Rand
}

// NewSelector creates a Selector. A nil rng uses the global source.
func NewSelector(table *ThresholdTable, rng Rand) *Selector {
	if rng == nil {
		rng = globalRand{}
	}
	return &Selector{table: table, rng: rng}
}

// Text picks a template for bpm (uniformly among the bucket's templates) and
// substitutes the value.
func (s *Selector) Text(bpm int) string {
	templates, _ := s.table.buckets.Get(s.table.Bucket(bpm))

	tmpl := templates[0]
	if len(templates) > 1 {
		tmpl = templates[s.rng.IntN(len(templates))]
	}
	return strings.ReplaceAll(tmpl, BPMToken, strconv.Itoa(bpm))
}

// DefaultLabels is the label table written to new configuration files.
func DefaultLabels() map[string][]string {
	return map[string][]string{
		"70":  {"♡ {{bpm}}"},
		"80":  {"❤️ {{bpm}}"},
		"100": {"💕 {{bpm}} 💕"},
		"130": {"❤️💕 {{bpm}} 💕❤️"},
		"150": {
			"❤️❤️❤️ {{bpm}} ❤️❤️❤️",
			"💕💕💕 {{bpm}} 💕💕💕",
		},
		"999": {
			"❤️❤️❤️❤️ {{bpm}} ❤️❤️❤️❤️",
			"💕💕💕💕 {{bpm}} 💕💕💕💕",
			"LOVE ❤️ {{bpm}} ❤️ LOVE",
		},
	}
}
