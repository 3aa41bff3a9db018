// Package dice parses NdM±K notation and rolls it for gameplay checks.
//
// Rolls are not cryptographically secure. The default source is a PCG seeded
// once from crypto/rand; tests inject their own Source to pin outcomes.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// MaxDice bounds the number of dice in a single notation. Larger counts are
// treated like unparseable input.
const MaxDice = 100

var notationPattern = regexp.MustCompile(`(?i)(\d+)d(\d+)([+-]\d+)?`)

// Source yields uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// Spec is a parsed notation.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

// Result is the outcome of rolling a notation.
type Result struct {
	Dice     string `json:"dice"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier,omitempty"`
	Total    int    `json:"total"`
}

// Parse extracts the first NdM±K group from notation. The search is not
// anchored, so "roll 1d20+2 please" parses as 1d20+2.
func Parse(notation string) (Spec, bool) {
	m := notationPattern.FindStringSubmatch(notation)
	if m == nil {
		return Spec{}, false
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 || count > MaxDice {
		return Spec{}, false
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil || sides < 1 {
		return Spec{}, false
	}

	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil || modifier == math.MinInt {
			return Spec{}, false
		}
	}

	// Every total in [count-|mod|, count*sides+|mod|] must fit in an int.
	if sides > (math.MaxInt-abs(modifier))/count {
		return Spec{}, false
	}

	return Spec{Count: count, Sides: sides, Modifier: modifier}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Roller rolls notations against a Source. The zero value is not usable; use
// New or NewWithSource.
type Roller struct {
	mu  sync.Mutex
	src Source
}

// New returns a Roller backed by a PCG generator with a random seed.
func New() *Roller {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand only fails on broken platforms; fall back to the
		// runtime-seeded global generator.
		return NewWithSource(globalSource{})
	}
	pcg := rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
	return NewWithSource(rand.New(pcg))
}

// NewWithSource returns a Roller drawing from src.
func NewWithSource(src Source) *Roller {
	return &Roller{src: src}
}

// Roll rolls notation. Input that does not parse yields a Result with the
// original notation, no rolls and a zero total; that is a defined outcome,
// not an error.
func (r *Roller) Roll(notation string) Result {
	spec, ok := Parse(notation)
	if !ok {
		return Result{Dice: notation, Rolls: []int{}, Total: 0}
	}
	return r.RollSpec(notation, spec)
}

// RollSpec rolls an already parsed spec, labelling the result with notation.
func (r *Roller) RollSpec(notation string, spec Spec) Result {
	rolls := make([]int, spec.Count)
	total := 0

	r.mu.Lock()
	for i := range rolls {
		rolls[i] = r.src.IntN(spec.Sides) + 1
		total += rolls[i]
	}
	r.mu.Unlock()

	return Result{
		Dice:     notation,
		Rolls:    rolls,
		Modifier: spec.Modifier,
		Total:    total + spec.Modifier,
	}
}

// Describe renders the result as "2d6+3: 4 + 2 = 9".
func (r Result) Describe() string {
	if len(r.Rolls) == 0 {
		return fmt.Sprintf("%s: %d", r.Dice, r.Total)
	}
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%s: %s = %d", r.Dice, strings.Join(parts, " + "), r.Total)
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }
