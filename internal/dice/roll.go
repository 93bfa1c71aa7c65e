package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// Roll captures the faces rolled for one group.
type Roll struct {
	Sides   int   `json:"sides"`
	Results []int `json:"results"`
	Total   int   `json:"total"`
}

// String renders the roll as "2d6: [3, 4] = 7".
func (r Roll) String() string {
	return fmt.Sprintf("%dd%d: %s = %d", len(r.Results), r.Sides, faces(r.Results), r.Total)
}

// Attempt is one of the two rolls made under advantage or disadvantage.
type Attempt struct {
	Rolls []Roll `json:"rolls"`
	Total int    `json:"total"`
}

// Result is the outcome of evaluating an Expression.
//
// Rolls pairs with the expression's groups. Under advantage or disadvantage
// Rolls holds the kept attempt, Attempts holds both, and Kept indexes the
// one that was used.
type Result struct {
	Rolls    []Roll    `json:"rolls"`
	Attempts []Attempt `json:"attempts,omitempty"`
	Kept     int       `json:"kept"`
	Total    int       `json:"total"`
}

// Subtotal is the sum of the kept dice before the modifier.
func (r Result) Subtotal() int {
	sum := 0
	for _, roll := range r.Rolls {
		sum += roll.Total
	}
	return sum
}

// Roller evaluates expressions against a pseudo-random source.
// It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a roller seeded deterministically.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// NewRandomRoller returns a roller seeded from crypto/rand.
func NewRandomRoller() (*Roller, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return NewRoller(seed), nil
}

// NewSeed returns a random seed suitable for NewRoller.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Roll evaluates expr. Advantage and disadvantage roll the first group twice
// and keep the higher or lower total; the modifier is added once afterwards.
func (r *Roller) Roll(expr Expression) (Result, error) {
	expr = expr.Normalize()
	if err := expr.Validate(); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !expr.Advantage && !expr.Disadvantage {
		rolls, total, err := RollWithRng(r.rng, expr.Groups)
		if err != nil {
			return Result{}, err
		}
		return Result{Rolls: rolls, Total: total + expr.Modifier}, nil
	}

	base := expr.Groups[:1]
	attempts := make([]Attempt, 2)
	for i := range attempts {
		rolls, total, err := RollWithRng(r.rng, base)
		if err != nil {
			return Result{}, err
		}
		attempts[i] = Attempt{Rolls: rolls, Total: total}
	}

	kept := 0
	if expr.Advantage && attempts[1].Total > attempts[0].Total {
		kept = 1
	}
	if expr.Disadvantage && attempts[1].Total < attempts[0].Total {
		kept = 1
	}

	return Result{
		Rolls:    attempts[kept].Rolls,
		Attempts: attempts,
		Kept:     kept,
		Total:    attempts[kept].Total + expr.Modifier,
	}, nil
}

// RollWithRng rolls each group in order using the provided RNG.
func RollWithRng(rng *rand.Rand, groups []Group) ([]Roll, int, error) {
	if len(groups) == 0 {
		return nil, 0, ErrMissingDice
	}

	rolls := make([]Roll, 0, len(groups))
	total := 0
	for _, g := range groups {
		if !g.Valid() {
			return nil, 0, ErrInvalidDiceSpec
		}
		results := make([]int, g.Count)
		sum := 0
		for i := range results {
			results[i] = rollDie(rng, g.Sides)
			sum += results[i]
		}
		rolls = append(rolls, Roll{Sides: g.Sides, Results: results, Total: sum})
		total += sum
	}

	return rolls, total, nil
}

func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}

func faces(results []int) string {
	parts := make([]string, len(results))
	for i, v := range results {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
