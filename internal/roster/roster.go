// Package roster holds the fixed character roster and the one-time randomized
// ordering of main-study characters.
package roster

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/BTreeMap/AvatarStudy/internal/models"
)

// PracticeCount is the number of practice characters at the head of every roster.
const PracticeCount = 2

// Roster is an ordered, validated list of characters. Practice characters come first.
type Roster struct {
	chars []models.Character
}

// Default returns the roster used by the study: two practice characters
// followed by sixteen main-study characters.
func Default() *Roster {
	r, err := New(defaultCharacters)
	if err != nil {
		panic(fmt.Sprintf("default roster invalid: %v", err))
	}
	return r
}

// New validates chars and builds a Roster.
func New(chars []models.Character) (*Roster, error) {
	if len(chars) <= PracticeCount {
		return nil, fmt.Errorf("%w: need more than %d characters, got %d", models.ErrInvalidRoster, PracticeCount, len(chars))
	}
	seen := make(map[string]bool, len(chars))
	out := make([]models.Character, len(chars))
	for i, c := range chars {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("character %d (%q): %w", i, c.Name, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate character ID %s", models.ErrInvalidRoster, c.ID)
		}
		seen[c.ID] = true
		c.Practice = i < PracticeCount
		out[i] = c
	}
	return &Roster{chars: out}, nil
}

// LoadFile reads a JSON array of characters from path.
func LoadFile(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}
	var chars []models.Character
	if err := json.Unmarshal(data, &chars); err != nil {
		return nil, fmt.Errorf("failed to parse roster file: %w", err)
	}
	return New(chars)
}

// Len returns the number of characters.
func (r *Roster) Len() int {
	return len(r.chars)
}

// At returns the character at index i.
func (r *Roster) At(i int) (models.Character, error) {
	if i < 0 || i >= len(r.chars) {
		return models.Character{}, fmt.Errorf("%w: %d", models.ErrCharacterOutOfRange, i)
	}
	return r.chars[i], nil
}

// Characters returns a copy of the roster.
func (r *Roster) Characters() []models.Character {
	out := make([]models.Character, len(r.chars))
	copy(out, r.chars)
	return out
}

// Lookup finds a character by its SDK ID.
func (r *Roster) Lookup(id string) (models.Character, int, bool) {
	for i, c := range r.chars {
		if c.ID == id {
			return c, i, true
		}
	}
	return models.Character{}, -1, false
}

// PracticeIndices returns the indices of the practice characters in presentation order.
func (r *Roster) PracticeIndices() []int {
	out := make([]int, PracticeCount)
	for i := range out {
		out[i] = i
	}
	return out
}

// MainIndices returns the indices of the main-study characters in roster order.
func (r *Roster) MainIndices() []int {
	out := make([]int, 0, len(r.chars)-PracticeCount)
	for i := PracticeCount; i < len(r.chars); i++ {
		out = append(out, i)
	}
	return out
}

// RandomOrder returns a uniform random permutation of the main-study indices.
// A nil rng uses the global math/rand/v2 source.
func (r *Roster) RandomOrder(rng *rand.Rand) []int {
	order := r.MainIndices()
	Shuffle(order, rng)
	return order
}

// Shuffle permutes s in place with the Fisher-Yates algorithm.
func Shuffle(s []int, rng *rand.Rand) {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	for i := len(s) - 1; i > 0; i-- {
		j := intN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// IsPermutationOfMain reports whether order contains every main-study index exactly once.
func (r *Roster) IsPermutationOfMain(order []int) bool {
	if len(order) != len(r.chars)-PracticeCount {
		return false
	}
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < PracticeCount || idx >= len(r.chars) || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
