// Package item holds the identity and market types a price lookup is keyed by.
// Identities are produced by the item-text parser upstream of this module; the
// engine only validates and normalizes them.
package item

import (
	"errors"
	"strings"
	"unicode"
)

// Rarity of the item being priced.
type Rarity string

const (
	RarityNormal   Rarity = "normal"
	RarityMagic    Rarity = "magic"
	RarityRare     Rarity = "rare"
	RarityUnique   Rarity = "unique"
	RarityCurrency Rarity = "currency"
	RarityGem      Rarity = "gem"
)

// Game selects which game's economy the lookup targets.
type Game string

const (
	GamePoE1 Game = "poe1"
	GamePoE2 Game = "poe2"
)

// Identity is what the upstream parser extracted from an item.
// At least one of Name/BaseType must be set.
type Identity struct {
	Name      string `json:"name"`
	BaseType  string `json:"base_type"`
	Rarity    Rarity `json:"rarity"`
	Category  string `json:"category,omitempty"` // e.g. "currency", "map"
	StackSize int    `json:"stack_size,omitempty"`
}

// ErrEmptyIdentity is returned when an identity has neither name nor base type.
var ErrEmptyIdentity = errors.New("item: identity has neither name nor base type")

// Validate rejects identities the engine cannot look up at all.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Name) == "" && strings.TrimSpace(id.BaseType) == "" {
		return ErrEmptyIdentity
	}
	return nil
}

// DisplayName is the name sources are queried by: the explicit name when
// present, the base type otherwise (currency and gems carry only a base type).
func (id Identity) DisplayName() string {
	if n := strings.TrimSpace(id.Name); n != "" {
		return n
	}
	return strings.TrimSpace(id.BaseType)
}

// Stack returns the stack size, defaulting to 1.
func (id Identity) Stack() int {
	if id.StackSize > 0 {
		return id.StackSize
	}
	return 1
}

// Market pins a lookup to one tradable economy. Prices from different leagues
// are never comparable.
type Market struct {
	League string `json:"league"`
	Game   Game   `json:"game"`
}

func (m Market) Validate() error {
	if strings.TrimSpace(m.League) == "" {
		return errors.New("item: market league is empty")
	}
	return nil
}

// NormalizeName folds an item display name for matching across sources:
// lower-cased, punctuation stripped, whitespace collapsed.
// "Mirror of Kalandra" and "mirror-of-kalandra" compare equal.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
