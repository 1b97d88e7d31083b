package tiers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Fantasim/minerstake/internal/models"
)

// Descriptor holds the display and reward properties of one tier.
type Descriptor struct {
	Tier       models.Tier `json:"tier"`
	Name       string      `json:"name"`
	Image      string      `json:"image"`
	Multiplier float64     `json:"multiplier"`
}

// Table maps every tier to its descriptor.
type Table struct {
	byTier [models.TierCount]Descriptor
}

// defaultDescriptors is written when tiers.json is missing.
var defaultDescriptors = []Descriptor{
	{Tier: models.Tier0, Name: "Basic Miner", Image: "/images/miners/tier0.png", Multiplier: 1.0},
	{Tier: models.Tier1, Name: "Advanced Miner", Image: "/images/miners/tier1.png", Multiplier: 1.5},
	{Tier: models.Tier2, Name: "Elite Miner", Image: "/images/miners/tier2.png", Multiplier: 2.0},
}

// Default returns the built-in table.
func Default() *Table {
	t, err := New(defaultDescriptors)
	if err != nil {
		panic(fmt.Sprintf("default tiers invalid: %v", err))
	}
	return t
}

// New validates descriptors and builds a table.
func New(descriptors []Descriptor) (*Table, error) {
	if err := Validate(descriptors); err != nil {
		return nil, err
	}
	t := &Table{}
	for _, d := range descriptors {
		t.byTier[d.Tier] = d
	}
	return t, nil
}

// Validate checks that descriptors cover every tier exactly once, in order,
// with names set and positive multipliers that never decrease.
func Validate(descriptors []Descriptor) error {
	if len(descriptors) != len(models.AllTiers) {
		return fmt.Errorf("tiers validation: need %d tiers, got %d", len(models.AllTiers), len(descriptors))
	}

	for i, d := range descriptors {
		if d.Tier != models.AllTiers[i] {
			return fmt.Errorf("tiers validation: entry %d is %s, want %s", i, d.Tier, models.AllTiers[i])
		}
		if d.Name == "" {
			return fmt.Errorf("tiers validation: %s has no name", d.Tier)
		}
		if d.Multiplier <= 0 {
			return fmt.Errorf("tiers validation: %s has non-positive multiplier %.2f", d.Tier, d.Multiplier)
		}
		if i > 0 && d.Multiplier < descriptors[i-1].Multiplier {
			return fmt.Errorf("tiers validation: %s multiplier %.2f is below %s multiplier %.2f",
				d.Tier, d.Multiplier, descriptors[i-1].Tier, descriptors[i-1].Multiplier)
		}
	}

	return nil
}

// Lookup returns the descriptor for tier.
func (t *Table) Lookup(tier models.Tier) (Descriptor, bool) {
	if !tier.Valid() {
		return Descriptor{}, false
	}
	return t.byTier[tier], true
}

// All returns the descriptors ordered by tier.
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, len(t.byTier))
	copy(out, t.byTier[:])
	return out
}

// Load reads and validates a tiers file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file %q: %w", path, err)
	}

	var descriptors []Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("parse tiers JSON: %w", err)
	}

	t, err := New(descriptors)
	if err != nil {
		return nil, err
	}

	slog.Info("tiers configuration loaded", "path", path, "tierCount", len(descriptors))
	return t, nil
}

// WriteDefault writes the built-in descriptors to path.
func WriteDefault(path string) error {
	data, err := json.MarshalIndent(defaultDescriptors, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default tiers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tiers directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default tiers to %q: %w", path, err)
	}

	slog.Info("default tiers configuration created", "path", path)
	return nil
}

// LoadOrCreate loads path, writing the defaults first when it does not exist.
// An existing but invalid file is an error.
func LoadOrCreate(path string) (*Table, error) {
	t, err := Load(path)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := WriteDefault(path); err != nil {
		return nil, err
	}
	return Load(path)
}
