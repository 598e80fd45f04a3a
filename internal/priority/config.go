package priority

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights is the weight vector applied to the six dimensions. Components
// must sum to 1.0.
type Weights struct {
	Urgency          float64 `yaml:"urgency"`
	Importance       float64 `yaml:"importance"`
	Effort           float64 `yaml:"effort"`
	ContextRelevance float64 `yaml:"context_relevance"`
	Dependency       float64 `yaml:"dependency"`
	PersonalityFit   float64 `yaml:"personality_fit"`
}

func (w Weights) sum() float64 {
	return w.Urgency + w.Importance + w.Effort + w.ContextRelevance + w.Dependency + w.PersonalityFit
}

// Temperament is the autonomy/temperament vector behind personality_fit.
type Temperament struct {
	// Autonomy in [0,1]: how much the assistant handles delegable work itself.
	Autonomy float64 `yaml:"autonomy"`

	// Affinity per category in [-1,1].
	Affinity map[string]float64 `yaml:"affinity"`

	// DelegableCategories lose fit as autonomy rises.
	DelegableCategories []string `yaml:"delegable_categories"`
}

// WorkingHours bounds the context_relevance heuristic.
type WorkingHours struct {
	Start    int            `yaml:"start"` // hour of day, inclusive
	End      int            `yaml:"end"`   // hour of day, exclusive
	Weekdays []time.Weekday `yaml:"weekdays"`
	TimeZone string         `yaml:"time_zone"`

	loc *time.Location
}

// Location resolves TimeZone, falling back to UTC.
func (w WorkingHours) Location() *time.Location {
	if w.loc != nil {
		return w.loc
	}
	if w.TimeZone != "" {
		if loc, err := time.LoadLocation(w.TimeZone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ScoringConfig carries everything the pure scoring functions read. It is
// built once per cycle and passed explicitly.
type ScoringConfig struct {
	Weights     Weights      `yaml:"weights"`
	Temperament Temperament  `yaml:"temperament"`
	Hours       WorkingHours `yaml:"working_hours"`

	QuadrantThreshold   float64 `yaml:"quadrant_threshold"`
	DealAmountThreshold float64 `yaml:"deal_amount_threshold"`

	CriticalCategories []string           `yaml:"critical_categories"`
	UrgencyBonus       map[string]float64 `yaml:"urgency_bonus"`
	UrgencyKeywords    []string           `yaml:"urgency_keywords"`
	ImportanceBase     map[string]float64 `yaml:"importance_base"`
	ImportanceKeywords []string           `yaml:"importance_keywords"`
	EffortBase         map[string]float64 `yaml:"effort_base"`
	WorkCategories     []string           `yaml:"work_categories"`
	PersonalCategories []string           `yaml:"personal_categories"`
}

// SurfacingPolicy sizes the two surfacing pools.
type SurfacingPolicy struct {
	ImportantCount int `yaml:"important_count"`
	UrgentCount    int `yaml:"urgent_count"`
}

// K is the maximum number of surfaced items per user.
func (p SurfacingPolicy) K() int { return p.ImportantCount + p.UrgentCount }

// Scaled returns a policy for a different K with the same split ratio.
func (p SurfacingPolicy) Scaled(k int) SurfacingPolicy {
	if k <= 0 {
		return SurfacingPolicy{}
	}
	total := p.K()
	if total == 0 {
		return SurfacingPolicy{ImportantCount: k}
	}
	imp := int(math.Round(float64(k) * float64(p.ImportantCount) / float64(total)))
	return SurfacingPolicy{ImportantCount: imp, UrgentCount: k - imp}
}

// EliminationConfig tunes the elimination rules.
type EliminationConfig struct {
	StaleAfter          time.Duration `yaml:"stale_after"`
	TimeBoundCategories []string      `yaml:"time_bound_categories"`
}

// Config bundles the tunables loaded from the scoring file.
type Config struct {
	Scoring     ScoringConfig     `yaml:"scoring"`
	Surfacing   SurfacingPolicy   `yaml:"surfacing"`
	Elimination EliminationConfig `yaml:"elimination"`

	DedupThreshold float64 `yaml:"dedup_threshold"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		Scoring:        DefaultScoringConfig(),
		Surfacing:      SurfacingPolicy{ImportantCount: 7, UrgentCount: 3},
		DedupThreshold: 0.7,
		Elimination: EliminationConfig{
			StaleAfter:          14 * 24 * time.Hour,
			TimeBoundCategories: []string{"meeting", "event"},
		},
	}
}

// DefaultScoringConfig returns the built-in scoring tables.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: Weights{
			Urgency:          0.30,
			Importance:       0.30,
			Effort:           0.10,
			ContextRelevance: 0.10,
			Dependency:       0.10,
			PersonalityFit:   0.10,
		},
		Temperament: Temperament{
			Autonomy:            0.5,
			Affinity:            map[string]float64{},
			DelegableCategories: []string{"inbox", "admin"},
		},
		Hours: WorkingHours{
			Start:    9,
			End:      18,
			Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			TimeZone: "UTC",
		},
		QuadrantThreshold:   6,
		DealAmountThreshold: 10000,
		CriticalCategories:  []string{"critical", "outage", "legal"},
		UrgencyBonus:        map[string]float64{"client": 2, "revenue": 1},
		UrgencyKeywords:     []string{"urgent", "asap", "eod", "today", "immediately"},
		ImportanceBase: map[string]float64{
			"revenue":  8,
			"client":   7,
			"task":     5,
			"meeting":  5,
			"inbox":    4,
			"personal": 4,
			"admin":    3,
			"general":  3,
		},
		ImportanceKeywords: []string{"contract", "invoice", "renewal", "board", "investor", "payroll"},
		EffortBase: map[string]float64{
			"inbox":   8,
			"admin":   7,
			"meeting": 6,
			"general": 6,
			"task":    5,
			"client":  5,
			"revenue": 4,
		},
		WorkCategories:     []string{"inbox", "client", "revenue", "task", "admin"},
		PersonalCategories: []string{"personal"},
	}
}

// Validate checks the scoring tables for correctness.
func (c *ScoringConfig) Validate() error {
	var errs []error

	if d := math.Abs(c.Weights.sum() - 1.0); d > 1e-6 {
		errs = append(errs, fmt.Errorf("weights must sum to 1.0, got %.6f", c.Weights.sum()))
	}
	for name, w := range map[string]float64{
		"urgency": c.Weights.Urgency, "importance": c.Weights.Importance, "effort": c.Weights.Effort,
		"context_relevance": c.Weights.ContextRelevance, "dependency": c.Weights.Dependency,
		"personality_fit": c.Weights.PersonalityFit,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("weight %s must be >= 0, got %v", name, w))
		}
	}
	if c.Temperament.Autonomy < 0 || c.Temperament.Autonomy > 1 {
		errs = append(errs, fmt.Errorf("autonomy %v out of range 0..1", c.Temperament.Autonomy))
	}
	for cat, a := range c.Temperament.Affinity {
		if a < -1 || a > 1 {
			errs = append(errs, fmt.Errorf("affinity for %q %v out of range -1..1", cat, a))
		}
	}
	if c.Hours.Start < 0 || c.Hours.Start > 23 || c.Hours.End < 1 || c.Hours.End > 24 || c.Hours.Start >= c.Hours.End {
		errs = append(errs, fmt.Errorf("invalid working hours %d..%d", c.Hours.Start, c.Hours.End))
	}
	if c.Hours.TimeZone != "" {
		if _, err := time.LoadLocation(c.Hours.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("invalid time zone %q: %w", c.Hours.TimeZone, err))
		}
	}
	if c.QuadrantThreshold < 0 || c.QuadrantThreshold > 10 {
		errs = append(errs, fmt.Errorf("quadrant threshold %v out of range 0..10", c.QuadrantThreshold))
	}

	return errors.Join(errs...)
}

// Validate checks all tunables.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Surfacing.ImportantCount < 0 || c.Surfacing.UrgentCount < 0 || c.Surfacing.K() == 0 {
		errs = append(errs, fmt.Errorf("surfacing split %d+%d must be non-negative with K > 0",
			c.Surfacing.ImportantCount, c.Surfacing.UrgentCount))
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("dedup threshold %v out of range (0,1]", c.DedupThreshold))
	}
	if c.Elimination.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("stale_after must be positive, got %s", c.Elimination.StaleAfter))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML tuning file on top of DefaultConfig. An empty path
// returns the defaults. Map entries in the file merge over the default
// tables; lists replace them. Weekdays are numbers, 0 = Sunday.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read scoring config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("parse scoring config %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring config: %w", err)
	}
	c.Scoring.Hours.loc = c.Scoring.Hours.Location()
	return c, nil
}
