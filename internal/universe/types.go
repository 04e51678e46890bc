// Package universe implements the rolling-turnover universe planner:
// it walks a rebalance-date sequence and, at each point, selects the top-K
// (or top-ratio) perpetuals by mean daily quote volume over a trailing
// lookback window, enforcing the no-lookahead temporal invariants below.
package universe

import (
	"errors"
	"fmt"
	"time"
)

// Config is the immutable plan input. Exactly one of TopK/TopRatio is set.
type Config struct {
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	T1Months   int     `json:"t1_months"`
	T2Months   int     `json:"t2_months"`
	T3Months   int     `json:"t3_months"`
	DelayDays  int     `json:"delay_days"`
	QuoteAsset string  `json:"quote_asset"`
	TopK       int     `json:"top_k,omitempty"`
	TopRatio   float64 `json:"top_ratio,omitempty"`
}

// Validate checks structural requirements on Config that do not depend on
// runtime data (date parsing, exactly-one-of top_k/top_ratio).
func (c Config) Validate() error {
	if c.StartDate == "" || c.EndDate == "" {
		return errors.New("universe: start_date and end_date are required")
	}
	if c.StartDate >= c.EndDate {
		return fmt.Errorf("universe: start_date %s must be before end_date %s", c.StartDate, c.EndDate)
	}
	if c.T1Months <= 0 || c.T2Months <= 0 || c.T3Months < 0 {
		return errors.New("universe: t1_months and t2_months must be positive, t3_months non-negative")
	}
	if c.DelayDays < 0 {
		return errors.New("universe: delay_days must be non-negative")
	}
	if c.QuoteAsset == "" {
		return errors.New("universe: quote_asset is required")
	}
	hasTopK := c.TopK > 0
	hasTopRatio := c.TopRatio > 0
	if hasTopK == hasTopRatio {
		return errors.New("universe: exactly one of top_k or top_ratio must be set")
	}
	if hasTopRatio && (c.TopRatio > 1) {
		return errors.New("universe: top_ratio must be in (0,1]")
	}
	return nil
}

// Snapshot is one rebalance point's selected universe.
type Snapshot struct {
	EffectiveDate     string             `json:"effective_date"`
	CalculatedT1Start string             `json:"calculated_t1_start"`
	CalculatedT1End   string             `json:"calculated_t1_end"`
	StartDate         string             `json:"start_date"`
	EndDate           string             `json:"end_date"`
	Symbols           []string           `json:"symbols"`
	MeanDailyAmounts  map[string]float64 `json:"mean_daily_amounts"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

// validateTemporalInvariants enforces the no-lookahead date relations on
// a single snapshot and, when prev is non-nil, the no-unintended-gap
// relation across consecutive snapshots.
func validateTemporalInvariants(s Snapshot, prev *Snapshot) error {
	t1End, err := time.Parse("2006-01-02", s.CalculatedT1End)
	if err != nil {
		return fmt.Errorf("universe: invalid calculated_t1_end %q: %w", s.CalculatedT1End, err)
	}
	effective, err := time.Parse("2006-01-02", s.EffectiveDate)
	if err != nil {
		return fmt.Errorf("universe: invalid effective_date %q: %w", s.EffectiveDate, err)
	}
	if t1End.After(effective) {
		return fmt.Errorf("universe: calculated_t1_end %s must be <= effective_date %s", s.CalculatedT1End, s.EffectiveDate)
	}

	start, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return fmt.Errorf("universe: invalid start_date %q: %w", s.StartDate, err)
	}
	if !start.After(effective) {
		return fmt.Errorf("universe: start_date %s must be strictly after effective_date %s", s.StartDate, s.EffectiveDate)
	}

	if prev == nil {
		return nil
	}
	prevEnd, err := time.Parse("2006-01-02", prev.EndDate)
	if err != nil {
		return fmt.Errorf("universe: invalid prior end_date %q: %w", prev.EndDate, err)
	}
	if start.Before(prevEnd.AddDate(0, 0, -1)) {
		return fmt.Errorf("universe: start_date %s leaves an unintended gap before prior end_date %s", s.StartDate, prev.EndDate)
	}
	return nil
}

// Definition is the full planner output: the config that produced it, its
// ordered snapshots, and provenance metadata.
type Definition struct {
	Config       Config     `json:"config"`
	Snapshots    []Snapshot `json:"snapshots"`
	CreationTime time.Time  `json:"creation_time"`
	Description  string     `json:"description,omitempty"`
}

// NewDefinition validates every snapshot's temporal invariants (including
// the cross-snapshot no-gap relation) before constructing the Definition,
// so a planner bug surfaces as an error instead of an inconsistent
// universe file.
func NewDefinition(cfg Config, snapshots []Snapshot, creationTime time.Time, description string) (*Definition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var prev *Snapshot
	for i := range snapshots {
		if err := validateTemporalInvariants(snapshots[i], prev); err != nil {
			return nil, fmt.Errorf("universe: snapshot %d: %w", i, err)
		}
		prev = &snapshots[i]
	}
	return &Definition{Config: cfg, Snapshots: snapshots, CreationTime: creationTime, Description: description}, nil
}

// FileName encodes the full parameter tuple into the universe file's
// name.
func (c Config) FileName() string {
	selector := fmt.Sprintf("topk%d", c.TopK)
	if c.TopK == 0 {
		selector = fmt.Sprintf("topratio%.2f", c.TopRatio)
	}
	return fmt.Sprintf("universe_%s_%s_t1-%d_t2-%d_t3-%d_delay-%d_%s_%s.json",
		c.StartDate, c.EndDate, c.T1Months, c.T2Months, c.T3Months, c.DelayDays, c.QuoteAsset, selector)
}
