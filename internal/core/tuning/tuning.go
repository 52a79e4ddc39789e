// Package tuning loads the deployment-tunable scoring parameters from YAML
// files in a config directory. Thresholds and weights are configuration, not
// algorithm: the code only requires them to be positive and the resulting
// scores to be monotonic in their inputs.
package tuning

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Trend holds the trending classifier parameters.
type Trend struct {
	// RatioThreshold is the multiple of the 7d daily baseline a tag's 24h
	// count must exceed to be flagged trending.
	RatioThreshold decimal.Decimal

	// MinCount is the absolute 24h floor; below it a tag is never flagged,
	// whatever the ratio says.
	MinCount int64

	// Fingerprint is the SHA-256 of the raw YAML file, for change logging.
	Fingerprint string
}

// SourceRank holds the source composite-score weights.
type SourceRank struct {
	ArticlesWeight decimal.Decimal
	ClicksWeight   decimal.Decimal
	Fingerprint    string
}

// Params is the full resolved tuning set.
type Params struct {
	Trend      Trend
	SourceRank SourceRank
}

type rawTrend struct {
	RatioThreshold string `yaml:"ratio_threshold"`
	MinCount       int64  `yaml:"min_count"`
}

type rawSourceRank struct {
	ArticlesWeight string `yaml:"articles_weight"`
	ClicksWeight   string `yaml:"clicks_weight"`
}

// Defaults returns the built-in parameters used when no tuning files exist.
func Defaults() Params {
	return Params{
		Trend: Trend{
			RatioThreshold: decimal.RequireFromString("3.0"),
			MinCount:       10,
		},
		SourceRank: SourceRank{
			ArticlesWeight: decimal.RequireFromString("0.4"),
			ClicksWeight:   decimal.RequireFromString("0.6"),
		},
	}
}

// Load reads trend.yaml and source_rank.yaml from dir, falling back to
// Defaults for any file that is absent. A malformed file is an error — a
// deployment that ships tuning files must ship valid ones.
func Load(dir string) (Params, error) {
	p := Defaults()

	if dir == "" {
		return p, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return p, nil
	}

	if data, fp, ok, err := readFile(filepath.Join(dir, "trend.yaml")); err != nil {
		return Params{}, err
	} else if ok {
		var raw rawTrend
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Params{}, fmt.Errorf("parsing trend.yaml: %w", err)
		}
		if raw.RatioThreshold != "" {
			ratio, err := decimal.NewFromString(raw.RatioThreshold)
			if err != nil || ratio.Sign() <= 0 {
				return Params{}, fmt.Errorf("trend.yaml: ratio_threshold must be a positive decimal, got %q", raw.RatioThreshold)
			}
			p.Trend.RatioThreshold = ratio
		}
		if raw.MinCount < 0 {
			return Params{}, fmt.Errorf("trend.yaml: min_count must be >= 0, got %d", raw.MinCount)
		}
		if raw.MinCount > 0 {
			p.Trend.MinCount = raw.MinCount
		}
		p.Trend.Fingerprint = fp
	}

	if data, fp, ok, err := readFile(filepath.Join(dir, "source_rank.yaml")); err != nil {
		return Params{}, err
	} else if ok {
		var raw rawSourceRank
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Params{}, fmt.Errorf("parsing source_rank.yaml: %w", err)
		}
		if raw.ArticlesWeight != "" {
			w, err := decimal.NewFromString(raw.ArticlesWeight)
			if err != nil || w.Sign() < 0 {
				return Params{}, fmt.Errorf("source_rank.yaml: articles_weight must be a non-negative decimal, got %q", raw.ArticlesWeight)
			}
			p.SourceRank.ArticlesWeight = w
		}
		if raw.ClicksWeight != "" {
			w, err := decimal.NewFromString(raw.ClicksWeight)
			if err != nil || w.Sign() < 0 {
				return Params{}, fmt.Errorf("source_rank.yaml: clicks_weight must be a non-negative decimal, got %q", raw.ClicksWeight)
			}
			p.SourceRank.ClicksWeight = w
		}
		p.SourceRank.Fingerprint = fp
	}

	if p.SourceRank.ArticlesWeight.IsZero() && p.SourceRank.ClicksWeight.IsZero() {
		return Params{}, fmt.Errorf("source_rank.yaml: at least one weight must be positive")
	}

	return p, nil
}

func readFile(path string) (data []byte, fingerprint string, ok bool, err error) {
	data, err = os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("reading tuning file %s: %w", path, err)
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), true, nil
}
