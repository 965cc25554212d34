// Package scorer provides the statistical fraud scorer backed by a
// versioned logistic regression artifact.
package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/riskforge/riskforge/internal/domain"
)

// Artifact is the on-disk model format. Features lists the vector entries
// the model consumes, in coefficient order. Means and Scales, when present,
// standardize inputs before the linear term is applied.
type Artifact struct {
	Version      string    `json:"version"`
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Means        []float64 `json:"means,omitempty"`
	Scales       []float64 `json:"scales,omitempty"`
}

// Scorer scores feature vectors with a loaded model. Scoring is pure: the
// same vector and artifact always produce the same score.
type Scorer struct {
	artifact *Artifact
}

// Load reads and validates a model artifact. Loading fails closed: a
// missing, unreadable, or structurally invalid artifact is an error and the
// service must not start without a model.
func Load(path string) (*Scorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}

	if err := validate(&artifact); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}

	return &Scorer{artifact: &artifact}, nil
}

func validate(a *Artifact) error {
	if a.Version == "" {
		return fmt.Errorf("missing version")
	}
	if len(a.Features) == 0 {
		return fmt.Errorf("no features declared")
	}
	if len(a.Coefficients) != len(a.Features) {
		return fmt.Errorf("feature/coefficient count mismatch: %d features, %d coefficients",
			len(a.Features), len(a.Coefficients))
	}
	if len(a.Means) != 0 && len(a.Means) != len(a.Features) {
		return fmt.Errorf("means length %d does not match %d features", len(a.Means), len(a.Features))
	}
	if len(a.Scales) != 0 {
		if len(a.Scales) != len(a.Features) {
			return fmt.Errorf("scales length %d does not match %d features", len(a.Scales), len(a.Features))
		}
		for i, s := range a.Scales {
			if s == 0 {
				return fmt.Errorf("scale for feature %s is zero", a.Features[i])
			}
		}
	}
	seen := make(map[string]bool, len(a.Features))
	for _, name := range a.Features {
		if name == "" {
			return fmt.Errorf("empty feature name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate feature %s", name)
		}
		seen[name] = true
	}
	return nil
}

// Version returns the loaded model version recorded alongside outcomes.
func (s *Scorer) Version() string {
	return s.artifact.Version
}

// Features returns the feature names the model consumes.
func (s *Scorer) Features() []string {
	out := make([]string, len(s.artifact.Features))
	copy(out, s.artifact.Features)
	return out
}

// Score computes the model probability for the feature vector. A vector
// missing a declared feature is a scoring error.
func (s *Scorer) Score(fv domain.FeatureVector) (float64, error) {
	if fv == nil {
		return 0, fmt.Errorf("%w: feature vector is required", domain.ErrScoring)
	}

	z := s.artifact.Intercept
	for i, name := range s.artifact.Features {
		x, ok := fv[name]
		if !ok {
			return 0, fmt.Errorf("%w: feature vector missing %s", domain.ErrScoring, name)
		}
		if len(s.artifact.Means) > 0 {
			x -= s.artifact.Means[i]
		}
		if len(s.artifact.Scales) > 0 {
			x /= s.artifact.Scales[i]
		}
		z += s.artifact.Coefficients[i] * x
	}

	return sigmoid(z), nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
