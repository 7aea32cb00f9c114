package detector

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Supported model kinds.
const (
	KindIsolationForest = "isolation_forest"
	KindZScore          = "zscore"
)

// defaultScoreThreshold matches the automatic contamination offset of an isolation forest:
// a sample is an outlier when its anomaly score exceeds 0.5.
const defaultScoreThreshold = 0.5

const eulerGamma = 0.5772156649015329

// Model is the on-disk representation of a pretrained one-class model.
type Model struct {
	Kind      string    `json:"kind"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
	Samples   int       `json:"samples,omitempty"`

	// isolation_forest
	SampleSize     int     `json:"sample_size,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
	Trees          []Tree  `json:"trees,omitempty"`

	// zscore
	Mean      float64 `json:"mean,omitempty"`
	StdDev    float64 `json:"std_dev,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Tree is one isolation tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node splits on Threshold (value < Threshold goes Left). Leaves have Left == -1 and
// record how many training points reached them.
type Node struct {
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

func (n Node) leaf() bool { return n.Left < 0 || n.Right < 0 }

// DecodeModel parses and validates a model document.
func DecodeModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) validate() error {
	switch m.Kind {
	case KindIsolationForest:
		if len(m.Trees) == 0 {
			return fmt.Errorf("isolation forest has no trees")
		}
		if m.SampleSize < 1 {
			return fmt.Errorf("isolation forest sample_size must be positive")
		}
		for ti, tree := range m.Trees {
			if len(tree.Nodes) == 0 {
				return fmt.Errorf("tree %d is empty", ti)
			}
			for ni, node := range tree.Nodes {
				if node.leaf() {
					continue
				}
				if node.Left >= len(tree.Nodes) || node.Right >= len(tree.Nodes) || node.Left <= ni || node.Right <= ni {
					return fmt.Errorf("tree %d node %d has invalid children", ti, ni)
				}
			}
		}
	case KindZScore:
		if m.StdDev < 0 {
			return fmt.Errorf("zscore std_dev must not be negative")
		}
		if m.Threshold <= 0 {
			return fmt.Errorf("zscore threshold must be positive")
		}
	default:
		return fmt.Errorf("unsupported model kind %q", m.Kind)
	}
	return nil
}

// Score returns the anomaly score of x. For isolation forests this is 2^(-E[h(x)]/c(n));
// for z-score models it is |x-mean|/std.
func (m *Model) Score(x float64) float64 {
	if m.Kind == KindZScore {
		std := m.StdDev
		if std == 0 {
			std = 0.01
		}
		return math.Abs(x-m.Mean) / std
	}

	total := 0.0
	for _, tree := range m.Trees {
		total += tree.pathLength(x)
	}
	mean := total / float64(len(m.Trees))
	norm := averagePathLength(m.SampleSize)
	if norm == 0 {
		return defaultScoreThreshold
	}
	return math.Pow(2, -mean/norm)
}

// Outlier reports whether x is classified as an outlier.
func (m *Model) Outlier(x float64) bool {
	if m.Kind == KindZScore {
		return m.Score(x) >= m.Threshold
	}
	threshold := m.ScoreThreshold
	if threshold == 0 {
		threshold = defaultScoreThreshold
	}
	return m.Score(x) > threshold
}

func (t Tree) pathLength(x float64) float64 {
	idx, depth := 0, 0
	for {
		node := t.Nodes[idx]
		if node.leaf() {
			return float64(depth) + averagePathLength(node.Size)
		}
		if x < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean path length of an unsuccessful search in a binary
// search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
