package detector

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// TrainOptions controls isolation forest fitting.
type TrainOptions struct {
	Trees      int
	SampleSize int
	Seed       int64
	MinPoints  int
}

// DefaultTrainOptions mirrors the usual isolation forest defaults.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Trees: 100, SampleSize: 256, Seed: 42, MinPoints: 100}
}

// ErrNotEnoughData is returned when fewer than MinPoints values are supplied.
var ErrNotEnoughData = fmt.Errorf("not enough data to train")

// DummyValues is the tiny baseline used to produce a demo model without history.
var DummyValues = []float64{0.5, 0.6, 0.4, 0.55, 0.62, 0.58}

// Train fits an isolation forest over values. The same seed and input always yield the
// same model.
func Train(values []float64, opts TrainOptions) (*Model, error) {
	defaults := DefaultTrainOptions()
	if opts.Trees <= 0 {
		opts.Trees = defaults.Trees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaults.SampleSize
	}
	if opts.MinPoints < 0 {
		opts.MinPoints = 0
	}
	if len(values) < opts.MinPoints || len(values) == 0 {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrNotEnoughData, len(values), max(opts.MinPoints, 1))
	}

	sampleSize := opts.SampleSize
	if sampleSize > len(values) {
		sampleSize = len(values)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))
	rng := rand.New(rand.NewSource(opts.Seed))

	trees := make([]Tree, 0, opts.Trees)
	for i := 0; i < opts.Trees; i++ {
		subset := subsample(rng, values, sampleSize)
		b := &treeBuilder{rng: rng, maxDepth: maxDepth}
		b.grow(subset, 0)
		trees = append(trees, Tree{Nodes: b.nodes})
	}

	return &Model{
		Kind:           KindIsolationForest,
		TrainedAt:      time.Now().UTC(),
		Samples:        len(values),
		SampleSize:     sampleSize,
		ScoreThreshold: defaultScoreThreshold,
		Trees:          trees,
	}, nil
}

// TrainDummy fits the small demo model used for local development.
func TrainDummy(seed int64) (*Model, error) {
	return Train(DummyValues, TrainOptions{Trees: 10, SampleSize: len(DummyValues), Seed: seed, MinPoints: 1})
}

// Save writes the model as JSON, creating parent directories as needed.
func (m *Model) Save(path string) error {
	if err := m.validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return os.Rename(tmp, path)
}

func subsample(rng *rand.Rand, values []float64, n int) []float64 {
	idx := rng.Perm(len(values))[:n]
	out := make([]float64, n)
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

type treeBuilder struct {
	rng      *rand.Rand
	maxDepth int
	nodes    []Node
}

func (b *treeBuilder) grow(points []float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(points)})

	lo, hi := bounds(points)
	if depth >= b.maxDepth || len(points) <= 1 || lo == hi {
		return idx
	}

	threshold := lo + b.rng.Float64()*(hi-lo)
	if threshold == lo {
		threshold = math.Nextafter(lo, hi)
	}
	var left, right []float64
	for _, p := range points {
		if p < threshold {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{Threshold: threshold, Left: l, Right: r, Size: len(points)}
	return idx
}

func bounds(points []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	return lo, hi
}
