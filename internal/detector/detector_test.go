package detector

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/miradorstack/mirador-aiops/internal/models"
	"github.com/miradorstack/mirador-aiops/internal/utils"
)

func trainingSet(n int) []float64 {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, n)
	for i := range values {
		values[i] = 20 + rng.NormFloat64()*3
	}
	return values
}

func TestTrainedForestFlagsSpikes(t *testing.T) {
	model, err := Train(trainingSet(500), TrainOptions{Trees: 100, SampleSize: 256, Seed: 42, MinPoints: 100})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	d := New(model)

	verdict, err := d.Classify(95)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if verdict != models.VerdictOutlier {
		t.Fatalf("expected 95 to be an outlier (score %.3f)", model.Score(95))
	}

	verdict, _ = d.Classify(20)
	if verdict != models.VerdictNormal {
		t.Fatalf("expected 20 to be normal (score %.3f)", model.Score(20))
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	values := trainingSet(200)
	a, err := Train(values, TrainOptions{Trees: 10, Seed: 42})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	b, _ := Train(values, TrainOptions{Trees: 10, Seed: 42})
	if !reflect.DeepEqual(a.Trees, b.Trees) {
		t.Fatalf("expected identical forests for identical seeds")
	}
}

func TestTrainRequiresMinPoints(t *testing.T) {
	_, err := Train(trainingSet(10), TrainOptions{MinPoints: 100})
	if !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData, got %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	model, err := TrainDummy(42)
	if err != nil {
		t.Fatalf("TrainDummy returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "models", "model.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	d := Load(path, utils.DiscardLogger())
	if !d.Enabled() {
		t.Fatalf("expected loaded detector to be enabled: %v", d.Err())
	}
	if d.Kind() != KindIsolationForest {
		t.Fatalf("unexpected kind %q", d.Kind())
	}
	if _, err := d.Classify(0.5); err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
}

func TestLoadMissingModelDisablesDetector(t *testing.T) {
	d := Load(filepath.Join(t.TempDir(), "absent.json"), utils.DiscardLogger())
	if d.Enabled() {
		t.Fatalf("expected disabled detector")
	}
	if d.Err() == nil {
		t.Fatalf("expected load error to be retained")
	}
	if _, err := d.Classify(1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestLoadCorruptModelDisablesDetector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(`{"kind":"isolation_forest","trees":[]}`), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if d := Load(path, utils.DiscardLogger()); d.Enabled() {
		t.Fatalf("expected corrupt model to disable detector")
	}
}

func TestZScoreModel(t *testing.T) {
	model, err := DecodeModel([]byte(`{"kind":"zscore","mean":20,"std_dev":5,"threshold":2.5}`))
	if err != nil {
		t.Fatalf("DecodeModel returned error: %v", err)
	}
	d := New(model)
	if v, _ := d.Classify(33); v != models.VerdictOutlier {
		t.Fatalf("expected 33 to exceed 2.5 sigma")
	}
	if v, _ := d.Classify(25); v != models.VerdictNormal {
		t.Fatalf("expected 25 to be normal")
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 || averagePathLength(2) != 1 {
		t.Fatalf("unexpected base cases")
	}
	if c := averagePathLength(256); c < 10 || c > 11 {
		t.Fatalf("expected c(256) near 10.24, got %f", c)
	}
}
