package classifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/secrethound/secrethound/models"
)

// Artifact and dataset file names.
const (
	ModelFile      = "secret_detector_model.json"
	VectorizerFile = "vectorizer.json"

	SecretsDataset    = "Dataset_Secrets.txt"
	NonSecretsDataset = "Dataset_NonSecrets.txt"
)

// Sentinel substrings emitted by the file scanner. A finding whose secret
// contains one of these is never a real token, so it bypasses the model.
const (
	SentinelLineSkipped   = "СТРОКА НЕ СКАНИРОВАЛАСЬ т.к. её длина"
	SentinelFileTruncated = "ФАЙЛ НЕ ВЫВЕДЕН ПОЛНОСТЬЮ т.к."
)

const (
	maxTrainIterations = 1000
	highThreshold      = 0.70
	shuffleSeed        = 42
	testFraction       = 0.2
)

// Classifier scores candidate secrets with a char-n-gram TF-IDF +
// logistic-regression model. Construct it once at startup with Load; it is
// read-only afterwards and safe for concurrent use.
type Classifier struct {
	vec   *Vectorizer
	model *LogisticModel
}

// New builds a Classifier from already-fitted parts. Used by Load and by
// tests that need controlled model behaviour.
func New(vec *Vectorizer, model *LogisticModel) *Classifier {
	return &Classifier{vec: vec, model: model}
}

// Load returns a ready Classifier: persisted artifacts are loaded when both
// exist, otherwise the model is trained from the dataset files and the
// artifacts are persisted atomically. Training is idempotent: a second Load
// finds the artifacts and skips it.
func Load(modelDir, datasetsDir string) (*Classifier, error) {
	start := time.Now()
	modelPath := filepath.Join(modelDir, ModelFile)
	vecPath := filepath.Join(modelDir, VectorizerFile)

	if fileExists(modelPath) && fileExists(vecPath) {
		var vec Vectorizer
		if err := readJSON(vecPath, &vec); err != nil {
			return nil, fmt.Errorf("loading vectorizer: %w", err)
		}
		var model LogisticModel
		if err := readJSON(modelPath, &model); err != nil {
			return nil, fmt.Errorf("loading model: %w", err)
		}
		slog.Info("Classifier artifacts loaded",
			"vocabulary", vec.Dim(), "elapsed", time.Since(start).Round(time.Millisecond))
		return New(&vec, &model), nil
	}

	slog.Info("Classifier artifacts not found, training from datasets",
		"datasets_dir", datasetsDir)
	c, err := train(datasetsDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating model dir: %w", err)
	}
	if err := writeJSONAtomic(vecPath, c.vec); err != nil {
		return nil, fmt.Errorf("persisting vectorizer: %w", err)
	}
	if err := writeJSONAtomic(modelPath, c.model); err != nil {
		return nil, fmt.Errorf("persisting model: %w", err)
	}
	slog.Info("Classifier trained and persisted",
		"vocabulary", c.vec.Dim(), "elapsed", time.Since(start).Round(time.Millisecond))
	return c, nil
}

func train(datasetsDir string) (*Classifier, error) {
	secrets, err := readLines(filepath.Join(datasetsDir, SecretsDataset))
	if err != nil {
		return nil, fmt.Errorf("reading secrets dataset: %w", err)
	}
	nonSecrets, err := readLines(filepath.Join(datasetsDir, NonSecretsDataset))
	if err != nil {
		return nil, fmt.Errorf("reading non-secrets dataset: %w", err)
	}

	samples := make([]string, 0, len(secrets)+len(nonSecrets))
	labels := make([]int, 0, len(secrets)+len(nonSecrets))
	samples = append(samples, secrets...)
	samples = append(samples, nonSecrets...)
	for range secrets {
		labels = append(labels, 1)
	}
	for range nonSecrets {
		labels = append(labels, 0)
	}

	// Deterministic shuffle, then hold out the trailing 20% as a test split.
	rng := rand.New(rand.NewSource(shuffleSeed))
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	cut := len(samples) - int(float64(len(samples))*testFraction)
	trainX, trainY := samples[:cut], labels[:cut]

	vec := NewVectorizer(3, 5)
	vec.Fit(trainX)

	xs := make([]map[int]float64, len(trainX))
	for i, doc := range trainX {
		xs[i] = vec.Transform(doc)
	}
	model := fitLogistic(vec.Dim(), xs, trainY, maxTrainIterations)

	return New(vec, model), nil
}

// Classify fills severity and confidence for every finding and returns the
// slice. Findings that already carry a severity (sentinels set upstream)
// are left unchanged. On any classifier failure every unclassified finding
// defaults to High with confidence 1.00 so nothing is silently dropped.
func (c *Classifier) Classify(findings []models.Finding) (out []models.Finding) {
	out = findings
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Classifier failure, defaulting all findings to High", "panic", r)
			failOpen(findings)
		}
	}()

	if c == nil || c.vec == nil || c.model == nil {
		slog.Error("Classifier not initialised, defaulting all findings to High")
		failOpen(findings)
		return findings
	}

	for i := range findings {
		f := &findings[i]
		if f.Severity != "" {
			continue
		}
		if strings.Contains(f.Secret, SentinelLineSkipped) ||
			strings.Contains(f.Secret, SentinelFileTruncated) {
			f.Confidence = 0.50
			f.Severity = models.SeverityPotential
			continue
		}

		ps := c.model.Proba(c.vec.Transform(f.Secret))
		f.SecretConfidence = ps
		f.SecretPrediction = prediction(ps)
		conf := ps

		if strings.TrimSpace(f.Context) != "" {
			pc := c.model.Proba(c.vec.Transform(f.Context))
			f.ContextConfidence = pc
			f.ContextPrediction = prediction(pc)
			conf = (ps + pc) / 2
			f.ConfidenceAveraged = true
		}

		f.Confidence = conf
		if conf > highThreshold {
			f.Severity = models.SeverityHigh
		} else {
			f.Severity = models.SeverityPotential
		}
	}
	return findings
}

func prediction(p float64) int {
	if p >= 0.5 {
		return 1
	}
	return 0
}

func failOpen(findings []models.Finding) {
	for i := range findings {
		if findings[i].Severity == "" {
			findings[i].Severity = models.SeverityHigh
			findings[i].Confidence = 1.00
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for line := range strings.SplitSeq(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
