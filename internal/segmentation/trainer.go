package segmentation

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// TrainingResult is everything a training run produces.
type TrainingResult struct {
	Model       *Model
	Candidates  []KCandidate
	Assignments []SegmentAssignment
}

// Trainer runs the full training pipeline.
type Trainer struct {
	cfg    Config
	rules  []NamingRule
	logger *zap.Logger
	now    func() time.Time
}

func NewTrainer(cfg Config, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, rules: DefaultNamingRules(), logger: logger, now: time.Now}
}

// ModelVersion formats the version tag of a model trained at t.
func (c Config) ModelVersion(t time.Time) string {
	return fmt.Sprintf("%s_%s", c.ModelVersionPrefix, t.Format("20060102"))
}

// Train fits a new model on the batch and scores the batch with it.
func (t *Trainer) Train(b Batch) (*TrainingResult, error) {
	if err := t.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.Customers) < t.cfg.MinTrainingCustomers {
		return nil, fmt.Errorf("%w: need at least %d customers, got %d",
			ErrInsufficientData, t.cfg.MinTrainingCustomers, len(b.Customers))
	}
	trainedAt := t.now().UTC()
	asOf := b.AsOf
	if asOf.IsZero() {
		asOf = trainedAt
	}

	rows := NewFeatureDeriver(t.cfg, asOf).DeriveAll(b)
	rows, table, err := NewMissingValueImputer(t.cfg, t.logger).FitTransform(rows)
	if err != nil {
		return nil, err
	}

	var scaler Standardizer
	X, err := scaler.FitTransform(matrix(rows))
	if err != nil {
		return nil, err
	}

	k, candidates, err := NewClusterCountSelector(t.cfg, t.logger).Select(X)
	if err != nil {
		return nil, err
	}
	fit, err := NewClusteringEngine(t.cfg).Fit(X, k)
	if err != nil {
		return nil, err
	}

	profiles := ProfileSegments(t.cfg.FeatureNames, rows, fit.Labels, k)
	names := NewSegmentNamer(t.rules).NameAll(profiles)

	reference := 0.0
	for _, x := range X {
		_, d := nearest(fit.Centroids, x)
		reference = math.Max(reference, d)
	}

	m := &Model{
		Version:             t.cfg.ModelVersion(trainedAt),
		TrainedAt:           trainedAt,
		K:                   k,
		Seed:                t.cfg.Seed,
		FeatureNames:        append([]string(nil), t.cfg.FeatureNames...),
		Centroids:           fit.Centroids,
		Imputation:          table,
		Scaling:             scaler.Params,
		SegmentNames:        names,
		Profiles:            profiles,
		Silhouette:          Silhouette(X, fit.Labels, k),
		ConfidenceMode:      t.cfg.ConfidenceMode,
		ConfidenceReference: reference,
	}
	assignments, err := m.assign(rows, X)
	if err != nil {
		return nil, err
	}

	for idx := 0; idx < k; idx++ {
		t.logger.Info("segment",
			zap.Int("segment_id", idx),
			zap.String("name", names[idx]),
			zap.Int("size", profiles[idx].Size),
			zap.Float64("percentage", profiles[idx].Percentage),
		)
	}
	t.logger.Info("training complete",
		zap.String("model_version", m.Version),
		zap.Int("k", k),
		zap.Int("customers", len(rows)),
		zap.Float64("silhouette", m.Silhouette),
	)
	return &TrainingResult{Model: m, Candidates: candidates, Assignments: assignments}, nil
}
