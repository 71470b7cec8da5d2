package segmentation

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// SegmentAssignment is the scoring output for one customer.
type SegmentAssignment struct {
	CustomerID   int64   `json:"customer_id"`
	ClusterIndex int     `json:"segment_id"`
	SegmentName  string  `json:"segment_name"`
	Confidence   float64 `json:"confidence"`
}

// Model is a trained segmentation model. It is never mutated after training
// or loading; retraining produces a new Model.
type Model struct {
	Version      string
	TrainedAt    time.Time
	K            int
	Seed         int64
	FeatureNames []string
	Centroids    [][]float64
	Imputation   ImputationTable
	Scaling      ScalingParameters
	SegmentNames map[int]string
	Profiles     map[int]SegmentProfile
	Silhouette   float64

	ConfidenceMode ConfidenceMode
	// ConfidenceReference is the largest nearest-centroid distance over the
	// training batch, used by ConfidenceReference mode.
	ConfidenceReference float64
}

// Validate checks the model can classify.
func (m *Model) Validate() error {
	if m == nil || m.K == 0 || len(m.Centroids) == 0 {
		return ErrModelNotTrained
	}
	if len(m.Centroids) != m.K {
		return fmt.Errorf("%w: model declares %d clusters but has %d centroids", ErrArtifactIO, m.K, len(m.Centroids))
	}
	p := len(m.FeatureNames)
	if len(m.Scaling.Mean) != p || len(m.Scaling.Std) != p {
		return fmt.Errorf("%w: scaling parameters do not cover %d features", ErrArtifactIO, p)
	}
	for i, c := range m.Centroids {
		if len(c) != p {
			return fmt.Errorf("%w: centroid %d has %d dimensions, expected %d", ErrArtifactIO, i, len(c), p)
		}
	}
	return nil
}

// Classify assigns each standardized row to its nearest centroid and returns
// labels with the matching distances.
func (m *Model) Classify(X [][]float64) ([]int, []float64, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(X))
	dists := make([]float64, len(X))
	for i, x := range X {
		labels[i], dists[i] = nearest(m.Centroids, x)
	}
	return labels, dists, nil
}

// Confidence turns nearest-centroid distances into scores in [0, 1].
func (m *Model) Confidence(dists []float64) []float64 {
	ref := m.ConfidenceReference
	if m.ConfidenceMode != ConfidenceReference {
		ref = 0
		for _, d := range dists {
			ref = math.Max(ref, d)
		}
	}
	out := make([]float64, len(dists))
	for i, d := range dists {
		switch {
		case ref == 0 && d == 0:
			out[i] = 1
		case ref == 0:
			out[i] = 0
		default:
			out[i] = math.Min(1, math.Max(0, 1-d/ref))
		}
	}
	return out
}

// SegmentName returns the label of cluster idx.
func (m *Model) SegmentName(idx int) string {
	if name, ok := m.SegmentNames[idx]; ok {
		return name
	}
	return fmt.Sprintf("Standard Segment %d", idx+1)
}

// Scorer runs inference for a fixed model.
type Scorer struct {
	cfg     Config
	model   *Model
	imputer *MissingValueImputer
	logger  *zap.Logger
}

// NewScorer prepares m for scoring raw batches. The model must have been
// trained on cfg's feature layout.
func NewScorer(cfg Config, m *Model, logger *zap.Logger) (*Scorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !cfg.sameFeatures(m.FeatureNames) {
		return nil, fmt.Errorf("%w: model features %v do not match configured features %v",
			ErrArtifactIO, m.FeatureNames, cfg.FeatureNames)
	}
	// The configured confidence mode wins over the one recorded at training
	// time; the reference distance is always stored.
	scored := *m
	if cfg.ConfidenceMode != "" {
		scored.ConfidenceMode = cfg.ConfidenceMode
	}
	return &Scorer{cfg: cfg, model: &scored, imputer: NewMissingValueImputer(cfg, logger), logger: logger}, nil
}

// Score derives, imputes and scales the batch with the stored training state,
// then assigns every customer. Assignments are ordered by customer id.
func (s *Scorer) Score(b Batch) ([]SegmentAssignment, error) {
	asOf := b.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	rows := NewFeatureDeriver(s.cfg, asOf).DeriveAll(b)
	rows, err := s.imputer.Transform(rows, s.model.Imputation)
	if err != nil {
		return nil, err
	}
	X, err := s.model.Scaling.Transform(matrix(rows))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactIO, err)
	}
	out, err := s.model.assign(rows, X)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("scored batch", zap.String("model_version", s.model.Version), zap.Int("customers", len(out)))
	return out, nil
}

func (m *Model) assign(rows []FeatureVector, X [][]float64) ([]SegmentAssignment, error) {
	labels, dists, err := m.Classify(X)
	if err != nil {
		return nil, err
	}
	conf := m.Confidence(dists)
	out := make([]SegmentAssignment, len(rows))
	for i, r := range rows {
		out[i] = SegmentAssignment{
			CustomerID:   r.CustomerID,
			ClusterIndex: labels[i],
			SegmentName:  m.SegmentName(labels[i]),
			Confidence:   conf[i],
		}
	}
	return out, nil
}
