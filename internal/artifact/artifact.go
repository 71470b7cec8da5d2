package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// FormatVersion is bumped when the document layout changes incompatibly.
const FormatVersion = 1

// Store persists one trained model. Save replaces the stored model as a
// whole; readers never observe a partially written model.
type Store interface {
	Save(ctx context.Context, m *segmentation.Model) error
	Load(ctx context.Context) (*segmentation.Model, error)
}

// Metadata describes a stored model.
type Metadata struct {
	ModelVersion        string                              `json:"model_version"`
	TrainedAt           time.Time                           `json:"trained_at"`
	K                   int                                 `json:"k"`
	Seed                int64                               `json:"seed"`
	FeatureNames        []string                            `json:"feature_names"`
	SegmentNames        map[int]string                      `json:"segment_names"`
	SegmentProfiles     map[int]segmentation.SegmentProfile `json:"segment_profiles"`
	SilhouetteScore     float64                             `json:"silhouette_score"`
	ConfidenceMode      segmentation.ConfidenceMode         `json:"confidence_mode"`
	ConfidenceReference float64                             `json:"confidence_reference"`
}

// Document is the serialized form of a model.
type Document struct {
	FormatVersion int                            `json:"format_version"`
	Metadata      Metadata                       `json:"metadata"`
	Centroids     [][]float64                    `json:"centroids"`
	Imputation    segmentation.ImputationTable   `json:"imputation"`
	Scaling       segmentation.ScalingParameters `json:"scaling"`
}

// Encode serializes m. Floats use the shortest representation that parses
// back to the same value, so a decoded model classifies identically.
func Encode(m *segmentation.Model) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	doc := Document{
		FormatVersion: FormatVersion,
		Metadata: Metadata{
			ModelVersion:        m.Version,
			TrainedAt:           m.TrainedAt,
			K:                   m.K,
			Seed:                m.Seed,
			FeatureNames:        m.FeatureNames,
			SegmentNames:        m.SegmentNames,
			SegmentProfiles:     m.Profiles,
			SilhouetteScore:     m.Silhouette,
			ConfidenceMode:      m.ConfidenceMode,
			ConfidenceReference: m.ConfidenceReference,
		},
		Centroids:  m.Centroids,
		Imputation: m.Imputation,
		Scaling:    m.Scaling,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding model %s: %v", segmentation.ErrArtifactIO, m.Version, err)
	}
	return data, nil
}

// Decode parses and validates a serialized model.
func Decode(data []byte) (*segmentation.Model, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding model: %v", segmentation.ErrArtifactIO, err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported artifact format %d", segmentation.ErrArtifactIO, doc.FormatVersion)
	}
	imputation := doc.Imputation
	if imputation == nil {
		imputation = segmentation.ImputationTable{}
	}
	mode := doc.Metadata.ConfidenceMode
	if mode == "" {
		mode = segmentation.ConfidenceBatch
	}
	m := &segmentation.Model{
		Version:             doc.Metadata.ModelVersion,
		TrainedAt:           doc.Metadata.TrainedAt,
		K:                   doc.Metadata.K,
		Seed:                doc.Metadata.Seed,
		FeatureNames:        doc.Metadata.FeatureNames,
		Centroids:           doc.Centroids,
		Imputation:          imputation,
		Scaling:             doc.Scaling,
		SegmentNames:        doc.Metadata.SegmentNames,
		Profiles:            doc.Metadata.SegmentProfiles,
		Silhouette:          doc.Metadata.SilhouetteScore,
		ConfidenceMode:      mode,
		ConfidenceReference: doc.Metadata.ConfidenceReference,
	}
	if err := m.Validate(); err != nil {
		if errors.Is(err, segmentation.ErrModelNotTrained) {
			return nil, fmt.Errorf("%w: artifact holds no centroids", segmentation.ErrArtifactIO)
		}
		return nil, err
	}
	return m, nil
}
