package segmentation

import "errors"

// Error taxonomy of a segmentation run. Errors returned by this package and by
// the collaborators that drive it wrap one of these; match with errors.Is.
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrFeatureImputation = errors.New("feature imputation failed")
	ErrModelNotTrained   = errors.New("model not trained")
	ErrArtifactIO        = errors.New("model artifact i/o failed")
	ErrUpstreamData      = errors.New("upstream data fetch failed")
)

// Error codes reported in run outcomes.
const (
	CodeInsufficientData  = "INSUFFICIENT_DATA"
	CodeFeatureImputation = "FEATURE_IMPUTATION_ERROR"
	CodeModelNotTrained   = "MODEL_NOT_TRAINED"
	CodeArtifactIO        = "ARTIFACT_IO_ERROR"
	CodeUpstreamData      = "UPSTREAM_DATA_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// Kind maps err onto its outcome code. Unclassified errors are CodeInternal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return CodeInsufficientData
	case errors.Is(err, ErrFeatureImputation):
		return CodeFeatureImputation
	case errors.Is(err, ErrModelNotTrained):
		return CodeModelNotTrained
	case errors.Is(err, ErrArtifactIO):
		return CodeArtifactIO
	case errors.Is(err, ErrUpstreamData):
		return CodeUpstreamData
	default:
		return CodeInternal
	}
}
