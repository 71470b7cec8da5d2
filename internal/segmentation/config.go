package segmentation

import "fmt"

// Feature names, in the order the model is trained on by default.
const (
	FeatureAge              = "age"
	FeatureTenureDays       = "tenure_days"
	FeatureDigitalScore     = "digital_score"
	FeatureChurnRiskScore   = "churn_risk_score"
	FeatureTotalBalance     = "total_balance"
	FeatureNumAccounts      = "num_accounts"
	FeatureTxnFrequency     = "txn_frequency"
	FeatureAvgTxnAmount     = "avg_txn_amount"
	FeatureIncomeEncoded    = "income_encoded"
	FeatureRiskEncoded      = "risk_encoded"
	FeatureGeoEncoded       = "geo_encoded"
	FeatureAccountDiversity = "account_diversity"
)

// ConfidenceMode selects how assignment confidence is normalised.
type ConfidenceMode string

const (
	// ConfidenceBatch divides by the largest nearest-centroid distance in the scored batch.
	ConfidenceBatch ConfidenceMode = "batch"
	// ConfidenceReference divides by the largest nearest-centroid distance seen at training time.
	ConfidenceReference ConfidenceMode = "reference"
)

// Config holds every tunable of the pipeline. It is passed by value into
// constructors; nothing in this package reads process-wide state.
type Config struct {
	FeatureNames []string

	// IncomeBrackets lists canonical bracket identifiers from lowest to highest.
	// A bracket's code is its 1-based position.
	IncomeBrackets    []string
	DefaultIncomeCode int

	MinK            int
	MaxK            int
	Seed            int64
	Restarts        int
	MaxIterations   int
	SilhouetteFloor float64

	MinTrainingCustomers    int
	TransactionWindowMonths int

	ConfidenceMode     ConfidenceMode
	ModelVersionPrefix string
}

// DefaultFeatureNames returns the 12 features in training order.
func DefaultFeatureNames() []string {
	return []string{
		FeatureAge, FeatureTenureDays, FeatureDigitalScore, FeatureChurnRiskScore,
		FeatureTotalBalance, FeatureNumAccounts, FeatureTxnFrequency, FeatureAvgTxnAmount,
		FeatureIncomeEncoded, FeatureRiskEncoded, FeatureGeoEncoded, FeatureAccountDiversity,
	}
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		FeatureNames: DefaultFeatureNames(),
		IncomeBrackets: []string{
			"40K-60K", "50K-70K", "60K-80K", "70K-90K", "80K-100K", "90K-120K", "100K+",
		},
		DefaultIncomeCode:       4,
		MinK:                    3,
		MaxK:                    8,
		Seed:                    42,
		Restarts:                10,
		MaxIterations:           300,
		SilhouetteFloor:         0.3,
		MinTrainingCustomers:    30,
		TransactionWindowMonths: 6,
		ConfidenceMode:          ConfidenceBatch,
		ModelVersionPrefix:      "v1.0",
	}
}

var knownFeatures = map[string]bool{
	FeatureAge: true, FeatureTenureDays: true, FeatureDigitalScore: true, FeatureChurnRiskScore: true,
	FeatureTotalBalance: true, FeatureNumAccounts: true, FeatureTxnFrequency: true, FeatureAvgTxnAmount: true,
	FeatureIncomeEncoded: true, FeatureRiskEncoded: true, FeatureGeoEncoded: true, FeatureAccountDiversity: true,
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if len(c.FeatureNames) == 0 {
		return fmt.Errorf("config: feature list is empty")
	}
	seen := make(map[string]bool, len(c.FeatureNames))
	for _, name := range c.FeatureNames {
		if !knownFeatures[name] {
			return fmt.Errorf("config: unknown feature %q", name)
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate feature %q", name)
		}
		seen[name] = true
	}
	if len(c.IncomeBrackets) == 0 {
		return fmt.Errorf("config: income bracket table is empty")
	}
	if c.DefaultIncomeCode < 1 || c.DefaultIncomeCode > len(c.IncomeBrackets) {
		return fmt.Errorf("config: default income code %d outside 1..%d", c.DefaultIncomeCode, len(c.IncomeBrackets))
	}
	if c.MinK < 2 || c.MaxK < c.MinK+2 {
		return fmt.Errorf("config: cluster range [%d, %d] must hold at least 3 values starting at 2 or more", c.MinK, c.MaxK)
	}
	if c.Restarts < 1 {
		return fmt.Errorf("config: restarts must be positive, got %d", c.Restarts)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("config: max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.TransactionWindowMonths < 1 {
		return fmt.Errorf("config: transaction window must be positive, got %d", c.TransactionWindowMonths)
	}
	switch c.ConfidenceMode {
	case ConfidenceBatch, ConfidenceReference:
	default:
		return fmt.Errorf("config: unknown confidence mode %q", c.ConfidenceMode)
	}
	return nil
}

// featureIndex maps feature names to their column in c.FeatureNames.
func (c Config) featureIndex() map[string]int {
	idx := make(map[string]int, len(c.FeatureNames))
	for i, name := range c.FeatureNames {
		idx[name] = i
	}
	return idx
}

// sameFeatures reports whether names matches c.FeatureNames exactly, order included.
func (c Config) sameFeatures(names []string) bool {
	if len(names) != len(c.FeatureNames) {
		return false
	}
	for i := range names {
		if names[i] != c.FeatureNames[i] {
			return false
		}
	}
	return true
}
