package segmentation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerRecord is a raw customer row. Nil pointers are missing values.
type CustomerRecord struct {
	CustomerID     int64
	DateOfBirth    *time.Time
	IncomeBracket  *string
	RiskProfile    *string
	GeoCluster     *string
	DigitalScore   *float64
	ChurnRiskScore *float64
	TenureDays     *float64
}

// AccountRecord is one non-dormant account of a customer.
type AccountRecord struct {
	CustomerID  int64
	AccountType string
	Balance     decimal.Decimal
}

// AccountAggregate summarises a customer's accounts.
type AccountAggregate struct {
	CustomerID   int64
	TotalBalance decimal.Decimal
	NumAccounts  int
	Diversity    int
}

// TransactionAggregate summarises a customer's transactions over the trailing window.
type TransactionAggregate struct {
	CustomerID   int64
	Count        int
	AvgAbsAmount decimal.Decimal
}

// FeatureVector holds one customer's features aligned with Config.FeatureNames.
// Missing values are NaN until imputed.
type FeatureVector struct {
	CustomerID int64
	Values     []float64
}

// Batch is the raw input of one training or scoring run.
type Batch struct {
	Customers    []CustomerRecord
	Accounts     []AccountRecord
	Transactions []TransactionAggregate
	AsOf         time.Time
}

// AggregateAccounts groups accounts by customer.
func AggregateAccounts(accounts []AccountRecord) map[int64]AccountAggregate {
	out := make(map[int64]AccountAggregate)
	types := make(map[int64]map[string]struct{})
	for _, a := range accounts {
		agg := out[a.CustomerID]
		agg.CustomerID = a.CustomerID
		agg.TotalBalance = agg.TotalBalance.Add(a.Balance)
		agg.NumAccounts++
		if types[a.CustomerID] == nil {
			types[a.CustomerID] = make(map[string]struct{})
		}
		types[a.CustomerID][a.AccountType] = struct{}{}
		agg.Diversity = len(types[a.CustomerID])
		out[a.CustomerID] = agg
	}
	return out
}

// Age returns whole years between dob and asOf, or 0 when dob is nil or in the future.
func Age(dob *time.Time, asOf time.Time) int {
	if dob == nil {
		return 0
	}
	years := asOf.Year() - dob.Year()
	if asOf.Month() < dob.Month() || (asOf.Month() == dob.Month() && asOf.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// CanonicalBracket strips currency symbols, whitespace and case from an income
// bracket label, so "₹40K-₹60K" and "$40K - $60K" both become "40K-60K".
func CanonicalBracket(label string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(label) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EncodeIncome returns the 1-based position of the label in the bracket table,
// or the default code when the label is absent or unrecognised.
func (c Config) EncodeIncome(label *string) int {
	if label == nil {
		return c.DefaultIncomeCode
	}
	key := CanonicalBracket(*label)
	for i, bracket := range c.IncomeBrackets {
		if CanonicalBracket(bracket) == key {
			return i + 1
		}
	}
	return c.DefaultIncomeCode
}

// EncodeRisk maps Low/Medium/High to 1/2/3; anything else is 2.
func EncodeRisk(label *string) int {
	if label == nil {
		return 2
	}
	switch strings.ToLower(strings.TrimSpace(*label)) {
	case "low":
		return 1
	case "high":
		return 3
	default:
		return 2
	}
}

// EncodeGeo maps rural to 1, suburban to 2 and everything else to 3.
func EncodeGeo(label *string) int {
	if label == nil {
		return 3
	}
	geo := strings.ToLower(*label)
	switch {
	case strings.Contains(geo, "rural"):
		return 1
	case strings.Contains(geo, "suburban"):
		return 2
	default:
		return 3
	}
}

// FeatureDeriver turns raw records into feature vectors.
type FeatureDeriver struct {
	cfg   Config
	asOf  time.Time
	index map[string]int
}

func NewFeatureDeriver(cfg Config, asOf time.Time) *FeatureDeriver {
	return &FeatureDeriver{cfg: cfg, asOf: asOf, index: cfg.featureIndex()}
}

// Derive builds the raw feature vector of one customer. acct and txn may be nil.
func (d *FeatureDeriver) Derive(c CustomerRecord, acct *AccountAggregate, txn *TransactionAggregate) FeatureVector {
	all := map[string]float64{
		FeatureAge:            float64(Age(c.DateOfBirth, d.asOf)),
		FeatureTenureDays:     optional(c.TenureDays),
		FeatureDigitalScore:   optional(c.DigitalScore),
		FeatureChurnRiskScore: optional(c.ChurnRiskScore),
		FeatureIncomeEncoded:  float64(d.cfg.EncodeIncome(c.IncomeBracket)),
		FeatureRiskEncoded:    float64(EncodeRisk(c.RiskProfile)),
		FeatureGeoEncoded:     float64(EncodeGeo(c.GeoCluster)),
	}
	if acct != nil {
		all[FeatureTotalBalance] = acct.TotalBalance.InexactFloat64()
		all[FeatureNumAccounts] = float64(acct.NumAccounts)
		all[FeatureAccountDiversity] = float64(acct.Diversity)
	}
	if txn != nil && txn.Count > 0 {
		all[FeatureTxnFrequency] = float64(txn.Count) / float64(d.cfg.TransactionWindowMonths)
		all[FeatureAvgTxnAmount] = txn.AvgAbsAmount.Abs().InexactFloat64()
	}

	values := make([]float64, len(d.cfg.FeatureNames))
	for name, i := range d.index {
		values[i] = all[name]
	}
	return FeatureVector{CustomerID: c.CustomerID, Values: values}
}

// DeriveAll derives one vector per customer, ordered by customer id.
func (d *FeatureDeriver) DeriveAll(b Batch) []FeatureVector {
	accts := AggregateAccounts(b.Accounts)
	txns := make(map[int64]TransactionAggregate, len(b.Transactions))
	for _, t := range b.Transactions {
		txns[t.CustomerID] = t
	}

	customers := make([]CustomerRecord, len(b.Customers))
	copy(customers, b.Customers)
	sort.SliceStable(customers, func(i, j int) bool { return customers[i].CustomerID < customers[j].CustomerID })

	out := make([]FeatureVector, 0, len(customers))
	for _, c := range customers {
		var ap *AccountAggregate
		if a, ok := accts[c.CustomerID]; ok {
			ap = &a
		}
		var tp *TransactionAggregate
		if t, ok := txns[c.CustomerID]; ok {
			tp = &t
		}
		out = append(out, d.Derive(c, ap, tp))
	}
	return out
}

func optional(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func matrix(rows []FeatureVector) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Values
	}
	return out
}
