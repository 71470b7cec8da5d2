package processing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/ingestion"
	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
	"github.com/Pulkitjakhmola/custlysis/internal/store"
)

// RecordWriter stores typed raw records.
type RecordWriter interface {
	InsertCustomers(ctx context.Context, customers []segmentation.CustomerRecord) error
	InsertAccounts(ctx context.Context, accounts []store.Account) error
	InsertTransactions(ctx context.Context, txns []store.Transaction) error
}

// Service converts untyped rows into typed records and stores them.
type Service struct {
	writer RecordWriter
	logger *zap.Logger
}

func NewService(writer RecordWriter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{writer: writer, logger: logger}
}

// ProcessData converts every row of req. A single bad row fails the request
// and nothing is stored.
func (s *Service) ProcessData(ctx context.Context, req ingestion.ProcessDataRequest) (int, error) {
	s.logger.Info("processing raw rows",
		zap.String("source", req.Source),
		zap.String("entity_type", req.EntityType),
		zap.Int("rows", len(req.RawData)),
	)
	switch req.EntityType {
	case ingestion.EntityCustomers:
		out := make([]segmentation.CustomerRecord, 0, len(req.RawData))
		for i, row := range req.RawData {
			c, err := ParseCustomer(row)
			if err != nil {
				return 0, fmt.Errorf("row %d: %w", i+1, err)
			}
			out = append(out, c)
		}
		if err := s.writer.InsertCustomers(ctx, out); err != nil {
			return 0, err
		}
		return len(out), nil
	case ingestion.EntityAccounts:
		out := make([]store.Account, 0, len(req.RawData))
		for i, row := range req.RawData {
			a, err := ParseAccount(row)
			if err != nil {
				return 0, fmt.Errorf("row %d: %w", i+1, err)
			}
			out = append(out, a)
		}
		if err := s.writer.InsertAccounts(ctx, out); err != nil {
			return 0, err
		}
		return len(out), nil
	case ingestion.EntityTransactions:
		out := make([]store.Transaction, 0, len(req.RawData))
		for i, row := range req.RawData {
			t, err := ParseTransaction(row)
			if err != nil {
				return 0, fmt.Errorf("row %d: %w", i+1, err)
			}
			out = append(out, t)
		}
		if err := s.writer.InsertTransactions(ctx, out); err != nil {
			return 0, err
		}
		return len(out), nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", req.EntityType)
	}
}

// ParseCustomer converts a raw customer row. Empty optional fields become nil.
func ParseCustomer(row map[string]interface{}) (segmentation.CustomerRecord, error) {
	var (
		c   segmentation.CustomerRecord
		err error
	)
	if c.CustomerID, err = requiredInt(row, "customer_id"); err != nil {
		return c, err
	}
	if c.DateOfBirth, err = optionalTime(row, "dob"); err != nil {
		return c, err
	}
	c.IncomeBracket = optionalString(row, "income_bracket")
	c.RiskProfile = optionalString(row, "risk_profile")
	c.GeoCluster = optionalString(row, "geo_cluster")
	if c.DigitalScore, err = optionalFloat(row, "digital_score"); err != nil {
		return c, err
	}
	if c.ChurnRiskScore, err = optionalFloat(row, "churn_risk_score"); err != nil {
		return c, err
	}
	if c.TenureDays, err = optionalFloat(row, "tenure_days"); err != nil {
		return c, err
	}
	return c, nil
}

// ParseAccount converts a raw account row. A missing dormant flag means active.
func ParseAccount(row map[string]interface{}) (store.Account, error) {
	var (
		a   store.Account
		err error
	)
	if a.AccountID, err = requiredInt(row, "account_id"); err != nil {
		return a, err
	}
	if a.CustomerID, err = requiredInt(row, "customer_id"); err != nil {
		return a, err
	}
	a.AccountType = strings.ToLower(cast.ToString(row["account_type"]))
	if a.AccountType == "" {
		return a, fmt.Errorf("account %d: account_type is required", a.AccountID)
	}
	if a.Balance, err = money(row, "balance"); err != nil {
		return a, err
	}
	if v := cast.ToString(row["dormant_flag"]); v != "" {
		if a.Dormant, err = cast.ToBoolE(v); err != nil {
			return a, fmt.Errorf("dormant_flag %q: %w", v, err)
		}
	}
	return a, nil
}

// ParseTransaction converts a raw transaction row. The timestamp is read from
// txn_ts or, failing that, timestamp.
func ParseTransaction(row map[string]interface{}) (store.Transaction, error) {
	var (
		t   store.Transaction
		err error
	)
	if t.TxnID, err = requiredInt(row, "txn_id"); err != nil {
		return t, err
	}
	if t.AccountID, err = requiredInt(row, "account_id"); err != nil {
		return t, err
	}
	if t.Amount, err = money(row, "amount"); err != nil {
		return t, err
	}
	key := "txn_ts"
	if cast.ToString(row[key]) == "" {
		key = "timestamp"
	}
	ts, err := optionalTime(row, key)
	if err != nil {
		return t, err
	}
	if ts == nil {
		return t, fmt.Errorf("transaction %d: timestamp is required", t.TxnID)
	}
	t.Timestamp = *ts
	return t, nil
}

func requiredInt(row map[string]interface{}, key string) (int64, error) {
	v := cast.ToString(row[key])
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	if trimmed := strings.TrimLeft(v, "0"); trimmed != "" {
		v = trimmed
	} else {
		v = "0"
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, v, err)
	}
	return n, nil
}

func optionalString(row map[string]interface{}, key string) *string {
	v := strings.TrimSpace(cast.ToString(row[key]))
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func optionalFloat(row map[string]interface{}, key string) (*float64, error) {
	v := optionalString(row, key)
	if v == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(*v)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", key, *v, err)
	}
	return &f, nil
}

func optionalTime(row map[string]interface{}, key string) (*time.Time, error) {
	v := optionalString(row, key)
	if v == nil {
		return nil, nil
	}
	t, err := cast.ToTimeInDefaultLocationE(*v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", key, *v, err)
	}
	t = t.UTC()
	return &t, nil
}

// money parses an amount, ignoring currency symbols and thousands separators.
func money(row map[string]interface{}, key string) (decimal.Decimal, error) {
	raw := cast.ToString(row[key])
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", key, raw, err)
	}
	return d, nil
}
