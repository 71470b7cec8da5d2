package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// InsertCustomers upserts customers by id.
func (s *Store) InsertCustomers(ctx context.Context, customers []segmentation.CustomerRecord) error {
	return s.inTx(ctx, "customers", len(customers), func(exec execFunc) error {
		for _, c := range customers {
			var tenure interface{}
			if c.TenureDays != nil {
				tenure = int64(*c.TenureDays)
			}
			var dob interface{}
			if c.DateOfBirth != nil {
				dob = c.DateOfBirth.UTC()
			}
			if err := exec(`INSERT INTO customers (`+customerColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (customer_id) DO UPDATE SET
					dob = EXCLUDED.dob,
					income_bracket = EXCLUDED.income_bracket,
					risk_profile = EXCLUDED.risk_profile,
					geo_cluster = EXCLUDED.geo_cluster,
					digital_score = EXCLUDED.digital_score,
					churn_risk_score = EXCLUDED.churn_risk_score,
					tenure_days = EXCLUDED.tenure_days`,
				c.CustomerID, dob, ptr(c.IncomeBracket), ptr(c.RiskProfile), ptr(c.GeoCluster),
				ptr(c.DigitalScore), ptr(c.ChurnRiskScore), tenure,
			); err != nil {
				return fmt.Errorf("customer %d: %w", c.CustomerID, err)
			}
		}
		return nil
	})
}

// InsertAccounts upserts accounts by id.
func (s *Store) InsertAccounts(ctx context.Context, accounts []Account) error {
	return s.inTx(ctx, "accounts", len(accounts), func(exec execFunc) error {
		for _, a := range accounts {
			if err := exec(`INSERT INTO accounts (account_id, customer_id, account_type, balance, dormant_flag)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (account_id) DO UPDATE SET
					customer_id = EXCLUDED.customer_id,
					account_type = EXCLUDED.account_type,
					balance = EXCLUDED.balance,
					dormant_flag = EXCLUDED.dormant_flag`,
				a.AccountID, a.CustomerID, a.AccountType, a.Balance.String(), a.Dormant,
			); err != nil {
				return fmt.Errorf("account %d: %w", a.AccountID, err)
			}
		}
		return nil
	})
}

// InsertTransactions upserts transactions by id.
func (s *Store) InsertTransactions(ctx context.Context, txns []Transaction) error {
	return s.inTx(ctx, "transactions", len(txns), func(exec execFunc) error {
		for _, t := range txns {
			if err := exec(`INSERT INTO transactions (txn_id, account_id, amount, txn_ts)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (txn_id) DO UPDATE SET
					account_id = EXCLUDED.account_id,
					amount = EXCLUDED.amount,
					txn_ts = EXCLUDED.txn_ts`,
				t.TxnID, t.AccountID, t.Amount.String(), t.Timestamp.UTC(),
			); err != nil {
				return fmt.Errorf("transaction %d: %w", t.TxnID, err)
			}
		}
		return nil
	})
}

type execFunc func(query string, args ...interface{}) error

func (s *Store) inTx(ctx context.Context, table string, n int, fn func(exec execFunc) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	err = fn(func(query string, args ...interface{}) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", table, err)
	}
	s.logger.Info("stored raw records", zap.String("table", table), zap.Int("count", n))
	return nil
}

func ptr[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
