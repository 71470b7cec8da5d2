package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("not found")

// Account is a raw account row.
type Account struct {
	AccountID   int64
	CustomerID  int64
	AccountType string
	Balance     decimal.Decimal
	Dormant     bool
}

// Transaction is a raw transaction row.
type Transaction struct {
	TxnID     int64
	AccountID int64
	Amount    decimal.Decimal
	Timestamp time.Time
}

// StoredAssignment is a persisted segment assignment.
type StoredAssignment struct {
	CustomerID   int64     `json:"customer_id"`
	SegmentID    int       `json:"segment_id"`
	SegmentName  string    `json:"segment_name"`
	AssignedOn   time.Time `json:"assigned_on"`
	ModelVersion string    `json:"model_version"`
	Score        float64   `json:"segment_score"`
}

// Store reads raw customer data and writes segment assignments.
type Store struct {
	DB     *sql.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{DB: db, logger: logger}
}

// InitSchema creates the tables used by the service if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	schemaStatements := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id BIGINT PRIMARY KEY,
			dob DATE,
			income_bracket TEXT,
			risk_profile TEXT,
			geo_cluster TEXT,
			digital_score DOUBLE PRECISION,
			churn_risk_score DOUBLE PRECISION,
			tenure_days INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers(customer_id),
			account_type TEXT NOT NULL,
			balance NUMERIC(18,2) NOT NULL DEFAULT 0,
			dormant_flag BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_customer_id ON accounts(customer_id);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			txn_id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(account_id),
			amount NUMERIC(18,2) NOT NULL,
			txn_ts TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, txn_ts);`,
		`CREATE TABLE IF NOT EXISTS segmentation_labels (
			customer_id BIGINT NOT NULL,
			segment_id INTEGER NOT NULL,
			segment_name TEXT NOT NULL,
			assigned_on DATE NOT NULL,
			model_version TEXT NOT NULL,
			segment_score DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (customer_id, model_version)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_segmentation_labels_version ON segmentation_labels(model_version);`,
	}
	for i, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement #%d failed: %w", i+1, err)
		}
	}
	s.logger.Info("schema initialized")
	return nil
}

const customerColumns = `customer_id, dob, income_bracket, risk_profile, geo_cluster, digital_score, churn_risk_score, tenure_days`

// FetchCustomers returns customers ordered by id; all of them, or only ids when given.
func (s *Store) FetchCustomers(ctx context.Context, ids ...int64) ([]segmentation.CustomerRecord, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	args := make([]interface{}, 0, len(ids))
	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, id)
		}
		query += ` WHERE customer_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY customer_id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var out []segmentation.CustomerRecord
	for rows.Next() {
		var (
			c                 segmentation.CustomerRecord
			dob               sql.NullTime
			income, risk, geo sql.NullString
			digital, churn    sql.NullFloat64
			tenure            sql.NullInt64
		)
		if err := rows.Scan(&c.CustomerID, &dob, &income, &risk, &geo, &digital, &churn, &tenure); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		if dob.Valid {
			t := dob.Time
			c.DateOfBirth = &t
		}
		c.IncomeBracket = nullString(income)
		c.RiskProfile = nullString(risk)
		c.GeoCluster = nullString(geo)
		c.DigitalScore = nullFloat(digital)
		c.ChurnRiskScore = nullFloat(churn)
		if tenure.Valid {
			v := float64(tenure.Int64)
			c.TenureDays = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customers: %w", err)
	}
	return out, nil
}

// FetchCustomer returns one customer or ErrNotFound.
func (s *Store) FetchCustomer(ctx context.Context, id int64) (segmentation.CustomerRecord, error) {
	found, err := s.FetchCustomers(ctx, id)
	if err != nil {
		return segmentation.CustomerRecord{}, err
	}
	if len(found) == 0 {
		return segmentation.CustomerRecord{}, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return found[0], nil
}

// FetchAccounts returns all non-dormant accounts.
func (s *Store) FetchAccounts(ctx context.Context) ([]segmentation.AccountRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT customer_id, account_type, balance FROM accounts WHERE dormant_flag = FALSE ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var out []segmentation.AccountRecord
	for rows.Next() {
		var a segmentation.AccountRecord
		if err := rows.Scan(&a.CustomerID, &a.AccountType, &a.Balance); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return out, nil
}

// FetchTransactions aggregates per customer the transactions at or after since.
func (s *Store) FetchTransactions(ctx context.Context, since time.Time) ([]segmentation.TransactionAggregate, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT a.customer_id, COUNT(*), AVG(ABS(t.amount))
		FROM transactions t
		JOIN accounts a ON a.account_id = t.account_id
		WHERE t.txn_ts >= $1
		GROUP BY a.customer_id
		ORDER BY a.customer_id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []segmentation.TransactionAggregate
	for rows.Next() {
		var (
			t   segmentation.TransactionAggregate
			avg decimal.NullDecimal
		)
		if err := rows.Scan(&t.CustomerID, &t.Count, &avg); err != nil {
			return nil, fmt.Errorf("scanning transaction aggregate: %w", err)
		}
		if avg.Valid {
			t.AvgAbsAmount = avg.Decimal
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction aggregates: %w", err)
	}
	return out, nil
}

// SaveAssignments replaces every stored assignment of version with assignments
// in a single transaction.
func (s *Store) SaveAssignments(ctx context.Context, version string, assignedOn time.Time, assignments []segmentation.SegmentAssignment) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segmentation_labels WHERE model_version = $1`, version); err != nil {
		return fmt.Errorf("deleting assignments of %s: %w", version, err)
	}
	day := assignedOn.UTC().Truncate(24 * time.Hour)
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segmentation_labels (customer_id, segment_id, segment_name, assigned_on, model_version, segment_score)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			a.CustomerID, a.ClusterIndex, a.SegmentName, day, version, a.Confidence,
		); err != nil {
			return fmt.Errorf("inserting assignment for customer %d: %w", a.CustomerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing assignments: %w", err)
	}
	s.logger.Info("saved segment assignments", zap.String("model_version", version), zap.Int("count", len(assignments)))
	return nil
}

// AssignmentsFor lists a customer's stored assignments, newest model version first.
func (s *Store) AssignmentsFor(ctx context.Context, customerID int64) ([]StoredAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT customer_id, segment_id, segment_name, assigned_on, model_version, segment_score
		FROM segmentation_labels WHERE customer_id = $1
		ORDER BY model_version DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []StoredAssignment
	for rows.Next() {
		var a StoredAssignment
		if err := rows.Scan(&a.CustomerID, &a.SegmentID, &a.SegmentName, &a.AssignedOn, &a.ModelVersion, &a.Score); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
