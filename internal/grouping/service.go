package grouping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/artifact"
	"github.com/Pulkitjakhmola/custlysis/internal/orchestration"
	"github.com/Pulkitjakhmola/custlysis/internal/registry"
	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
	"github.com/Pulkitjakhmola/custlysis/internal/store"
)

// Repository is the customer data source and assignment sink.
type Repository interface {
	FetchCustomers(ctx context.Context, ids ...int64) ([]segmentation.CustomerRecord, error)
	FetchCustomer(ctx context.Context, id int64) (segmentation.CustomerRecord, error)
	FetchAccounts(ctx context.Context) ([]segmentation.AccountRecord, error)
	FetchTransactions(ctx context.Context, since time.Time) ([]segmentation.TransactionAggregate, error)
	SaveAssignments(ctx context.Context, version string, assignedOn time.Time, assignments []segmentation.SegmentAssignment) error
	AssignmentsFor(ctx context.Context, customerID int64) ([]store.StoredAssignment, error)
}

// ModelRegistry records trained versions.
type ModelRegistry interface {
	Record(ctx context.Context, m *segmentation.Model, customers int) (registry.ModelVersion, error)
	List(ctx context.Context) ([]registry.ModelVersion, error)
	Active(ctx context.Context) (registry.ModelVersion, error)
}

// TrainingSummary is the result of a training run.
type TrainingSummary struct {
	Status             string                          `json:"status"`
	ModelVersion       string                          `json:"model_version"`
	Clusters           int                             `json:"clusters"`
	CustomersProcessed int                             `json:"customers_processed"`
	SilhouetteScore    float64                         `json:"silhouette_score"`
	Candidates         []segmentation.KCandidate       `json:"candidates"`
	Segments           map[int]registry.SegmentSummary `json:"segments"`
}

// Prediction is the segment of one customer.
type Prediction struct {
	CustomerID      int64              `json:"customer_id"`
	SegmentID       int                `json:"segment_id"`
	SegmentName     string             `json:"segment_name"`
	Confidence      float64            `json:"confidence"`
	ModelVersion    string             `json:"model_version"`
	Characteristics map[string]float64 `json:"characteristics"`
}

// ScoreSummary is the result of re-scoring every customer.
type ScoreSummary struct {
	Status          string      `json:"status"`
	ModelVersion    string      `json:"model_version"`
	CustomersScored int         `json:"customers_scored"`
	SegmentSizes    map[int]int `json:"segment_sizes"`
}

// SegmentDetail describes one segment of the current model.
type SegmentDetail struct {
	Name            string             `json:"name"`
	Size            int                `json:"size"`
	Percentage      float64            `json:"percentage"`
	Characteristics map[string]float64 `json:"characteristics"`
}

// SegmentOverview lists the segments of the current model.
type SegmentOverview struct {
	ModelVersion  string                `json:"model_version"`
	TotalSegments int                   `json:"total_segments"`
	Segments      map[int]SegmentDetail `json:"segments"`
}

// ModelSummary is a registered model version with its segment summaries.
type ModelSummary struct {
	registry.ModelVersion
	SegmentSummaries map[int]registry.SegmentSummary `json:"segments"`
}

// AssignmentHistory lists the stored assignments of one customer, newest
// model version first.
type AssignmentHistory struct {
	CustomerID  int64                    `json:"customer_id"`
	Assignments []store.StoredAssignment `json:"assignments"`
}

// Service trains, stores and serves segmentation models.
type Service struct {
	cfg       segmentation.Config
	repo      Repository
	artifacts artifact.Store
	registry  ModelRegistry
	events    orchestration.EventPublisher
	metrics   *Metrics
	trainer   *segmentation.Trainer
	logger    *zap.Logger
	now       func() time.Time

	model   atomic.Pointer[segmentation.Model]
	trainMu sync.Mutex
}

// NewService wires the service. reg and events may be nil.
func NewService(cfg segmentation.Config, repo Repository, artifacts artifact.Store, reg ModelRegistry, events orchestration.EventPublisher, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = orchestration.NoopPublisher{Logger: logger}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		artifacts: artifacts,
		registry:  reg,
		events:    events,
		metrics:   metrics,
		trainer:   segmentation.NewTrainer(cfg, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Metrics returns the service's collectors.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Train fits a new model on every customer, persists it and its
// assignments, and makes it the serving model. Concurrent calls are
// serialised.
func (s *Service) Train(ctx context.Context) (summary *TrainingSummary, err error) {
	start := s.now()
	defer func() { s.metrics.observe("train", start, err) }()
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	now := s.now().UTC()
	batch, err := s.loadBatch(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(batch.Customers) == 0 {
		return nil, fmt.Errorf("%w: no customers found", segmentation.ErrInsufficientData)
	}
	s.logger.Info("training started", zap.Int("customers", len(batch.Customers)),
		zap.Int("accounts", len(batch.Accounts)), zap.Int("transaction_aggregates", len(batch.Transactions)))

	result, err := s.trainer.Train(batch)
	if err != nil {
		return nil, err
	}
	m := result.Model
	if err := s.artifacts.Save(ctx, m); err != nil {
		return nil, err
	}
	s.setModel(m)

	if s.registry != nil {
		if _, err := s.registry.Record(ctx, m, len(result.Assignments)); err != nil {
			return nil, fmt.Errorf("recording model version %s: %w", m.Version, err)
		}
	}
	if err := s.repo.SaveAssignments(ctx, m.Version, now, result.Assignments); err != nil {
		return nil, fmt.Errorf("saving assignments of %s: %w", m.Version, err)
	}
	s.metrics.customersScored.Add(float64(len(result.Assignments)))

	summary = &TrainingSummary{
		Status:             segmentation.StatusSuccess,
		ModelVersion:       m.Version,
		Clusters:           m.K,
		CustomersProcessed: len(result.Assignments),
		SilhouetteScore:    m.Silhouette,
		Candidates:         result.Candidates,
		Segments:           make(map[int]registry.SegmentSummary, m.K),
	}
	for idx := 0; idx < m.K; idx++ {
		p := m.Profiles[idx]
		summary.Segments[idx] = registry.SegmentSummary{Name: m.SegmentName(idx), Size: p.Size, Percentage: p.Percentage}
	}

	s.publish(ctx, orchestration.Event{
		Type:         orchestration.EventModelTrained,
		ModelVersion: m.Version,
		Payload: map[string]interface{}{
			"clusters":            m.K,
			"customers_processed": summary.CustomersProcessed,
			"silhouette_score":    m.Silhouette,
		},
	})
	return summary, nil
}

// Predict scores a single customer against the serving model.
func (s *Service) Predict(ctx context.Context, customerID int64) (pred *Prediction, err error) {
	start := s.now()
	defer func() { s.metrics.observe("predict", start, err) }()
	m, err := s.CurrentModel(ctx)
	if err != nil {
		return nil, err
	}

	customer, err := s.fetchCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	batch, err := s.related(ctx, []segmentation.CustomerRecord{customer}, s.now().UTC())
	if err != nil {
		return nil, err
	}

	assignments, err := s.score(m, batch)
	if err != nil {
		return nil, err
	}
	a := assignments[0]
	profile := m.Profiles[a.ClusterIndex]
	return &Prediction{
		CustomerID:   a.CustomerID,
		SegmentID:    a.ClusterIndex,
		SegmentName:  a.SegmentName,
		Confidence:   a.Confidence,
		ModelVersion: m.Version,
		Characteristics: map[string]float64{
			"avg_balance":       profile.Avg(segmentation.FeatureTotalBalance),
			"avg_digital_score": profile.Avg(segmentation.FeatureDigitalScore),
			"avg_churn_risk":    profile.Avg(segmentation.FeatureChurnRiskScore),
		},
	}, nil
}

// ScoreAll re-scores every customer with the serving model and replaces the
// stored assignments of that model version.
func (s *Service) ScoreAll(ctx context.Context) (summary *ScoreSummary, err error) {
	start := s.now()
	defer func() { s.metrics.observe("score", start, err) }()
	m, err := s.CurrentModel(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	batch, err := s.loadBatch(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(batch.Customers) == 0 {
		return nil, fmt.Errorf("%w: no customers found", segmentation.ErrInsufficientData)
	}

	assignments, err := s.score(m, batch)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveAssignments(ctx, m.Version, now, assignments); err != nil {
		return nil, fmt.Errorf("saving assignments of %s: %w", m.Version, err)
	}

	summary = &ScoreSummary{
		Status:          segmentation.StatusSuccess,
		ModelVersion:    m.Version,
		CustomersScored: len(assignments),
		SegmentSizes:    make(map[int]int, m.K),
	}
	for _, a := range assignments {
		summary.SegmentSizes[a.ClusterIndex]++
	}
	s.publish(ctx, orchestration.Event{
		Type:         orchestration.EventAssignmentsSaved,
		ModelVersion: m.Version,
		Payload:      map[string]interface{}{"customers_scored": len(assignments)},
	})
	return summary, nil
}

// Segments describes every segment of the serving model.
func (s *Service) Segments(ctx context.Context) (*SegmentOverview, error) {
	m, err := s.CurrentModel(ctx)
	if err != nil {
		return nil, err
	}
	out := &SegmentOverview{
		ModelVersion:  m.Version,
		TotalSegments: m.K,
		Segments:      make(map[int]SegmentDetail, m.K),
	}
	for idx := 0; idx < m.K; idx++ {
		p := m.Profiles[idx]
		out.Segments[idx] = SegmentDetail{
			Name:       m.SegmentName(idx),
			Size:       p.Size,
			Percentage: p.Percentage,
			Characteristics: map[string]float64{
				"avg_age":           p.Avg(segmentation.FeatureAge),
				"avg_balance":       p.Avg(segmentation.FeatureTotalBalance),
				"avg_digital_score": p.Avg(segmentation.FeatureDigitalScore),
				"avg_churn_risk":    p.Avg(segmentation.FeatureChurnRiskScore),
				"avg_tenure_days":   p.Avg(segmentation.FeatureTenureDays),
			},
		}
	}
	return out, nil
}

// Assignments returns the stored assignment history of a customer.
func (s *Service) Assignments(ctx context.Context, customerID int64) (*AssignmentHistory, error) {
	if _, err := s.fetchCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	stored, err := s.repo.AssignmentsFor(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching assignments of customer %d: %v", segmentation.ErrUpstreamData, customerID, err)
	}
	if stored == nil {
		stored = []store.StoredAssignment{}
	}
	return &AssignmentHistory{CustomerID: customerID, Assignments: stored}, nil
}

// Models lists the registered model versions, newest first.
func (s *Service) Models(ctx context.Context) ([]ModelSummary, error) {
	if s.registry == nil {
		return []ModelSummary{}, nil
	}
	versions, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelSummary, 0, len(versions))
	for _, v := range versions {
		summary, err := summarize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// ActiveModel returns the registry entry of the active model version.
func (s *Service) ActiveModel(ctx context.Context) (*ModelSummary, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("%w: no model registry configured", segmentation.ErrModelNotTrained)
	}
	v, err := s.registry.Active(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := summarize(v)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func summarize(v registry.ModelVersion) (ModelSummary, error) {
	segments, err := v.Segments()
	if err != nil {
		return ModelSummary{}, err
	}
	return ModelSummary{ModelVersion: v, SegmentSummaries: segments}, nil
}

// CurrentModel returns the serving model, loading the stored artifact on
// first use.
func (s *Service) CurrentModel(ctx context.Context) (*segmentation.Model, error) {
	if m := s.model.Load(); m != nil {
		return m, nil
	}
	m, err := s.artifacts.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.setModel(m)
	s.logger.Info("model loaded", zap.String("model_version", m.Version), zap.Int("k", m.K))
	return m, nil
}

func (s *Service) setModel(m *segmentation.Model) {
	s.model.Store(m)
	s.metrics.clusters.Set(float64(m.K))
	s.metrics.silhouette.Set(m.Silhouette)
}

func (s *Service) score(m *segmentation.Model, batch segmentation.Batch) ([]segmentation.SegmentAssignment, error) {
	scorer, err := segmentation.NewScorer(s.cfg, m, s.logger)
	if err != nil {
		return nil, err
	}
	assignments, err := scorer.Score(batch)
	if err != nil {
		return nil, err
	}
	s.metrics.customersScored.Add(float64(len(assignments)))
	return assignments, nil
}

// loadBatch fetches every customer with their accounts and recent
// transactions.
func (s *Service) loadBatch(ctx context.Context, asOf time.Time) (segmentation.Batch, error) {
	customers, err := s.repo.FetchCustomers(ctx)
	if err != nil {
		return segmentation.Batch{}, fmt.Errorf("%w: fetching customers: %v", segmentation.ErrUpstreamData, err)
	}
	return s.related(ctx, customers, asOf)
}

func (s *Service) related(ctx context.Context, customers []segmentation.CustomerRecord, asOf time.Time) (segmentation.Batch, error) {
	accounts, err := s.repo.FetchAccounts(ctx)
	if err != nil {
		return segmentation.Batch{}, fmt.Errorf("%w: fetching accounts: %v", segmentation.ErrUpstreamData, err)
	}
	since := asOf.AddDate(0, -s.cfg.TransactionWindowMonths, 0)
	txns, err := s.repo.FetchTransactions(ctx, since)
	if err != nil {
		return segmentation.Batch{}, fmt.Errorf("%w: fetching transactions: %v", segmentation.ErrUpstreamData, err)
	}
	return segmentation.Batch{Customers: customers, Accounts: accounts, Transactions: txns, AsOf: asOf}, nil
}

// fetchCustomer loads one customer. Unknown ids wrap store.ErrNotFound, any
// other failure is upstream.
func (s *Service) fetchCustomer(ctx context.Context, customerID int64) (segmentation.CustomerRecord, error) {
	c, err := s.repo.FetchCustomer(ctx, customerID)
	if isNotFound(err) {
		return segmentation.CustomerRecord{}, err
	}
	if err != nil {
		return segmentation.CustomerRecord{}, fmt.Errorf("%w: fetching customer %d: %v", segmentation.ErrUpstreamData, customerID, err)
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, e orchestration.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.Type), zap.String("model_version", e.ModelVersion), zap.Error(err))
	}
}

// isNotFound reports whether err means the requested customer is unknown.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
