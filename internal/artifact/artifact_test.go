package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// trainingBatch builds 60 customers in three loose groups, with a few missing
// scores so the imputation table is non-empty.
func trainingBatch() segmentation.Batch {
	b := segmentation.Batch{AsOf: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)}
	bases := []struct{ balance, digital, churn, tenure float64 }{
		{85000, 88, 4, 1600},
		{12000, 35, 28, 2100},
		{35000, 70, 10, 200},
	}
	for i := 0; i < 60; i++ {
		base := bases[i%3]
		digital := base.digital + float64(i%7) - 3
		churn := base.churn + float64(i%4)
		tenure := base.tenure + float64(i*13%50)
		dob := time.Date(1960+i%40, time.Month(1+i%12), 1+i%27, 0, 0, 0, 0, time.UTC)
		income := []string{"$40K-$60K", "₹70K-₹90K", "$100K+"}[i%3]
		c := segmentation.CustomerRecord{
			CustomerID:     int64(i + 1),
			DateOfBirth:    &dob,
			IncomeBracket:  &income,
			DigitalScore:   &digital,
			ChurnRiskScore: &churn,
			TenureDays:     &tenure,
		}
		if i%11 == 5 {
			c.DigitalScore = nil
		}
		b.Customers = append(b.Customers, c)
		b.Accounts = append(b.Accounts, segmentation.AccountRecord{
			CustomerID:  int64(i + 1),
			AccountType: []string{"savings", "current"}[i%2],
			Balance:     decimal.NewFromFloat(base.balance + float64(i*137%2000)),
		})
		b.Transactions = append(b.Transactions, segmentation.TransactionAggregate{
			CustomerID:   int64(i + 1),
			Count:        6 + i%30,
			AvgAbsAmount: decimal.NewFromFloat(50 + float64(i%9)*12.5),
		})
	}
	return b
}

func trainModel(t *testing.T) (*segmentation.TrainingResult, segmentation.Batch) {
	t.Helper()
	b := trainingBatch()
	res, err := segmentation.NewTrainer(segmentation.DefaultConfig(), zap.NewNop()).Train(b)
	require.NoError(t, err)
	require.NotEmpty(t, res.Model.Imputation)
	return res, b
}

func TestFileStoreReloadReproducesClassification(t *testing.T) {
	res, batch := trainModel(t)
	path := filepath.Join(t.TempDir(), "models", "segmentation_model.json")
	store := NewFileStore(path, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, res.Model))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, res.Model.Centroids, loaded.Centroids)
	assert.Equal(t, res.Model.Scaling, loaded.Scaling)
	assert.Equal(t, res.Model.Imputation, loaded.Imputation)
	assert.Equal(t, res.Model.SegmentNames, loaded.SegmentNames)
	assert.Equal(t, res.Model.Profiles, loaded.Profiles)
	assert.True(t, res.Model.TrainedAt.Equal(loaded.TrainedAt))
	assert.Equal(t, res.Model.Version, loaded.Version)

	scorer, err := segmentation.NewScorer(segmentation.DefaultConfig(), loaded, nil)
	require.NoError(t, err)
	got, err := scorer.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, res.Assignments, got)
}

func TestFileStoreSaveReplacesAndLeavesNoTempFiles(t *testing.T) {
	res, _ := trainModel(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	store := NewFileStore(path, nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, res.Model))
	second := *res.Model
	second.Version = "v1.0_20991231"
	require.NoError(t, store.Save(ctx, &second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.0_20991231", loaded.Version)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.json", entries[0].Name())
}

func TestFileStoreLoadErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewFileStore(filepath.Join(dir, "missing.json"), nil).Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrModelNotTrained)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, err = NewFileStore(corrupt, nil).Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrArtifactIO)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"format_version":1}`), 0o644))
	_, err = NewFileStore(empty, nil).Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrArtifactIO)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"format_version":2}`), 0o644))
	_, err = NewFileStore(future, nil).Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrArtifactIO)
}

func TestEncodeRejectsUntrainedModel(t *testing.T) {
	_, err := Encode(&segmentation.Model{})
	assert.ErrorIs(t, err, segmentation.ErrModelNotTrained)
}

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func TestRedisStoreSaveAndLoad(t *testing.T) {
	res, _ := trainModel(t)
	ctx := context.Background()
	client := new(MockRedisClient)
	store := NewRedisStore(client, "custlysis:model", zap.NewNop())

	var saved []byte
	client.On("Set", ctx, "custlysis:model", mock.AnythingOfType("[]uint8"), time.Duration(0)).
		Run(func(args mock.Arguments) { saved = args.Get(2).([]byte) }).
		Return(redis.NewStatusResult("OK", nil)).Once()
	require.NoError(t, store.Save(ctx, res.Model))
	require.NotEmpty(t, saved)

	client.On("Get", ctx, "custlysis:model").Return(redis.NewStringResult(string(saved), nil)).Once()
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Model.Centroids, loaded.Centroids)
	client.AssertExpectations(t)
}

func TestRedisStoreErrors(t *testing.T) {
	res, _ := trainModel(t)
	ctx := context.Background()
	client := new(MockRedisClient)
	store := NewRedisStore(client, "k", nil)

	client.On("Get", ctx, "k").Return(redis.NewStringResult("", redis.Nil)).Once()
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrModelNotTrained)

	client.On("Get", ctx, "k").Return(redis.NewStringResult("", errors.New("connection refused"))).Once()
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, segmentation.ErrArtifactIO)

	client.On("Set", ctx, "k", mock.Anything, time.Duration(0)).
		Return(redis.NewStatusResult("", errors.New("READONLY"))).Once()
	err = store.Save(ctx, res.Model)
	assert.ErrorIs(t, err, segmentation.ErrArtifactIO)
	client.AssertExpectations(t)
}
