package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessData(ctx context.Context, req ProcessDataRequest) (int, error) {
	args := m.Called(ctx, req)
	return args.Int(0), args.Error(1)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV(t *testing.T) {
	rows, err := readCSV(strings.NewReader("\ufeffCustomer_ID, dob ,income_bracket\n1, 1990-01-02,$40K-$60K\n2,,\n"), "test")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]interface{}{"customer_id": "1", "dob": "1990-01-02", "income_bracket": "$40K-$60K"}, rows[0])
	assert.Equal(t, "", rows[1]["dob"])

	rows, err = readCSV(strings.NewReader(""), "empty")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = readCSV(strings.NewReader("a,b\n1,2,3\n"), "ragged")
	assert.Error(t, err)
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "customers.csv", "customer_id,dob\n1,1990-01-01\n2,1985-05-05\n")
	writeFile(t, dir, "accounts.csv", "account_id,customer_id,account_type,balance\n10,1,savings,100.50\n")

	proc := new(MockProcessor)
	proc.On("ProcessData", mock.Anything, mock.MatchedBy(func(r ProcessDataRequest) bool {
		return r.EntityType == EntityCustomers && len(r.RawData) == 2
	})).Return(2, nil).Once()
	proc.On("ProcessData", mock.Anything, mock.MatchedBy(func(r ProcessDataRequest) bool {
		return r.EntityType == EntityAccounts && r.RawData[0]["balance"] == "100.50"
	})).Return(1, nil).Once()

	summary, err := NewService(proc, zap.NewNop()).IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, Summary{EntityCustomers: 2, EntityAccounts: 1}, summary)
	proc.AssertExpectations(t)
}

func TestIngestDirRequiresCustomers(t *testing.T) {
	proc := new(MockProcessor)
	_, err := NewService(proc, nil).IngestDir(context.Background(), t.TempDir())
	assert.Error(t, err)
	proc.AssertNotCalled(t, "ProcessData", mock.Anything, mock.Anything)
}

func TestIngestDirStopsOnProcessingError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "customers.csv", "customer_id\n1\n")
	writeFile(t, dir, "accounts.csv", "account_id\n1\n")

	proc := new(MockProcessor)
	proc.On("ProcessData", mock.Anything, mock.Anything).Return(0, errors.New("bad row")).Once()

	_, err := NewService(proc, nil).IngestDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row")
	proc.AssertNumberOfCalls(t, "ProcessData", 1)
}
