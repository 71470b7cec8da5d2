package grouping

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Pulkitjakhmola/custlysis/internal/registry"
	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
	"github.com/Pulkitjakhmola/custlysis/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func performRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHandlers_Train(t *testing.T) {
	f := newFixture(t)
	f.expectData()
	f.registry.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(registry.ModelVersion{}, nil)
	f.repo.On("SaveAssignments", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	router := NewRouter(f.service, nil)

	w := performRequest(router, http.MethodPost, "/api/v1/segmentation/train")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary TrainingSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, 45, summary.CustomersProcessed)

	t.Run("segments", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/api/v1/segmentation/segments")
		require.Equal(t, http.StatusOK, w.Code)
		var overview SegmentOverview
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
		assert.Equal(t, summary.Clusters, overview.TotalSegments)
	})

	t.Run("predict", func(t *testing.T) {
		f.repo.On("FetchCustomer", mock.Anything, int64(5)).Return(f.data.Customers[4], nil)
		w := performRequest(router, http.MethodGet, "/api/v1/segmentation/customers/5/segment")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var pred Prediction
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
		assert.EqualValues(t, 5, pred.CustomerID)
		assert.Equal(t, summary.ModelVersion, pred.ModelVersion)
	})

	t.Run("unknown customer", func(t *testing.T) {
		f.repo.On("FetchCustomer", mock.Anything, int64(404)).Return(segmentation.CustomerRecord{}, fmt.Errorf("customer 404: %w", store.ErrNotFound))
		w := performRequest(router, http.MethodGet, "/api/v1/segmentation/customers/404/segment")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, ErrorCodeCustomerNotFound, decodeAPIError(t, w).Code)
	})

	t.Run("score", func(t *testing.T) {
		w := performRequest(router, http.MethodPost, "/api/v1/segmentation/score")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"customers_scored":45`)
	})

	t.Run("metrics", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `custlysis_runs_total{operation="train",status="success"} 1`)
		assert.Contains(t, body, "custlysis_model_clusters")
		assert.True(t, strings.Contains(body, "custlysis_run_duration_seconds_bucket"))
	})
}

func TestHandlers_Errors(t *testing.T) {
	t.Run("invalid customer id", func(t *testing.T) {
		f := newFixture(t)
		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/customers/abc/segment")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, ErrorCodeInvalidIDFormat, decodeAPIError(t, w).Code)
	})

	t.Run("model not trained", func(t *testing.T) {
		f := newFixture(t)
		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/customers/1/segment")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, segmentation.CodeModelNotTrained, decodeAPIError(t, w).Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("FetchCustomers", mock.Anything, []int64(nil)).Return(nil, errors.New("connection refused"))
		w := performRequest(NewRouter(f.service, nil), http.MethodPost, "/api/v1/segmentation/train")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		apiErr := decodeAPIError(t, w)
		assert.Equal(t, segmentation.CodeUpstreamData, apiErr.Code)
		assert.Contains(t, apiErr.Message, "connection refused")
	})

	t.Run("insufficient data", func(t *testing.T) {
		f := newFixture(t)
		f.data.Customers = f.data.Customers[:5]
		f.expectData()
		w := performRequest(NewRouter(f.service, nil), http.MethodPost, "/api/v1/segmentation/train")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, segmentation.CodeInsufficientData, decodeAPIError(t, w).Code)
	})

	t.Run("registry failure", func(t *testing.T) {
		f := newFixture(t)
		f.registry.On("List", mock.Anything).Return(nil, errors.New("registry down"))
		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/models")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, segmentation.CodeInternal, decodeAPIError(t, w).Code)
	})
}

func TestHandlers_Models(t *testing.T) {
	f := newFixture(t)
	f.registry.On("List", mock.Anything).Return([]registry.ModelVersion{{
		Version:      "v1.0_20240615",
		Active:       true,
		SegmentsJSON: `{"0":{"name":"Digital Elite","size":30,"percentage":60}}`,
	}}, nil)

	w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/models")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_version":"v1.0_20240615"`)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Contains(t, w.Body.String(), `"segments":{"0":{"name":"Digital Elite","size":30,"percentage":60}}`)
}

func TestHandlers_ActiveModel(t *testing.T) {
	t.Run("active version", func(t *testing.T) {
		f := newFixture(t)
		f.registry.On("Active", mock.Anything).Return(registry.ModelVersion{Version: "v1.0_20240615", Active: true}, nil)

		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/models/active")
		require.Equal(t, http.StatusOK, w.Code)
		var got ModelSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "v1.0_20240615", got.Version)
		assert.True(t, got.Active)
	})

	t.Run("nothing registered", func(t *testing.T) {
		f := newFixture(t)
		f.registry.On("Active", mock.Anything).Return(registry.ModelVersion{}, fmt.Errorf("%w: no active model version", segmentation.ErrModelNotTrained))

		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/models/active")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, segmentation.CodeModelNotTrained, decodeAPIError(t, w).Code)
	})
}

func TestHandlers_Assignments(t *testing.T) {
	t.Run("history", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("FetchCustomer", mock.Anything, int64(3)).Return(f.data.Customers[2], nil)
		f.repo.On("AssignmentsFor", mock.Anything, int64(3)).Return([]store.StoredAssignment{
			{CustomerID: 3, SegmentID: 2, SegmentName: "Young Professionals", ModelVersion: "v1.0_20240615", Score: 0.5},
		}, nil)

		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/customers/3/assignments")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got AssignmentHistory
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.EqualValues(t, 3, got.CustomerID)
		require.Len(t, got.Assignments, 1)
		assert.Equal(t, "Young Professionals", got.Assignments[0].SegmentName)
		assert.Equal(t, 0.5, got.Assignments[0].Score)
	})

	t.Run("unknown customer", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("FetchCustomer", mock.Anything, int64(404)).Return(segmentation.CustomerRecord{}, fmt.Errorf("customer 404: %w", store.ErrNotFound))

		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/customers/404/assignments")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, ErrorCodeCustomerNotFound, decodeAPIError(t, w).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		f := newFixture(t)
		w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/api/v1/segmentation/customers/x1/assignments")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Healthz(t *testing.T) {
	f := newFixture(t)
	w := performRequest(NewRouter(f.service, nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
