package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChunk(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordChunk("encrypt", 100, time.Millisecond, nil)
	m.RecordChunk("encrypt", 50, time.Millisecond, nil)
	m.RecordChunk("decrypt", 10, time.Millisecond, fmt.Errorf("chunk 1: %w", common.ErrIntegrity))
	m.RecordChunkError("decrypt", common.ErrIntegrity)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkOperations.WithLabelValues("encrypt")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.chunkBytes.WithLabelValues("encrypt")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.chunkBytes.WithLabelValues("decrypt")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkErrors.WithLabelValues("decrypt", "integrity")))
}

func TestRecordStoreAndRefresh(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordStore("local", "put", time.Millisecond, nil)
	m.RecordStore("google_drive", "get", time.Millisecond, common.ErrTransient)
	m.RecordTokenRefresh("onedrive", nil)
	m.RecordTokenRefresh("onedrive", common.ErrAuth)
	m.RecordPipeline("upload", nil)
	m.RecordSwept(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOperations.WithLabelValues("local", "put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("google_drive", "get", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("onedrive", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("onedrive", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("upload", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stagingSwept))
}

func TestErrorType(t *testing.T) {
	tests := map[error]string{
		nil:                     "none",
		common.ErrIntegrity:     "integrity",
		common.ErrCorruption:    "corruption",
		common.ErrAuth:          "auth",
		common.ErrTransient:     "transient",
		common.ErrorNotFound:    "not_found",
		common.ErrQuotaExceeded: "quota",
		errors.New("x"):         "other",
	}
	for err, want := range tests {
		assert.Equal(t, want, ErrorType(err))
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordPipeline("download", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chunkvault_pipeline_runs_total{pipeline="download",result="success"} 1`)
}

func TestNew_TwoRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
