package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestUploadCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.UploadInitiated()
	m.UploadFinalized()
	m.UploadCancelled()
	m.UploadsExpired(3)

	assert := require.New(t)
	assert.Equal(float64(1), counterValue(t, m.uploadsInitiated))
	assert.Equal(float64(1), counterValue(t, m.uploadsFinalized))
	assert.Equal(float64(1), counterValue(t, m.uploadsCancelled))
	assert.Equal(float64(3), counterValue(t, m.uploadsExpired))
}

func TestQuotaUtilizationIgnoresZeroQuota(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetQuotaUtilization("user-1", 500, 0)
	m.SetQuotaUtilization("user-1", 500, 1000)

	gauge, err := m.quotaUtilization.GetMetricWithLabelValues("user-1")
	require.NoError(t, err)
	var out dto.Metric
	require.NoError(t, gauge.Write(&out))
	require.Equal(t, 0.5, out.GetGauge().GetValue())
}

func TestObserveChunkLatencies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ObserveChunkEncrypt(10 * time.Millisecond)
	m.ObserveChunkDecrypt(20 * time.Millisecond)

	var encryptHist dto.Metric
	require.NoError(t, m.chunkEncryptSecs.(prometheus.Metric).Write(&encryptHist))
	require.Equal(t, uint64(1), encryptHist.GetHistogram().GetSampleCount())
}
