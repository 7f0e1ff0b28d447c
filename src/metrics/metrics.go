// Package metrics exposes the Prometheus counters, gauges, and histograms
// the vault's upload/download/quota/scheduler components report against.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every metric the vault reports. A single instance is
// constructed at startup and threaded into the components that need it.
type Metrics struct {
	uploadsInitiated  prometheus.Counter
	uploadsFinalized  prometheus.Counter
	uploadsCancelled  prometheus.Counter
	uploadsExpired    prometheus.Counter
	chunkEncryptSecs  prometheus.Histogram
	chunkDecryptSecs  prometheus.Histogram
	quotaUtilization  *prometheus.GaugeVec
	uploadPermitsUsed prometheus.Gauge
	downloadPermitsUsed prometheus.Gauge
}

// NewMetrics registers every metric against the default registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against a caller-supplied registry,
// avoiding duplicate-registration panics across table-driven tests.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uploadsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_uploads_initiated_total",
			Help: "Total number of chunked uploads started.",
		}),
		uploadsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_uploads_finalized_total",
			Help: "Total number of chunked uploads committed as file rows.",
		}),
		uploadsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_uploads_cancelled_total",
			Help: "Total number of chunked uploads explicitly cancelled.",
		}),
		uploadsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_uploads_expired_total",
			Help: "Total number of chunked uploads reclaimed by the expiry sweeper.",
		}),
		chunkEncryptSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_chunk_encrypt_duration_seconds",
			Help:    "Per-chunk AEAD encryption latency during upload.",
			Buckets: prometheus.DefBuckets,
		}),
		chunkDecryptSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_chunk_decrypt_duration_seconds",
			Help:    "Per-chunk AEAD decryption latency during download.",
			Buckets: prometheus.DefBuckets,
		}),
		quotaUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_quota_utilization_ratio",
			Help: "Most recently observed used_bytes/quota_bytes ratio for a user.",
		}, []string{"user_id"}),
		uploadPermitsUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_upload_permits_in_use",
			Help: "Number of upload chunk-processing permits currently held.",
		}),
		downloadPermitsUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_download_permits_in_use",
			Help: "Number of download chunk-decrypt permits currently held.",
		}),
	}
}

func (m *Metrics) UploadInitiated()  { m.uploadsInitiated.Inc() }
func (m *Metrics) UploadFinalized()  { m.uploadsFinalized.Inc() }
func (m *Metrics) UploadCancelled()  { m.uploadsCancelled.Inc() }
func (m *Metrics) UploadsExpired(n int) {
	for i := 0; i < n; i++ {
		m.uploadsExpired.Inc()
	}
}

func (m *Metrics) ObserveChunkEncrypt(d time.Duration) { m.chunkEncryptSecs.Observe(d.Seconds()) }
func (m *Metrics) ObserveChunkDecrypt(d time.Duration) { m.chunkDecryptSecs.Observe(d.Seconds()) }

// SetQuotaUtilization records the current used/quota ratio for a user,
// called after any quota-mutating operation (finalize, delete, recompute).
func (m *Metrics) SetQuotaUtilization(userID string, usedBytes, quotaBytes int64) {
	if quotaBytes <= 0 {
		return
	}
	m.quotaUtilization.WithLabelValues(userID).Set(float64(usedBytes) / float64(quotaBytes))
}

func (m *Metrics) SetUploadPermitsInUse(n int)   { m.uploadPermitsUsed.Set(float64(n)) }
func (m *Metrics) SetDownloadPermitsInUse(n int) { m.downloadPermitsUsed.Set(float64(n)) }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
