// Package metrics records Prometheus counters for cryptographic and
// KMS operations. Metrics are opt-in: nothing is registered until
// Init is called, and record functions are no-ops before that.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cipherOpsTotal *prometheus.CounterVec
	kmsOpsTotal    *prometheus.CounterVec
	kmsErrorsTotal *prometheus.CounterVec
	syncRunsTotal  *prometheus.CounterVec
	syncSecrets    prometheus.Counter

	initOnce   sync.Once
	registered bool
)

// Init registers all counters. Call once at startup when metrics are
// enabled.
func Init() {
	initOnce.Do(func() {
		cipherOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamvault_cipher_ops_total",
				Help: "Total encrypt/decrypt operations by scheme",
			},
			[]string{"scheme", "op"},
		)

		kmsOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamvault_kms_ops_total",
				Help: "Total successful KMS wrap/unwrap calls by provider",
			},
			[]string{"provider", "op"},
		)

		kmsErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamvault_kms_errors_total",
				Help: "Total failed KMS calls by provider",
			},
			[]string{"provider", "op"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamvault_sync_runs_total",
				Help: "Total sync invocations by outcome",
			},
			[]string{"outcome"},
		)

		syncSecrets = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "teamvault_sync_secrets_total",
				Help: "Total secrets re-encrypted across all syncs",
			},
		)

		registered = true
	})
}

// RecordCipherOp counts one encrypt or decrypt by scheme.
func RecordCipherOp(scheme, op string) {
	if !registered {
		return
	}
	cipherOpsTotal.WithLabelValues(scheme, op).Inc()
}

// RecordKMSOp counts one successful wrap or unwrap.
func RecordKMSOp(provider, op string) {
	if !registered {
		return
	}
	kmsOpsTotal.WithLabelValues(provider, op).Inc()
}

// RecordKMSError counts one failed KMS call.
func RecordKMSError(provider, op string) {
	if !registered {
		return
	}
	kmsErrorsTotal.WithLabelValues(provider, op).Inc()
}

// RecordSync counts one sync run and the secrets it re-encrypted.
// Outcome is "reencrypted", "noop", or "failed".
func RecordSync(outcome string, secrets int) {
	if !registered {
		return
	}
	syncRunsTotal.WithLabelValues(outcome).Inc()
	if secrets > 0 {
		syncSecrets.Add(float64(secrets))
	}
}

// Registered reports whether Init has run, for tests.
func Registered() bool {
	return registered
}
