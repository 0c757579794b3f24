package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teamvault/teamvault/internal/metrics"
)

func TestRecordersAreSafeBeforeAndAfterInit(t *testing.T) {
	// Record calls before Init must be silent no-ops.
	metrics.RecordCipherOp("age", "encrypt")
	metrics.RecordKMSOp("aws", "wrap")
	metrics.RecordKMSError("gcp", "unwrap")
	metrics.RecordSync("noop", 0)

	metrics.Init()
	metrics.Init() // idempotent
	assert.True(t, metrics.Registered())

	metrics.RecordCipherOp("age", "decrypt")
	metrics.RecordKMSOp("gcp", "wrap")
	metrics.RecordKMSError("aws", "wrap")
	metrics.RecordSync("reencrypted", 3)
	metrics.RecordSync("failed", 0)
}
