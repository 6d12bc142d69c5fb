package detect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityNormal < SeverityInfo)
	assert.True(t, SeverityInfo < SeverityWarning)
	assert.True(t, SeverityWarning < SeverityCritical)
}

func TestSeverityJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Severity{"s": SeverityWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"warning"}`, string(data))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelFast, ParseLevel("fast"))
	assert.Equal(t, LevelDeep, ParseLevel("deep"))
	assert.Equal(t, LevelStandard, ParseLevel(""))
	assert.Equal(t, LevelStandard, ParseLevel("bogus"))
}

func TestConfidence(t *testing.T) {
	// Higher-better: score 50 against threshold 100 is half the threshold away.
	assert.InDelta(t, 0.5, Confidence(50, 100, true), 1e-9)
	// Clamped to 1 even when the distance exceeds the threshold.
	assert.Equal(t, 1.0, Confidence(500, 100, true))
	// Zero threshold short-circuits.
	assert.Equal(t, 1.0, Confidence(5, 0, true))
	// Lower-better guards against tiny thresholds.
	assert.InDelta(t, 0.4, Confidence(0.7, 0.3, false), 1e-9)
}

func TestNormalIssue(t *testing.T) {
	assert.Equal(t, "blur_normal", NormalIssue("blur"))
}
