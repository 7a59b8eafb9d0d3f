package check

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncodesNullsExplicitly(t *testing.T) {
	b, err := json.Marshal(Request{Email: "a@example.com"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"bin", "ip", "timezone", "typing_speed_ms_avg", "first_click_delay_ms"} {
		v, ok := m[k]
		assert.True(t, ok, "%s must be present", k)
		assert.Nil(t, v, "%s must be null", k)
	}
	dev := m["device_info"].(map[string]any)
	_, ok := dev["screen"]
	assert.True(t, ok)
	assert.Nil(t, dev["screen"])
}

func TestDecodeVerdict(t *testing.T) {
	v, err := DecodeVerdict(json.RawMessage(`{"risk_score":72,"fraud_flags":["bot_typing"],"recommendation":"review","check_id":9}`))
	require.NoError(t, err)
	assert.Equal(t, 72, v.RiskScore)
	assert.Equal(t, []string{"bot_typing"}, v.FraudFlags)
	require.NotNil(t, v.CheckID)
	assert.EqualValues(t, 9, *v.CheckID)

	_, err = DecodeVerdict(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestRiskBand(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, BandLow},
		{29, BandLow},
		{30, BandMedium},
		{69, BandMedium},
		{70, BandHigh},
		{100, BandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskBand(tt.score), "score %d", tt.score)
	}
}

func TestDistributionAndSummary(t *testing.T) {
	records := []Record{{RiskScore: 10}, {RiskScore: 30}, {RiskScore: 75}, {RiskScore: 90}, {RiskScore: 5}}

	d := Distribution(records)
	assert.Equal(t, RiskDistribution{Low: 2, Medium: 1, High: 2}, d)
	assert.Equal(t, 5, d.Total())

	s := Summarize(records)
	assert.Equal(t, 5, s.TotalChecks)
	assert.Equal(t, 2, s.HighRisk)
	assert.InDelta(t, 42.0, s.AvgRiskScore, 0.001)

	assert.Equal(t, MetricsSummary{}, Summarize(nil))
}

func TestRecommendation(t *testing.T) {
	assert.Equal(t, "allow", Recommendation(0))
	assert.Equal(t, "allow", Recommendation(49))
	assert.Equal(t, "review", Recommendation(50))
	assert.Equal(t, "review", Recommendation(79))
	assert.Equal(t, "block", Recommendation(80))
	assert.Equal(t, "block", Recommendation(100))
}
