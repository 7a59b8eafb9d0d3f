package check

import "time"

// Risk bands used by the dashboard's distribution breakdown.
const (
	BandLow    = "low"    // < 30
	BandMedium = "medium" // 30-69
	BandHigh   = "high"   // >= 70
)

// Record is a stored check as the dashboard reads it: the submitted body
// plus what the scoring service assigned.
type Record struct {
	Request
	ID         int64     `json:"id"`
	RiskScore  int       `json:"risk_score"`
	FraudFlags []string  `json:"fraud_flags"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetricsSummary is the dashboard's headline numbers.
type MetricsSummary struct {
	TotalChecks  int     `json:"total_checks"`
	HighRisk     int     `json:"high_risk"`
	AvgRiskScore float64 `json:"avg_risk_score"`
}

// RiskDistribution counts records per band.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Total returns the number of records counted.
func (d RiskDistribution) Total() int { return d.Low + d.Medium + d.High }

// RiskBand maps a 0-100 score to its band.
func RiskBand(score int) string {
	switch {
	case score >= 70:
		return BandHigh
	case score >= 30:
		return BandMedium
	default:
		return BandLow
	}
}

// Distribution buckets records by RiskBand.
func Distribution(records []Record) RiskDistribution {
	var d RiskDistribution
	for _, r := range records {
		switch RiskBand(r.RiskScore) {
		case BandHigh:
			d.High++
		case BandMedium:
			d.Medium++
		default:
			d.Low++
		}
	}
	return d
}

// Summarize computes the headline numbers for records.
func Summarize(records []Record) MetricsSummary {
	s := MetricsSummary{TotalChecks: len(records)}
	if len(records) == 0 {
		return s
	}
	sum := 0
	for _, r := range records {
		sum += r.RiskScore
		if RiskBand(r.RiskScore) == BandHigh {
			s.HighRisk++
		}
	}
	s.AvgRiskScore = float64(sum) / float64(len(records))
	return s
}
