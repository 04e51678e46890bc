// Package ingest implements the K-line and metrics downloaders:
// worker-pool fetch loops over the exchange capability interface, gated
// by the endpoint-class rate limiter and the retry policy, validating
// and upserting into storage.
package ingest

// MissingPeriod records one (symbol, reason) gap surfaced in an
// IntegrityReport.
type MissingPeriod struct {
	Symbol string
	Period string
	Reason string
}

// IntegrityReport summarizes one download run.
type IntegrityReport struct {
	Total           int
	Successful      int
	Failed          []string
	MissingPeriods  []MissingPeriod
	QualityScore    float64
	Recommendations []string
	Warnings        []string
}

func (r *IntegrityReport) recordFailure(symbol, period, reason string) {
	r.Failed = append(r.Failed, symbol)
	r.MissingPeriods = append(r.MissingPeriods, MissingPeriod{Symbol: symbol, Period: period, Reason: reason})
}
