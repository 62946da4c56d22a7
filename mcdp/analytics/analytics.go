// Package analytics aggregates review statistics over a trailing time window.
// Aggregation loads the in-window records from the store and hands them to
// pure computation, so the numbers are testable without a database.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/crosbyhealth/mcdp-app/mcdp/constants"
	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/risk"
)

type TimeRange string

const (
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
)

func (r TimeRange) Valid() bool {
	return r == RangeDay || r == RangeWeek || r == RangeMonth
}

// Window returns the trailing duration the range covers. A month is a fixed
// thirty days.
func (r TimeRange) Window() time.Duration {
	switch r {
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Report is the aggregated analytics response body.
type Report struct {
	Overview           Overview                   `json:"overview"`
	RiskDistribution   RiskDistribution           `json:"risk_distribution"`
	ReviewTypes        map[string]ReviewTypeStats `json:"review_types"`
	TimelineMetrics    TimelineMetrics            `json:"timeline_metrics"`
	DocumentStatistics DocumentStatistics         `json:"document_statistics"`
}

type Overview struct {
	TotalReviews          int     `json:"total_reviews"`
	TotalAmountAtRisk     float64 `json:"total_amount_at_risk"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	CompletionRate        float64 `json:"completion_rate"`
}

type RiskDistribution struct {
	HighRisk   int `json:"high_risk"`
	MediumRisk int `json:"medium_risk"`
	LowRisk    int `json:"low_risk"`
}

type ReviewTypeStats struct {
	Count             int     `json:"count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

type TimelineMetrics struct {
	AverageTimeToFirstResponse float64 `json:"average_time_to_first_response"`
	AverageTimeToCompletion    float64 `json:"average_time_to_completion"`
	OverdueReviews             int     `json:"overdue_reviews"`
	AtRiskReviews              int     `json:"at_risk_reviews"`
}

type DocumentStatistics struct {
	MostRequested         []DocumentCount `json:"most_requested"`
	CompletionRates       CompletionRates `json:"completion_rates"`
	AverageCompletionTime float64         `json:"average_completion_time"`
}

type DocumentCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type CompletionRates struct {
	Overall float64            `json:"overall"`
	ByType  map[string]float64 `json:"by_type"`
}

type Engine struct {
	repository models.Repository
	now        func() time.Time
}

func NewEngine(r models.Repository) *Engine {
	return &Engine{repository: r, now: time.Now}
}

// Aggregate loads every review received inside the trailing window, optionally
// restricted to one facility, and computes the report over them.
func (e *Engine) Aggregate(ctx context.Context, timeRange TimeRange, facilityID string) (*Report, error) {
	if timeRange == "" {
		timeRange = RangeDay
	}
	if !timeRange.Valid() {
		return nil, &customErrors.ValidationError{Msg: fmt.Sprintf("unknown time range %q", timeRange)}
	}

	now := e.now()
	records, err := e.repository.GetReviewRecordsSince(ctx, now.Add(-timeRange.Window()), facilityID)
	if err != nil {
		return nil, err
	}

	report := Compute(records, now)
	return &report, nil
}

// Compute derives the full report from a record snapshot. Empty inputs yield
// zero counts and zero rates, never a division failure.
func Compute(records []models.ReviewRecord, now time.Time) Report {
	report := Report{
		ReviewTypes: map[string]ReviewTypeStats{},
		DocumentStatistics: DocumentStatistics{
			MostRequested:   []DocumentCount{},
			CompletionRates: CompletionRates{ByType: map[string]float64{}},
		},
	}

	var (
		terminal         int
		successful       int
		processingHours  float64
		firstRespHours   float64
		firstRespSamples int

		typeCounts     = map[models.FileType]int{}
		typeTerminal   = map[models.FileType]int{}
		typeSuccess    = map[models.FileType]int{}
		typeProcHours  = map[models.FileType]float64{}
		docRequested   = map[models.DocumentType]int{}
		docReceived    = map[models.DocumentType]int{}
		docHours       float64
		docHourSamples int
	)

	for i := range records {
		r := &records[i]
		n := r.Notification

		report.Overview.TotalReviews++
		report.Overview.TotalAmountAtRisk += r.DeniedAmount()

		switch risk.BucketFor(risk.ScoreRecord(r, now)) {
		case risk.BucketHigh:
			report.RiskDistribution.HighRisk++
		case risk.BucketMedium:
			report.RiskDistribution.MediumRisk++
		default:
			report.RiskDistribution.LowRisk++
		}

		typeCounts[n.FileType]++
		if n.Status.Terminal() {
			terminal++
			typeTerminal[n.FileType]++
			hours := n.Metadata.LastProcessedAt.Sub(n.ReceivedAt).Hours()
			processingHours += hours
			typeProcHours[n.FileType] += hours
			if n.Status == models.StatusApproved || n.Status == models.StatusCompleted {
				successful++
				typeSuccess[n.FileType]++
			}
		}

		if risk.Overdue(r, now) {
			report.TimelineMetrics.OverdueReviews++
		}
		if risk.AtRisk(r, now, constants.AtRiskWindowHours*time.Hour) {
			report.TimelineMetrics.AtRiskReviews++
		}

		if first, ok := firstResponse(r); ok {
			firstRespHours += first.Sub(n.ReceivedAt).Hours()
			firstRespSamples++
		}

		for _, doc := range r.Patient.Documents {
			docRequested[doc.DocumentType]++
			if doc.Received() {
				docReceived[doc.DocumentType]++
				docHours += doc.ReceivedDate.Sub(doc.RequestedAt).Hours()
				docHourSamples++
			}
		}
	}

	// Denied reviews are finished work, so they count toward the processing
	// time averages, but only COMPLETED and APPROVED count as completions.
	report.Overview.AverageProcessingTime = safeAvg(processingHours, terminal)
	report.Overview.CompletionRate = safeRate(successful, report.Overview.TotalReviews)
	report.TimelineMetrics.AverageTimeToFirstResponse = safeAvg(firstRespHours, firstRespSamples)
	report.TimelineMetrics.AverageTimeToCompletion = safeAvg(processingHours, terminal)

	for fileType, count := range typeCounts {
		report.ReviewTypes[string(fileType)] = ReviewTypeStats{
			Count:             count,
			SuccessRate:       safeRate(typeSuccess[fileType], typeTerminal[fileType]),
			AvgProcessingTime: safeAvg(typeProcHours[fileType], typeTerminal[fileType]),
		}
	}

	totalRequested, totalReceived := 0, 0
	for docType, count := range docRequested {
		totalRequested += count
		totalReceived += docReceived[docType]
		report.DocumentStatistics.MostRequested = append(report.DocumentStatistics.MostRequested,
			DocumentCount{Type: string(docType), Count: count})
		report.DocumentStatistics.CompletionRates.ByType[string(docType)] = safeRate(docReceived[docType], count)
	}
	sort.Slice(report.DocumentStatistics.MostRequested, func(i, j int) bool {
		a, b := report.DocumentStatistics.MostRequested[i], report.DocumentStatistics.MostRequested[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})
	report.DocumentStatistics.CompletionRates.Overall = safeRate(totalReceived, totalRequested)
	report.DocumentStatistics.AverageCompletionTime = safeAvg(docHours, docHourSamples)

	return report
}

// firstResponse returns the earliest document receipt at or after the
// notification arrived.
func firstResponse(r *models.ReviewRecord) (time.Time, bool) {
	var first time.Time
	for _, doc := range r.Patient.Documents {
		if !doc.Received() || doc.ReceivedDate.Before(r.Notification.ReceivedAt) {
			continue
		}
		if first.IsZero() || doc.ReceivedDate.Before(first) {
			first = *doc.ReceivedDate
		}
	}
	return first, !first.IsZero()
}

func safeRate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func safeAvg(sum float64, samples int) float64 {
	if samples == 0 {
		return 0
	}
	return sum / float64(samples)
}
