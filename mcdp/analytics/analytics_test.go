package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/models/mockrepo"
)

var now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func record(id string, fileType models.FileType, status models.ReviewStatus, priority int, due time.Time, processedAfter time.Duration, deniedAmount float64, docs ...models.RequiredDocument) models.ReviewRecord {
	received := now.Add(-96 * time.Hour)
	r := models.ReviewRecord{
		Notification: models.Notification{
			NotificationID: id,
			PatientID:      1,
			FileType:       fileType,
			Priority:       priority,
			Status:         status,
			ReceivedAt:     received,
			DueDate:        due,
			Metadata: models.ProcessingMetadata{
				ProcessingStatus: models.ProcessingComplete,
				LastProcessedAt:  received.Add(processedAfter),
			},
		},
		Patient: models.Patient{ID: 1, MedicareID: "MBI-" + id, Documents: docs},
	}
	if deniedAmount > 0 {
		r.Appeal = &models.Appeal{NotificationID: id, DeniedAmount: deniedAmount}
	}
	return r
}

func TestComputeEmptyWindow(t *testing.T) {
	report := Compute(nil, now)

	assert.Equal(t, 0, report.Overview.TotalReviews)
	assert.Zero(t, report.Overview.CompletionRate)
	assert.Zero(t, report.Overview.AverageProcessingTime)
	assert.Zero(t, report.DocumentStatistics.CompletionRates.Overall)
	assert.Empty(t, report.DocumentStatistics.MostRequested)
	assert.Empty(t, report.ReviewTypes)
}

func TestComputeOverviewAndTypes(t *testing.T) {
	records := []models.ReviewRecord{
		record("notif-1", models.FileTypePrepaymentReview, models.StatusApproved, 2, now.Add(200*time.Hour), 48*time.Hour, 0),
		record("notif-2", models.FileTypePrepaymentReview, models.StatusDenied, 2, now.Add(200*time.Hour), 72*time.Hour, 25000),
		record("notif-3", models.FileTypeAuditRequest, models.StatusPending, 2, now.Add(200*time.Hour), 0, 0),
	}

	report := Compute(records, now)

	assert.Equal(t, 3, report.Overview.TotalReviews)
	assert.Equal(t, 25000.0, report.Overview.TotalAmountAtRisk)
	// one approved review out of three; the denial is not a completion
	assert.InDelta(t, 1.0/3.0, report.Overview.CompletionRate, 1e-9)
	// processing time still averages over both finished reviews
	assert.InDelta(t, 60.0, report.Overview.AverageProcessingTime, 1e-9)

	prepay := report.ReviewTypes[string(models.FileTypePrepaymentReview)]
	assert.Equal(t, 2, prepay.Count)
	assert.InDelta(t, 0.5, prepay.SuccessRate, 1e-9)
	assert.InDelta(t, 60.0, prepay.AvgProcessingTime, 1e-9)

	audit := report.ReviewTypes[string(models.FileTypeAuditRequest)]
	assert.Equal(t, 1, audit.Count)
	assert.Zero(t, audit.SuccessRate)
}

func TestComputeCompletionRateExcludesDenied(t *testing.T) {
	records := []models.ReviewRecord{
		record("notif-approved", models.FileTypeADR, models.StatusApproved, 2, now.Add(200*time.Hour), 24*time.Hour, 0),
		record("notif-denied", models.FileTypeADR, models.StatusDenied, 2, now.Add(200*time.Hour), 24*time.Hour, 10000),
		record("notif-open", models.FileTypeADR, models.StatusPending, 2, now.Add(200*time.Hour), 0, 0),
	}

	report := Compute(records, now)

	assert.InDelta(t, 1.0/3.0, report.Overview.CompletionRate, 1e-9)

	adr := report.ReviewTypes[string(models.FileTypeADR)]
	assert.Equal(t, 3, adr.Count)
	assert.InDelta(t, 0.5, adr.SuccessRate, 1e-9)
}

func TestComputeRiskDistribution(t *testing.T) {
	records := []models.ReviewRecord{
		// overdue, high priority, big amount: pegged at 100
		record("notif-high", models.FileTypeADR, models.StatusPending, 5, now.Add(-time.Hour), 0, 100000),
		// moderate priority, two days out
		record("notif-med", models.FileTypeADR, models.StatusPending, 2, now.Add(48*time.Hour), 0, 0),
		// low priority, far-future due date
		record("notif-low", models.FileTypeADR, models.StatusPending, 1, now.Add(400*time.Hour), 0, 0),
	}

	report := Compute(records, now)

	assert.Equal(t, 1, report.RiskDistribution.HighRisk)
	assert.Equal(t, 1, report.RiskDistribution.MediumRisk)
	assert.Equal(t, 1, report.RiskDistribution.LowRisk)
}

func TestComputeTimelineAtRiskWindow(t *testing.T) {
	missing := models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true, RequestedAt: now.Add(-96 * time.Hour)}
	records := []models.ReviewRecord{
		// due in 10 hours, incomplete: inside the 24h at-risk window
		record("notif-10h", models.FileTypeADR, models.StatusAwaitingDocumentation, 3, now.Add(10*time.Hour), 0, 0, missing),
		// due in 72 hours, incomplete: outside the window
		record("notif-72h", models.FileTypeADR, models.StatusAwaitingDocumentation, 3, now.Add(72*time.Hour), 0, 0, missing),
		// past due, incomplete: overdue, not at-risk
		record("notif-late", models.FileTypeADR, models.StatusAwaitingDocumentation, 3, now.Add(-12*time.Hour), 0, 0, missing),
	}

	report := Compute(records, now)

	assert.Equal(t, 1, report.TimelineMetrics.AtRiskReviews)
	assert.Equal(t, 1, report.TimelineMetrics.OverdueReviews)
}

func TestComputeDocumentStatistics(t *testing.T) {
	requestedAt := now.Add(-96 * time.Hour)
	receivedAt := now.Add(-48 * time.Hour)
	records := []models.ReviewRecord{
		record("notif-1", models.FileTypeADR, models.StatusPending, 3, now.Add(100*time.Hour), 0, 0,
			models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true, RequestedAt: requestedAt, ReceivedDate: &receivedAt},
			models.RequiredDocument{DocumentType: models.DocOperativeReport, Required: true, RequestedAt: requestedAt},
		),
		record("notif-2", models.FileTypeADR, models.StatusPending, 3, now.Add(100*time.Hour), 0, 0,
			models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true, RequestedAt: requestedAt},
		),
	}

	report := Compute(records, now)

	assert.Equal(t, []DocumentCount{
		{Type: string(models.DocProgressNote), Count: 2},
		{Type: string(models.DocOperativeReport), Count: 1},
	}, report.DocumentStatistics.MostRequested)

	assert.InDelta(t, 1.0/3.0, report.DocumentStatistics.CompletionRates.Overall, 1e-9)
	assert.InDelta(t, 0.5, report.DocumentStatistics.CompletionRates.ByType[string(models.DocProgressNote)], 1e-9)
	assert.Zero(t, report.DocumentStatistics.CompletionRates.ByType[string(models.DocOperativeReport)])
	// request to receipt: 48 hours
	assert.InDelta(t, 48.0, report.DocumentStatistics.AverageCompletionTime, 1e-9)

	// first response feeds the timeline average
	assert.InDelta(t, 48.0, report.TimelineMetrics.AverageTimeToFirstResponse, 1e-9)
}

func TestAggregateValidatesTimeRange(t *testing.T) {
	engine := NewEngine(mockrepo.New())

	_, err := engine.Aggregate(context.Background(), TimeRange("fortnight"), "")
	var validationErr *customErrors.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	// empty defaults to day
	report, err := engine.Aggregate(context.Background(), "", "")
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Overview.TotalReviews)
}
