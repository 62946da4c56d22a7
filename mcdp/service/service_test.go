package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/crosbyhealth/mcdp-app/log"
	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/models/mockrepo"
)

type ServiceTestSuite struct {
	suite.Suite
	repo *mockrepo.MockRepository
	svc  *service
	now  time.Time
}

func (s *ServiceTestSuite) SetupTest() {
	s.repo = mockrepo.New()
	s.now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	s.svc = &service{
		repository: s.repo,
		logger:     log.API,
		now:        func() time.Time { return s.now },
	}
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

// seedReview stores a notification through repository operations, the same
// path ingestion uses.
func (s *ServiceTestSuite) seedReview(id string, priority int, due time.Time, status models.ReviewStatus, deniedAmount float64, docs ...models.RequiredDocument) {
	ctx := context.Background()
	patientID, err := s.repo.UpsertPatient(ctx, "MBI-"+id, "CLM-"+id)
	assert.NoError(s.T(), err)

	created, err := s.repo.CreateNotification(ctx, models.Notification{
		NotificationID: id,
		CorrelationID:  "corr-" + id,
		PatientID:      patientID,
		FileName:       id + ".pdf",
		FileType:       models.FileTypeADR,
		Priority:       priority,
		Status:         status,
		ReceivedAt:     s.now.Add(-48 * time.Hour),
		AssignedDate:   s.now.Add(-48 * time.Hour),
		DueDate:        due,
		Metadata: models.ProcessingMetadata{
			ProcessingStatus: models.ProcessingComplete,
			LastProcessedAt:  s.now.Add(-47 * time.Hour),
		},
	})
	assert.NoError(s.T(), err)
	assert.True(s.T(), created)

	assert.NoError(s.T(), s.repo.CreateEncounter(ctx, models.Encounter{
		PatientID:     patientID,
		DateOfService: s.now.Add(-30 * 24 * time.Hour),
		FacilityNPI:   "1234567893",
		ClaimNumber:   "CLM-" + id,
	}))

	for i := range docs {
		docs[i].PatientID = patientID
		docs[i].RequestedAt = s.now.Add(-48 * time.Hour)
		if docs[i].Status == "" {
			docs[i].Status = models.StatusPending
		}
	}
	if len(docs) > 0 {
		assert.NoError(s.T(), s.repo.CreateRequiredDocuments(ctx, docs))
	}

	if deniedAmount > 0 {
		assert.NoError(s.T(), s.repo.CreateAppeal(ctx, models.Appeal{
			NotificationID: id,
			Deadline:       due.Add(30 * 24 * time.Hour),
			DenialDate:     s.now.Add(-24 * time.Hour),
			DenialReason:   models.DenialInsufficientDocumentation,
			DeniedAmount:   deniedAmount,
			RecoveryStatus: models.RecoveryPending,
		}))
	}
}

func (s *ServiceTestSuite) TestListReviewsPagination() {
	for i := 1; i <= 25; i++ {
		s.seedReview(fmt.Sprintf("notif-%03d", i), 3, s.now.Add(72*time.Hour), models.StatusPending, 0)
	}

	list, err := s.svc.ListReviews(context.Background(), ListParams{Page: 2, PerPage: 10})
	assert.NoError(s.T(), err)
	assert.Len(s.T(), list.Reviews, 10)
	assert.Equal(s.T(), PageMeta{CurrentPage: 2, TotalPages: 3, TotalCount: 25, PerPage: 10}, list.Meta)

	// past the last page: empty data, correct totals
	list, err = s.svc.ListReviews(context.Background(), ListParams{Page: 4, PerPage: 10})
	assert.NoError(s.T(), err)
	assert.Empty(s.T(), list.Reviews)
	assert.Equal(s.T(), 25, list.Meta.TotalCount)
}

func (s *ServiceTestSuite) TestListReviewsSortStability() {
	// identical risk inputs; order must fall back to notification id
	for _, id := range []string{"notif-c", "notif-a", "notif-b"} {
		s.seedReview(id, 3, s.now.Add(72*time.Hour), models.StatusPending, 0)
	}

	list, err := s.svc.ListReviews(context.Background(), ListParams{SortBy: "risk_score", SortDescending: true})
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), "notif-a", list.Reviews[0].NotificationID)
	assert.Equal(s.T(), "notif-b", list.Reviews[1].NotificationID)
	assert.Equal(s.T(), "notif-c", list.Reviews[2].NotificationID)
}

func (s *ServiceTestSuite) TestListReviewsFilters() {
	s.seedReview("notif-low", 1, s.now.Add(400*time.Hour), models.StatusPending, 0)
	s.seedReview("notif-high", 5, s.now.Add(-time.Hour), models.StatusAwaitingDocumentation, 50000)

	list, err := s.svc.ListReviews(context.Background(), ListParams{RiskThreshold: 75})
	assert.NoError(s.T(), err)
	if assert.Len(s.T(), list.Reviews, 1) {
		assert.Equal(s.T(), "notif-high", list.Reviews[0].NotificationID)
		assert.GreaterOrEqual(s.T(), list.Reviews[0].Status.RiskScore, 75)
	}

	list, err = s.svc.ListReviews(context.Background(), ListParams{Status: "AWAITING_DOCUMENTATION"})
	assert.NoError(s.T(), err)
	assert.Len(s.T(), list.Reviews, 1)

	_, err = s.svc.ListReviews(context.Background(), ListParams{Status: "SHREDDED"})
	var validationErr *customErrors.ValidationError
	assert.ErrorAs(s.T(), err, &validationErr)

	_, err = s.svc.ListReviews(context.Background(), ListParams{SortBy: "shoe_size"})
	assert.ErrorAs(s.T(), err, &validationErr)
}

func (s *ServiceTestSuite) TestGetReviewDetail() {
	received := s.now.Add(-24 * time.Hour)
	s.seedReview("notif-001", 4, s.now.Add(-72*time.Hour), models.StatusAwaitingDocumentation, 25000,
		models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true},
		models.RequiredDocument{DocumentType: models.DocBillingRecord, Required: true, ReceivedDate: &received, Status: models.StatusDocumentationReceived},
	)

	detail, err := s.svc.GetReview(context.Background(), "notif-001")
	assert.NoError(s.T(), err)

	assert.Equal(s.T(), "MBI-notif-001", detail.CorrelationInfo.PatientID)
	assert.Equal(s.T(), "1234567893", detail.CorrelationInfo.FacilityID)
	assert.False(s.T(), detail.Status.IsComplete)
	assert.Equal(s.T(), []string{string(models.DocProgressNote)}, detail.Status.MissingDocuments)
	assert.Equal(s.T(), 25000.0, detail.Financials.AmountInDispute)
	assert.NotNil(s.T(), detail.Timeline.AppealDeadline)

	assert.Len(s.T(), detail.Documents.Required, 2)
	if assert.Len(s.T(), detail.Documents.Received, 1) {
		assert.Equal(s.T(), string(models.DocBillingRecord), detail.Documents.Received[0].Type)
	}
	if assert.Len(s.T(), detail.Documents.Missing, 1) {
		assert.Equal(s.T(), string(models.DocProgressNote), detail.Documents.Missing[0].Type)
		// due 72h ago
		assert.Equal(s.T(), 3, detail.Documents.Missing[0].DaysOverdue)
	}
}

func (s *ServiceTestSuite) TestGetReviewNotFound() {
	_, err := s.svc.GetReview(context.Background(), "notif-missing")
	var notFoundErr *customErrors.NotificationNotFoundError
	assert.ErrorAs(s.T(), err, &notFoundErr)
}

func (s *ServiceTestSuite) TestMarkDocumentReceived() {
	s.seedReview("notif-001", 3, s.now.Add(72*time.Hour), models.StatusAwaitingDocumentation, 0,
		models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true},
	)

	detail, err := s.svc.MarkDocumentReceived(context.Background(), "notif-001", models.DocProgressNote)
	assert.NoError(s.T(), err)

	assert.True(s.T(), detail.Status.IsComplete)
	assert.Equal(s.T(), string(models.StatusDocumentationReceived), detail.Status.CurrentState)
	assert.Len(s.T(), detail.Documents.Received, 1)
	assert.Empty(s.T(), detail.Documents.Missing)

	if assert.Len(s.T(), detail.AuditTrail, 1) {
		assert.Equal(s.T(), string(models.EventDocumentationReceived), detail.AuditTrail[0].Action)
		assert.Equal(s.T(), apiActor, detail.AuditTrail[0].Actor)
	}

	// second receipt of the same document is rejected
	_, err = s.svc.MarkDocumentReceived(context.Background(), "notif-001", models.DocProgressNote)
	var validationErr *customErrors.ValidationError
	assert.ErrorAs(s.T(), err, &validationErr)
}

func (s *ServiceTestSuite) TestMarkDocumentReceivedValidation() {
	s.seedReview("notif-001", 3, s.now.Add(72*time.Hour), models.StatusPending, 0,
		models.RequiredDocument{DocumentType: models.DocProgressNote, Required: true},
	)

	var validationErr *customErrors.ValidationError
	_, err := s.svc.MarkDocumentReceived(context.Background(), "notif-001", models.DocumentType("NAPKIN_SKETCH"))
	assert.ErrorAs(s.T(), err, &validationErr)

	_, err = s.svc.MarkDocumentReceived(context.Background(), "notif-001", models.DocLabResult)
	assert.ErrorAs(s.T(), err, &validationErr)

	var notFoundErr *customErrors.NotificationNotFoundError
	_, err = s.svc.MarkDocumentReceived(context.Background(), "notif-404", models.DocProgressNote)
	assert.ErrorAs(s.T(), err, &notFoundErr)
}
