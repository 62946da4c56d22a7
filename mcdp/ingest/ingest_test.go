package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/models/mockrepo"
)

type IngestTestSuite struct {
	suite.Suite
	repo     *mockrepo.MockRepository
	importer *Importer
}

func (s *IngestTestSuite) SetupTest() {
	s.repo = mockrepo.New()
	s.importer = NewTestImporter(s.repo)
	s.importer.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
}

func TestIngestTestSuite(t *testing.T) {
	suite.Run(t, new(IngestTestSuite))
}

func testPayload() FileNotification {
	received := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	due := received.Add(14 * 24 * time.Hour)
	return FileNotification{
		NotificationID:    "notif-001",
		CorrelationID:     "corr-001",
		ReceivedTimestamp: received,
		FileMetadata: FileMetadata{
			FileID:    "file-001",
			FileName:  "adr_notif_001.pdf",
			FileType:  string(models.FileTypeADR),
			MimeType:  "application/pdf",
			SizeBytes: 48213,
		},
		ReviewDetails: ReviewDetails{
			ReviewID:     "rev-001",
			Status:       string(models.StatusAwaitingDocumentation),
			AssignedDate: received,
			DueDate:      due,
			Priority:     3,
		},
		PatientInfo: PatientInfo{
			MedicareID:    "1EG4-TE5-MK73",
			DateOfService: received.Add(-30 * 24 * time.Hour),
			FacilityNPI:   "1234567893",
			ClaimNumber:   "CLM-2024-0042",
			RequestedDocuments: []RequestedDocument{
				{DocumentType: string(models.DocProgressNote), Required: true},
				{DocumentType: string(models.DocBillingRecord), Required: true},
			},
		},
		AuditTrail: []AuditEntry{
			{EventID: "evt-2", Timestamp: received.Add(-time.Hour), EventType: string(models.EventDocumentationRequested), UserID: "reviewer-17", Details: "ADR issued"},
			{EventID: "evt-1", Timestamp: received.Add(-2 * time.Hour), EventType: string(models.EventReviewStarted), UserID: "reviewer-17", Details: "Review opened"},
		},
	}
}

func (s *IngestTestSuite) TestIngestCreatesRecord() {
	payload := testPayload()

	result, err := s.importer.Ingest(context.Background(), payload)
	assert.NoError(s.T(), err)
	assert.False(s.T(), result.Duplicate)
	assert.Equal(s.T(), "notif-001", result.NotificationID)
	assert.NotNil(s.T(), result.Record)

	n := s.repo.Notifications["notif-001"]
	if assert.NotNil(s.T(), n) {
		assert.Equal(s.T(), models.StatusAwaitingDocumentation, n.Status)
		assert.Equal(s.T(), models.ProcessingComplete, n.Metadata.ProcessingStatus)
		assert.False(s.T(), n.Metadata.RequiresUserAction)
	}

	patient := s.repo.Patients[n.PatientID]
	if assert.NotNil(s.T(), patient) {
		assert.Equal(s.T(), "1EG4-TE5-MK73", patient.MedicareID)
		assert.Len(s.T(), patient.Encounters, 1)
		assert.Len(s.T(), patient.Documents, 2)
	}

	trail := s.repo.Trails["notif-001"]
	if assert.Len(s.T(), trail, 3) {
		// upstream entries ordered by timestamp, pipeline entry appended last
		assert.Equal(s.T(), models.EventReviewStarted, trail[0].EventType)
		assert.Equal(s.T(), models.EventDocumentationRequested, trail[1].EventType)
		assert.Equal(s.T(), models.EventFileReceived, trail[2].EventType)
		assert.Equal(s.T(), ingestActor, trail[2].Actor)
		assert.False(s.T(), trail[2].Timestamp.Before(trail[1].Timestamp))
	}
}

func (s *IngestTestSuite) TestIngestCreatesAppealWithCompleteness() {
	payload := testPayload()
	now := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	receivedBilling := now.Add(-time.Hour)
	payload.PatientInfo.RequestedDocuments[1].ReceivedDate = &receivedBilling
	payload.DenialDetails = &DenialDetails{
		Reason:         string(models.DenialInsufficientDocumentation),
		DenialDate:     now,
		AppealDeadline: now.Add(30 * 24 * time.Hour),
		DeniedAmount:   12500.00,
	}

	_, err := s.importer.Ingest(context.Background(), payload)
	assert.NoError(s.T(), err)

	appeal := s.repo.Appeals["notif-001"]
	if assert.NotNil(s.T(), appeal) {
		assert.Equal(s.T(), models.DenialInsufficientDocumentation, appeal.DenialReason)
		assert.Equal(s.T(), models.RecoveryPending, appeal.RecoveryStatus)
		assert.Equal(s.T(), 12500.00, appeal.DeniedAmount)
		// billing record arrived, progress note is still outstanding
		assert.True(s.T(), appeal.HasBillingInfo)
		assert.False(s.T(), appeal.HasClinicalRecords)
		assert.Equal(s.T(), []models.DocumentType{models.DocProgressNote}, appeal.MissingDocumentTypes)
	}
}

func (s *IngestTestSuite) TestIngestDuplicateIsIgnored() {
	payload := testPayload()
	_, err := s.importer.Ingest(context.Background(), payload)
	assert.NoError(s.T(), err)

	// second delivery carries drifted details; stored record must not change
	replay := testPayload()
	replay.ReviewDetails.Priority = 5
	result, err := s.importer.Ingest(context.Background(), replay)
	assert.NoError(s.T(), err)
	assert.True(s.T(), result.Duplicate)
	assert.NotNil(s.T(), result.Record)

	assert.Equal(s.T(), 3, s.repo.Notifications["notif-001"].Priority)
	assert.Len(s.T(), s.repo.Trails["notif-001"], 3)
}

func (s *IngestTestSuite) TestIngestSharedPatientAcrossNotifications() {
	first := testPayload()
	_, err := s.importer.Ingest(context.Background(), first)
	assert.NoError(s.T(), err)

	second := testPayload()
	second.NotificationID = "notif-002"
	second.CorrelationID = "corr-002"
	second.PatientInfo.RequestedDocuments = []RequestedDocument{
		{DocumentType: string(models.DocProgressNote), Required: true},
		{DocumentType: string(models.DocLabResult), Required: true},
	}
	_, err = s.importer.Ingest(context.Background(), second)
	assert.NoError(s.T(), err)

	assert.Equal(s.T(), s.repo.Notifications["notif-001"].PatientID, s.repo.Notifications["notif-002"].PatientID)

	// document requirements union; PROGRESS_NOTE is not duplicated
	patient := s.repo.Patients[s.repo.Notifications["notif-001"].PatientID]
	assert.Len(s.T(), patient.Documents, 3)
	assert.Len(s.T(), patient.Encounters, 2)
}

func (s *IngestTestSuite) TestIngestValidation() {
	tests := []struct {
		name   string
		mutate func(*FileNotification)
	}{
		{"missing notificationId", func(p *FileNotification) { p.NotificationID = "" }},
		{"missing correlationId", func(p *FileNotification) { p.CorrelationID = "" }},
		{"missing medicareId", func(p *FileNotification) { p.PatientInfo.MedicareID = "" }},
		{"missing claimNumber", func(p *FileNotification) { p.PatientInfo.ClaimNumber = "" }},
		{"unknown file type", func(p *FileNotification) { p.FileMetadata.FileType = "FAX" }},
		{"priority out of range", func(p *FileNotification) { p.ReviewDetails.Priority = 9 }},
		{"unknown document type", func(p *FileNotification) {
			p.PatientInfo.RequestedDocuments[0].DocumentType = "NAPKIN_SKETCH"
		}},
		{"unknown audit event type", func(p *FileNotification) { p.AuditTrail[0].EventType = "FILE_SHREDDED" }},
	}

	for _, tt := range tests {
		s.T().Run(tt.name, func(t *testing.T) {
			payload := testPayload()
			tt.mutate(&payload)
			_, err := s.importer.Ingest(context.Background(), payload)
			var validationErr *customErrors.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	// nothing may be written on a validation failure
	assert.Empty(s.T(), s.repo.Notifications)
	assert.Empty(s.T(), s.repo.Patients)
}

func (s *IngestTestSuite) TestIngestRetriesTransientStorageFailure() {
	s.repo.FailNext = 1

	result, err := s.importer.Ingest(context.Background(), testPayload())
	assert.NoError(s.T(), err)
	assert.False(s.T(), result.Duplicate)
	assert.NotNil(s.T(), s.repo.Notifications["notif-001"])
}

func (s *IngestTestSuite) TestIngestExhaustedRetriesWritesErrorStub() {
	// four attempts fail, then the failure stub writes succeed
	s.repo.FailNext = 4

	_, err := s.importer.Ingest(context.Background(), testPayload())
	var storageErr *customErrors.StorageError
	assert.ErrorAs(s.T(), err, &storageErr)

	n := s.repo.Notifications["notif-001"]
	if assert.NotNil(s.T(), n) {
		assert.Equal(s.T(), models.ProcessingError, n.Metadata.ProcessingStatus)
		assert.True(s.T(), n.Metadata.RequiresUserAction)
		assert.NotEmpty(s.T(), n.Metadata.UserActionDetails)
	}
}

func (s *IngestTestSuite) TestIngestTimeout() {
	s.importer.timeout = time.Nanosecond
	s.repo.FailNext = 100

	_, err := s.importer.Ingest(context.Background(), testPayload())
	var timeoutErr *customErrors.TimeoutError
	assert.ErrorAs(s.T(), err, &timeoutErr)
}
