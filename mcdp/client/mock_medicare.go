package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/crosbyhealth/mcdp-app/mcdp/ingest"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
)

var (
	mockFileTypes = []models.FileType{
		models.FileTypePrepaymentReview,
		models.FileTypePostpaymentReview,
		models.FileTypeADR,
		models.FileTypeAuditRequest,
	}
	mockStatuses = []models.ReviewStatus{
		models.StatusPending,
		models.StatusInProgress,
		models.StatusAwaitingDocumentation,
		models.StatusDocumentationReceived,
		models.StatusUnderReview,
		models.StatusCompleted,
		models.StatusDenied,
		models.StatusApproved,
	}
	mockDocumentTypes = []models.DocumentType{
		models.DocProgressNote,
		models.DocDischargeSummary,
		models.DocOperativeReport,
		models.DocConsultationNote,
		models.DocImagingReport,
		models.DocLabResult,
		models.DocBillingRecord,
	}
	mockDenialReasons = []models.DenialReason{
		models.DenialMedicalNecessity,
		models.DenialInsufficientDocumentation,
		models.DenialIncorrectCoding,
		models.DenialDuplicateClaim,
		models.DenialServiceNotCovered,
		models.DenialTimelyFiling,
	}
	mockRecoveryStatuses = []models.RecoveryStatus{
		models.RecoveryPending,
		models.RecoveryInProgress,
		models.RecoveryRecovered,
	}
)

// MockMedicareAPI produces deterministic notification payloads, seeded by a
// hash of the file id, so the same id always yields the same notification.
type MockMedicareAPI struct {
	// Now anchors the generated timestamps; defaults to the wall clock.
	Now func() time.Time
}

var _ MedicareAPI = &MockMedicareAPI{}

func (m *MockMedicareAPI) GetFileNotification(ctx context.Context, fileID string) (*ingest.FileNotification, error) {
	seed := hashString(fileID)

	notification := ingest.FileNotification{
		NotificationID:    "NOTIF-" + fileID,
		CorrelationID:     "CORR-" + fileID,
		ReceivedTimestamp: m.timestamp(seed),
		FileMetadata: ingest.FileMetadata{
			FileID:    fileID,
			FileName:  fmt.Sprintf("%s_%d_REVIEW.pdf", mockFileTypes[seed%len(mockFileTypes)], seed),
			FileType:  string(mockFileTypes[seed%len(mockFileTypes)]),
			MimeType:  "application/pdf",
			SizeBytes: int64(seededNumber(1000000, 10000000, seed)),
		},
		ReviewDetails: ingest.ReviewDetails{
			ReviewID:     "REV-" + fileID,
			Status:       string(mockStatuses[seed%len(mockStatuses)]),
			AssignedDate: m.timestamp(seed - 1),
			DueDate:      m.timestamp(seed + 30),
			Priority:     clampPriority(seededNumber(1, 5, seed)),
		},
		PatientInfo: ingest.PatientInfo{
			MedicareID:         fmt.Sprintf("MBI%09d", seed%1000000000),
			DateOfService:      m.timestamp(seed - 90),
			FacilityNPI:        fmt.Sprintf("1%09d", seed%1000000000),
			ClaimNumber:        fmt.Sprintf("CLM%011d", seed%100000000000),
			RequestedDocuments: m.requestedDocuments(seed),
		},
		DenialDetails: &ingest.DenialDetails{
			Reason:         string(mockDenialReasons[seed%len(mockDenialReasons)]),
			DenialDate:     m.timestamp(seed),
			AppealDeadline: m.timestamp(seed + 60),
			DeniedAmount:   seededNumber(1000, 50000, seed),
			RecoveryStatus: string(mockRecoveryStatuses[seed%len(mockRecoveryStatuses)]),
		},
		AuditTrail: m.auditTrail(seed),
	}
	return &notification, nil
}

func (m *MockMedicareAPI) GetFileNotificationBatch(ctx context.Context, page, pageSize int) (*BatchResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	startID := (page - 1) * pageSize
	notifications := make([]ingest.FileNotification, 0, pageSize)
	for i := 0; i < pageSize; i++ {
		notification, err := m.GetFileNotification(ctx, fmt.Sprintf("FILE-%d", startID+i))
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *notification)
	}

	return &BatchResponse{
		Notifications: notifications,
		Pagination: BatchPagination{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalPages:  50,
			TotalItems:  1000,
		},
		Metrics: BatchMetrics{
			AverageProcessingTime: seededNumber(24, 72, page),
			CompletionRate:        seededNumber(0.6, 0.95, page),
			DenialRate:            seededNumber(0.1, 0.3, page),
		},
	}, nil
}

func (m *MockMedicareAPI) requestedDocuments(seed int) []ingest.RequestedDocument {
	count := seed%3 + 1
	docs := make([]ingest.RequestedDocument, 0, count)
	for i := 0; i < count; i++ {
		received := m.timestamp(seed + i)
		docs = append(docs, ingest.RequestedDocument{
			DocumentType: string(mockDocumentTypes[(seed+i)%len(mockDocumentTypes)]),
			Required:     true,
			ReceivedDate: &received,
			Status:       string(mockStatuses[(seed+i)%len(mockStatuses)]),
		})
	}
	return docs
}

func (m *MockMedicareAPI) auditTrail(seed int) []ingest.AuditEntry {
	eventTypes := []models.AuditEventType{
		models.EventFileReceived,
		models.EventReviewStarted,
		models.EventDocumentationRequested,
		models.EventDocumentationReceived,
		models.EventReviewCompleted,
	}

	count := seed%5 + 3
	entries := make([]ingest.AuditEntry, 0, count)
	for i := 0; i < count; i++ {
		ts := m.timestamp(seed + i)
		entries = append(entries, ingest.AuditEntry{
			EventID:   fmt.Sprintf("EVENT-%d-%d", seed, i),
			Timestamp: ts,
			EventType: string(eventTypes[(seed+i)%len(eventTypes)]),
			UserID:    fmt.Sprintf("USER-%d", seed%100),
			Details:   fmt.Sprintf("Processed by system at %s", ts.Format(time.RFC3339)),
		})
	}
	return entries
}

// timestamp maps a seed onto a day within the trailing year.
func (m *MockMedicareAPI) timestamp(seed int) time.Time {
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}
	days := seed % 365
	if days < 0 {
		days += 365
	}
	return now.AddDate(0, 0, -days)
}

// hashString is a 32-bit string hash; the non-negative result seeds every
// generated field for a given file id.
func hashString(s string) int {
	var hash int32
	for _, c := range s {
		hash = hash<<5 - hash + int32(c)
	}
	if hash < 0 {
		hash = -hash
	}
	return int(hash)
}

func seededNumber(min, max float64, seed int) float64 {
	random := math.Abs(math.Sin(float64(seed)))*(max-min) + min
	return math.Round(random*100) / 100
}

func clampPriority(n float64) int {
	p := int(math.Round(n))
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}
