package service

import (
	"time"

	"github.com/pborman/uuid"

	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/risk"
)

// ReviewList is one page of the reviews listing.
type ReviewList struct {
	Reviews []ReviewView `json:"data"`
	Meta    PageMeta     `json:"meta"`
}

type PageMeta struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
	PerPage     int `json:"per_page"`
}

// ReviewView is the listing projection of one review. Field names follow the
// upstream response contract.
type ReviewView struct {
	NotificationID  string          `json:"notificationId"`
	CorrelationInfo CorrelationInfo `json:"correlationInfo"`
	Status          StatusBlock     `json:"status"`
	Timeline        Timeline        `json:"timeline"`
	Financials      Financials      `json:"financials"`
}

type CorrelationInfo struct {
	PatientID   string `json:"patientId"`
	ClaimNumber string `json:"claimNumber"`
	FacilityID  string `json:"facilityId"`
	ReviewType  string `json:"reviewType"`
	Priority    int    `json:"priority"`
}

type StatusBlock struct {
	CurrentState     string   `json:"currentState"`
	IsComplete       bool     `json:"isComplete"`
	MissingDocuments []string `json:"missingDocuments"`
	RiskScore        int      `json:"riskScore"`
}

type Timeline struct {
	ReceivedAt     time.Time  `json:"receivedAt"`
	DueDate        time.Time  `json:"dueDate"`
	LastUpdated    time.Time  `json:"lastUpdated"`
	AppealDeadline *time.Time `json:"appealDeadline,omitempty"`
}

type Financials struct {
	AmountInDispute    float64 `json:"amountInDispute"`
	RecoveryLikelihood float64 `json:"recoveryLikelihood"`
}

// ReviewDetail extends the listing projection with per-document state and the
// audit trail.
type ReviewDetail struct {
	ReviewView
	Documents  DocumentBreakdown `json:"documents"`
	AuditTrail []AuditEntryView  `json:"auditTrail"`
}

type DocumentBreakdown struct {
	Required []RequiredDocView `json:"required"`
	Received []ReceivedDocView `json:"received"`
	Missing  []MissingDocView  `json:"missing"`
}

type RequiredDocView struct {
	Type    string    `json:"type"`
	Status  string    `json:"status"`
	DueDate time.Time `json:"dueDate"`
}

type ReceivedDocView struct {
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"receivedAt"`
	Status     string    `json:"status"`
}

type MissingDocView struct {
	Type        string    `json:"type"`
	RequestedAt time.Time `json:"requestedAt"`
	DaysOverdue int       `json:"daysOverdue"`
}

type AuditEntryView struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
}

func newReviewView(r *models.ReviewRecord, now time.Time) ReviewView {
	missing := r.MissingDocumentTypes()
	missingNames := make([]string, 0, len(missing))
	for _, t := range missing {
		missingNames = append(missingNames, string(t))
	}

	score := risk.ScoreRecord(r, now)

	var appealDeadline *time.Time
	if r.Appeal != nil {
		deadline := r.Appeal.Deadline
		appealDeadline = &deadline
	}

	return ReviewView{
		NotificationID: r.Notification.NotificationID,
		CorrelationInfo: CorrelationInfo{
			PatientID:   r.Patient.MedicareID,
			ClaimNumber: r.Patient.ClaimNumber,
			FacilityID:  latestFacility(r.Patient.Encounters),
			ReviewType:  string(r.Notification.FileType),
			Priority:    r.Notification.Priority,
		},
		Status: StatusBlock{
			CurrentState:     string(r.Notification.Status),
			IsComplete:       len(missing) == 0,
			MissingDocuments: missingNames,
			RiskScore:        score,
		},
		Timeline: Timeline{
			ReceivedAt:     r.Notification.ReceivedAt,
			DueDate:        r.Notification.DueDate,
			LastUpdated:    r.Notification.Metadata.LastProcessedAt,
			AppealDeadline: appealDeadline,
		},
		Financials: Financials{
			AmountInDispute:    r.DeniedAmount(),
			RecoveryLikelihood: risk.RecoveryLikelihood(score, len(missing) == 0),
		},
	}
}

func newReviewDetail(r *models.ReviewRecord, trail []models.AuditEvent, now time.Time) ReviewDetail {
	detail := ReviewDetail{
		ReviewView: newReviewView(r, now),
		Documents: DocumentBreakdown{
			Required: []RequiredDocView{},
			Received: []ReceivedDocView{},
			Missing:  []MissingDocView{},
		},
		AuditTrail: make([]AuditEntryView, 0, len(trail)),
	}

	for _, doc := range r.Patient.Documents {
		if doc.Required {
			detail.Documents.Required = append(detail.Documents.Required, RequiredDocView{
				Type:    string(doc.DocumentType),
				Status:  string(doc.Status),
				DueDate: r.Notification.DueDate,
			})
		}
		if doc.Received() {
			detail.Documents.Received = append(detail.Documents.Received, ReceivedDocView{
				Type:       string(doc.DocumentType),
				ReceivedAt: *doc.ReceivedDate,
				Status:     string(doc.Status),
			})
		} else if doc.Required {
			detail.Documents.Missing = append(detail.Documents.Missing, MissingDocView{
				Type:        string(doc.DocumentType),
				RequestedAt: doc.RequestedAt,
				DaysOverdue: daysOverdue(r.Notification.DueDate, now),
			})
		}
	}

	for _, e := range trail {
		detail.AuditTrail = append(detail.AuditTrail, AuditEntryView{
			Timestamp: e.Timestamp,
			Action:    string(e.EventType),
			Actor:     e.Actor,
			Details:   e.Details,
		})
	}
	return detail
}

// latestFacility returns the facility NPI from the most recent encounter.
func latestFacility(encounters []models.Encounter) string {
	var facility string
	var latest time.Time
	for _, e := range encounters {
		if facility == "" || e.DateOfService.After(latest) {
			facility = e.FacilityNPI
			latest = e.DateOfService
		}
	}
	return facility
}

func daysOverdue(dueDate, now time.Time) int {
	if !now.After(dueDate) {
		return 0
	}
	return int(now.Sub(dueDate).Hours() / 24)
}

func newEventID() string {
	return uuid.NewRandom().String()
}
