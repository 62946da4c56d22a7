package ingest

import (
	"fmt"
	"time"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
)

// FileNotification is the payload shape Medicare delivers, one notification
// per call. Field names follow the upstream wire format.
type FileNotification struct {
	NotificationID    string    `json:"notificationId"`
	CorrelationID     string    `json:"correlationId"`
	ReceivedTimestamp time.Time `json:"receivedTimestamp"`

	FileMetadata  FileMetadata   `json:"fileMetadata"`
	ReviewDetails ReviewDetails  `json:"reviewDetails"`
	PatientInfo   PatientInfo    `json:"patientInfo"`
	DenialDetails *DenialDetails `json:"denialDetails,omitempty"`
	AuditTrail    []AuditEntry   `json:"auditTrail,omitempty"`
}

type FileMetadata struct {
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	FileType  string `json:"fileType"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type ReviewDetails struct {
	ReviewID     string    `json:"reviewId"`
	Status       string    `json:"status"`
	AssignedDate time.Time `json:"assignedDate"`
	DueDate      time.Time `json:"dueDate"`
	Priority     int       `json:"priority"`
}

type PatientInfo struct {
	MedicareID         string              `json:"medicareId"`
	DateOfService      time.Time           `json:"dateOfService"`
	FacilityNPI        string              `json:"facilityNPI"`
	ClaimNumber        string              `json:"claimNumber"`
	RequestedDocuments []RequestedDocument `json:"requestedDocuments"`
}

type RequestedDocument struct {
	DocumentType string     `json:"documentType"`
	Required     bool       `json:"required"`
	ReceivedDate *time.Time `json:"receivedDate,omitempty"`
	Status       string     `json:"status,omitempty"`
}

type DenialDetails struct {
	Reason         string    `json:"reason"`
	DenialDate     time.Time `json:"denialDate"`
	AppealDeadline time.Time `json:"appealDeadline"`
	DeniedAmount   float64   `json:"deniedAmount"`
	RecoveryStatus string    `json:"recoveryStatus"`
}

type AuditEntry struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
	UserID    string    `json:"userId"`
	Details   string    `json:"details"`
}

// Validate checks the payload before anything is persisted. All enum-carrying
// fields must hold known values; the closed sets are enforced here rather
// than accepting arbitrary strings into the store.
func (p *FileNotification) Validate() error {
	if p.NotificationID == "" {
		return &customErrors.ValidationError{Msg: "notificationId is required"}
	}
	if p.CorrelationID == "" {
		return &customErrors.ValidationError{Msg: "correlationId is required"}
	}
	if p.PatientInfo.MedicareID == "" {
		return &customErrors.ValidationError{Msg: "patientInfo.medicareId is required"}
	}
	if p.PatientInfo.ClaimNumber == "" {
		return &customErrors.ValidationError{Msg: "patientInfo.claimNumber is required"}
	}
	if _, err := models.ParseFileType(p.FileMetadata.FileType); err != nil {
		return err
	}
	if p.ReviewDetails.Status != "" {
		if _, err := models.ParseReviewStatus(p.ReviewDetails.Status); err != nil {
			return err
		}
	}
	if p.ReviewDetails.Priority < 1 || p.ReviewDetails.Priority > 5 {
		return &customErrors.ValidationError{Msg: fmt.Sprintf("priority %d out of range 1-5", p.ReviewDetails.Priority)}
	}
	for _, doc := range p.PatientInfo.RequestedDocuments {
		if _, err := models.ParseDocumentType(doc.DocumentType); err != nil {
			return err
		}
	}
	if p.DenialDetails != nil {
		if _, err := models.ParseDenialReason(p.DenialDetails.Reason); err != nil {
			return err
		}
		if rs := models.RecoveryStatus(p.DenialDetails.RecoveryStatus); p.DenialDetails.RecoveryStatus != "" && !rs.Valid() {
			return &customErrors.ValidationError{Msg: fmt.Sprintf("unknown recovery status %q", p.DenialDetails.RecoveryStatus)}
		}
	}
	for _, e := range p.AuditTrail {
		if !models.AuditEventType(e.EventType).Valid() {
			return &customErrors.ValidationError{Msg: fmt.Sprintf("unknown audit event type %q", e.EventType)}
		}
	}
	return nil
}

// status returns the stored review status for the payload, defaulting to
// PENDING when the source supplied none.
func (p *FileNotification) status() models.ReviewStatus {
	if p.ReviewDetails.Status == "" {
		return models.StatusPending
	}
	return models.ReviewStatus(p.ReviewDetails.Status)
}

func (p *FileNotification) documentStatus(doc RequestedDocument) models.ReviewStatus {
	if doc.Status == "" {
		return models.StatusPending
	}
	if s := models.ReviewStatus(doc.Status); s.Valid() {
		return s
	}
	return models.StatusPending
}
