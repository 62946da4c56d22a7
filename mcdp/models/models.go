package models

import (
	"fmt"
	"time"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
)

// FileType identifies the kind of review a Medicare file notification opens.
type FileType string

const (
	FileTypePrepaymentReview  FileType = "PREPAYMENT_REVIEW"
	FileTypePostpaymentReview FileType = "POSTPAYMENT_REVIEW"
	FileTypeADR               FileType = "ADDITIONAL_DOCUMENTATION_REQUEST"
	FileTypeAuditRequest      FileType = "AUDIT_REQUEST"
)

var fileTypes = map[FileType]struct{}{
	FileTypePrepaymentReview:  {},
	FileTypePostpaymentReview: {},
	FileTypeADR:               {},
	FileTypeAuditRequest:      {},
}

func (t FileType) Valid() bool {
	_, ok := fileTypes[t]
	return ok
}

func ParseFileType(s string) (FileType, error) {
	t := FileType(s)
	if !t.Valid() {
		return "", &customErrors.ValidationError{Msg: fmt.Sprintf("unknown file type %q", s)}
	}
	return t, nil
}

// ReviewStatus tracks a notification through the review state machine.
type ReviewStatus string

const (
	StatusPending               ReviewStatus = "PENDING"
	StatusInProgress            ReviewStatus = "IN_PROGRESS"
	StatusAwaitingDocumentation ReviewStatus = "AWAITING_DOCUMENTATION"
	StatusDocumentationReceived ReviewStatus = "DOCUMENTATION_RECEIVED"
	StatusUnderReview           ReviewStatus = "UNDER_REVIEW"
	StatusCompleted             ReviewStatus = "COMPLETED"
	StatusDenied                ReviewStatus = "DENIED"
	StatusApproved              ReviewStatus = "APPROVED"
)

// reviewTransitions is the forward-only state machine:
// PENDING -> IN_PROGRESS -> AWAITING_DOCUMENTATION <-> DOCUMENTATION_RECEIVED
// -> UNDER_REVIEW -> {COMPLETED | APPROVED | DENIED}.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	StatusPending:               {StatusInProgress, StatusAwaitingDocumentation},
	StatusInProgress:            {StatusAwaitingDocumentation, StatusUnderReview},
	StatusAwaitingDocumentation: {StatusDocumentationReceived},
	StatusDocumentationReceived: {StatusAwaitingDocumentation, StatusUnderReview},
	StatusUnderReview:           {StatusCompleted, StatusApproved, StatusDenied},
	StatusCompleted:             {},
	StatusApproved:              {},
	StatusDenied:                {},
}

func (s ReviewStatus) Valid() bool {
	_, ok := reviewTransitions[s]
	return ok
}

func (s ReviewStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusApproved || s == StatusDenied
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Statuses never move backwards except the documentation
// request/receipt exchange.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseReviewStatus(s string) (ReviewStatus, error) {
	rs := ReviewStatus(s)
	if !rs.Valid() {
		return "", &customErrors.ValidationError{Msg: fmt.Sprintf("unknown review status %q", s)}
	}
	return rs, nil
}

// DocumentType is the closed set of clinical document kinds Medicare requests.
type DocumentType string

const (
	DocProgressNote     DocumentType = "PROGRESS_NOTE"
	DocDischargeSummary DocumentType = "DISCHARGE_SUMMARY"
	DocOperativeReport  DocumentType = "OPERATIVE_REPORT"
	DocConsultationNote DocumentType = "CONSULTATION_NOTE"
	DocImagingReport    DocumentType = "IMAGING_REPORT"
	DocLabResult        DocumentType = "LAB_RESULT"
	DocBillingRecord    DocumentType = "BILLING_RECORD"
)

var documentTypes = map[DocumentType]struct{}{
	DocProgressNote:     {},
	DocDischargeSummary: {},
	DocOperativeReport:  {},
	DocConsultationNote: {},
	DocImagingReport:    {},
	DocLabResult:        {},
	DocBillingRecord:    {},
}

func (t DocumentType) Valid() bool {
	_, ok := documentTypes[t]
	return ok
}

// Clinical reports whether the document type carries clinical (vs billing)
// content; used for the appeal completeness snapshot.
func (t DocumentType) Clinical() bool {
	return t.Valid() && t != DocBillingRecord
}

func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(s)
	if !t.Valid() {
		return "", &customErrors.ValidationError{Msg: fmt.Sprintf("unknown document type %q", s)}
	}
	return t, nil
}

// DenialReason is the closed set of Medicare denial codes.
type DenialReason string

const (
	DenialMedicalNecessity          DenialReason = "MEDICAL_NECESSITY_NOT_ESTABLISHED"
	DenialInsufficientDocumentation DenialReason = "INSUFFICIENT_DOCUMENTATION"
	DenialIncorrectCoding           DenialReason = "INCORRECT_CODING"
	DenialDuplicateClaim            DenialReason = "DUPLICATE_CLAIM"
	DenialServiceNotCovered         DenialReason = "SERVICE_NOT_COVERED"
	DenialTimelyFiling              DenialReason = "TIMELY_FILING"
)

var denialReasons = map[DenialReason]struct{}{
	DenialMedicalNecessity:          {},
	DenialInsufficientDocumentation: {},
	DenialIncorrectCoding:           {},
	DenialDuplicateClaim:            {},
	DenialServiceNotCovered:         {},
	DenialTimelyFiling:              {},
}

func (r DenialReason) Valid() bool {
	_, ok := denialReasons[r]
	return ok
}

func ParseDenialReason(s string) (DenialReason, error) {
	r := DenialReason(s)
	if !r.Valid() {
		return "", &customErrors.ValidationError{Msg: fmt.Sprintf("unknown denial reason %q", s)}
	}
	return r, nil
}

// RecoveryStatus tracks an appeal after a denial.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "PENDING"
	RecoveryInProgress RecoveryStatus = "IN_PROGRESS"
	RecoveryRecovered  RecoveryStatus = "RECOVERED"
)

func (s RecoveryStatus) Valid() bool {
	return s == RecoveryPending || s == RecoveryInProgress || s == RecoveryRecovered
}

// ProcessingStatus is the per-notification operational state.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingInProgress ProcessingStatus = "PROCESSING"
	ProcessingComplete   ProcessingStatus = "COMPLETE"
	ProcessingError      ProcessingStatus = "ERROR"
)

// AuditEventType labels entries in a notification's audit trail.
type AuditEventType string

const (
	EventFileReceived           AuditEventType = "FILE_RECEIVED"
	EventReviewStarted          AuditEventType = "REVIEW_STARTED"
	EventDocumentationRequested AuditEventType = "DOCUMENTATION_REQUESTED"
	EventDocumentationReceived  AuditEventType = "DOCUMENTATION_RECEIVED"
	EventReviewCompleted        AuditEventType = "REVIEW_COMPLETED"
)

var auditEventTypes = map[AuditEventType]struct{}{
	EventFileReceived:           {},
	EventReviewStarted:          {},
	EventDocumentationRequested: {},
	EventDocumentationReceived:  {},
	EventReviewCompleted:        {},
}

func (t AuditEventType) Valid() bool {
	_, ok := auditEventTypes[t]
	return ok
}

// Patient is the claim/patient context notifications correlate under. The
// correlation key is (MedicareID, ClaimNumber); patients are created on first
// sight and never deleted.
type Patient struct {
	ID          uint
	MedicareID  string
	ClaimNumber string
	CreatedAt   time.Time

	Encounters []Encounter
	Documents  []RequiredDocument
}

type Encounter struct {
	ID            uint
	PatientID     uint
	DateOfService time.Time
	FacilityNPI   string
	ClaimNumber   string
}

// RequiredDocument is one document Medicare has requested for the patient's
// claim context. Entries are unioned across notifications, never replaced.
type RequiredDocument struct {
	ID           uint
	PatientID    uint
	DocumentType DocumentType
	Required     bool
	RequestedAt  time.Time
	ReceivedDate *time.Time
	Status       ReviewStatus
}

func (d RequiredDocument) Received() bool {
	return d.ReceivedDate != nil
}

// Notification is one file notification event received from Medicare.
// Immutable once created except Status and the processing metadata.
type Notification struct {
	NotificationID string
	CorrelationID  string
	PatientID      uint
	FileName       string
	SizeBytes      int64
	FileType       FileType
	Priority       int
	Status         ReviewStatus
	ReceivedAt     time.Time
	AssignedDate   time.Time
	DueDate        time.Time

	Metadata ProcessingMetadata
}

// ProcessingMetadata is stored alongside the notification record.
type ProcessingMetadata struct {
	ProcessingStatus   ProcessingStatus
	LastProcessedAt    time.Time
	RequiresUserAction bool
	UserActionDetails  string
}

// Appeal exists one-to-one with a notification whose outcome was a denial.
// Terminal once RecoveryStatus is RECOVERED or the deadline passes unactioned.
type Appeal struct {
	ID             uint
	NotificationID string
	Deadline       time.Time
	DenialDate     time.Time
	DenialReason   DenialReason
	DeniedAmount   float64
	RecoveryStatus RecoveryStatus

	// Completeness snapshot, recomputed from stored documents on read.
	HasClinicalRecords   bool
	HasBillingInfo       bool
	MissingDocumentTypes []DocumentType
}

// AuditEvent is an append-only log entry attached to a notification. Entries
// are only ever superseded by newer ones, never rewritten.
type AuditEvent struct {
	EventID        string
	NotificationID string
	Timestamp      time.Time
	EventType      AuditEventType
	Actor          string
	Details        string
}

// ReviewRecord is the stored state for one notification: the notification
// plus its correlated patient, documents, and appeal. Derived fields (risk
// score, completeness) are computed from it on read, never persisted.
type ReviewRecord struct {
	Notification Notification
	Patient      Patient
	Appeal       *Appeal
}

// MissingDocumentTypes returns required document types with no receivedDate,
// in stored order. This is the only way a missing-document set is produced;
// it is never hand-set.
func (r *ReviewRecord) MissingDocumentTypes() []DocumentType {
	missing := []DocumentType{}
	for _, doc := range r.Patient.Documents {
		if doc.Required && !doc.Received() {
			missing = append(missing, doc.DocumentType)
		}
	}
	return missing
}

func (r *ReviewRecord) IsComplete() bool {
	return len(r.MissingDocumentTypes()) == 0
}

// DeniedAmount returns the amount in dispute, zero when no appeal exists.
func (r *ReviewRecord) DeniedAmount() float64 {
	if r.Appeal == nil {
		return 0
	}
	return r.Appeal.DeniedAmount
}
