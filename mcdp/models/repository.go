package models

import (
	"context"
	"time"
)

// SortField enumerates the listing sort keys exposed by the reviews API.
type SortField string

const (
	SortByRiskScore SortField = "risk_score"
	SortByDueDate   SortField = "due_date"
	SortByAmount    SortField = "amount"
)

func (f SortField) Valid() bool {
	return f == SortByRiskScore || f == SortByDueDate || f == SortByAmount
}

// ListFilter describes one page of the filtered, sorted reviews listing.
// Pagination counts apply to the post-filter result set. Ties on any sort are
// broken by notification_id ascending so pages are deterministic.
type ListFilter struct {
	Status        ReviewStatus
	FileType      FileType
	RiskThreshold int // minimum risk score; zero means unset

	ReceivedAfter  time.Time
	ReceivedBefore time.Time

	SortBy         SortField
	SortDescending bool

	Page     int // 1-indexed
	PageSize int

	// Now is the instant risk scores are evaluated at. Passing it in keeps
	// list results deterministic for a given clock reading.
	Now time.Time
}

// Repository is the contract for the correlation store: durable storage keyed
// by notificationId with the secondary indexes needed by the listing and
// analytics queries. Writes to a single notification's record are atomic when
// the repository is constructed over a transaction.
type Repository interface {
	notificationRepository
	patientRepository
	appealRepository
	auditRepository
	reviewRepository
}

type notificationRepository interface {
	// CreateNotification inserts the notification. It reports false, with no
	// error, when the notificationId already exists; concurrent ingestion of
	// the same id resolves deterministically to a single stored record.
	CreateNotification(ctx context.Context, n Notification) (created bool, err error)

	GetNotification(ctx context.Context, notificationID string) (*Notification, error)

	// UpdateNotificationStatus applies a forward status transition. The
	// caller is responsible for checking CanTransitionTo first.
	UpdateNotificationStatus(ctx context.Context, notificationID string, status ReviewStatus) error

	UpdateProcessingMetadata(ctx context.Context, notificationID string, md ProcessingMetadata) error
}

type patientRepository interface {
	// UpsertPatient resolves or creates the patient for the correlation key
	// (medicareId, claimNumber) and returns its id.
	UpsertPatient(ctx context.Context, medicareID, claimNumber string) (uint, error)

	GetPatient(ctx context.Context, patientID uint) (*Patient, error)

	CreateEncounter(ctx context.Context, e Encounter) error

	// CreateRequiredDocuments unions the provided documents into the
	// patient's requirement set. Existing entries are left untouched.
	CreateRequiredDocuments(ctx context.Context, docs []RequiredDocument) error

	MarkDocumentReceived(ctx context.Context, patientID uint, docType DocumentType, receivedAt time.Time) error
}

type appealRepository interface {
	CreateAppeal(ctx context.Context, a Appeal) error
	GetAppeal(ctx context.Context, notificationID string) (*Appeal, error)
	UpdateRecoveryStatus(ctx context.Context, notificationID string, status RecoveryStatus) error
}

type auditRepository interface {
	// CreateAuditEvents appends to the notification's trail. The trail is
	// append-only; no update or delete operation exists.
	CreateAuditEvents(ctx context.Context, events []AuditEvent) error

	GetAuditTrail(ctx context.Context, notificationID string) ([]AuditEvent, error)
}

type reviewRepository interface {
	GetReviewRecord(ctx context.Context, notificationID string) (*ReviewRecord, error)

	// ListReviewRecords returns one page of the filtered, sorted listing plus
	// the post-filter total row count.
	ListReviewRecords(ctx context.Context, filter ListFilter) ([]ReviewRecord, int, error)

	// GetReviewRecordsSince returns every record received at or after the
	// given instant, optionally restricted to one facility. Used by the
	// analytics engine.
	GetReviewRecordsSince(ctx context.Context, since time.Time, facilityNPI string) ([]ReviewRecord, error)
}
