// Package service implements the review query operations exposed by the API:
// the filtered listing, the single-review detail, and document receipt.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crosbyhealth/mcdp-app/log"
	"github.com/crosbyhealth/mcdp-app/mcdp/constants"
	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
)

// apiActor is recorded on audit events the API writes.
const apiActor = "mcdp-api"

const maxPageSize = 100

type Service interface {
	ListReviews(ctx context.Context, params ListParams) (*ReviewList, error)
	GetReview(ctx context.Context, notificationID string) (*ReviewDetail, error)
	// MarkDocumentReceived records receipt of an outstanding requested
	// document, appends a DOCUMENTATION_RECEIVED audit event, and advances
	// the review status machine.
	MarkDocumentReceived(ctx context.Context, notificationID string, docType models.DocumentType) (*ReviewDetail, error)
}

type service struct {
	repository models.Repository
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewService(r models.Repository) Service {
	return &service{
		repository: r,
		logger:     log.API,
		now:        time.Now,
	}
}

// ListParams are the raw listing controls as supplied by the caller. Zero
// values mean "unset"; defaults are applied during validation.
type ListParams struct {
	Status        string
	ReviewType    string
	RiskThreshold int

	ReceivedAfter  time.Time
	ReceivedBefore time.Time

	SortBy         string
	SortDescending bool

	Page    int
	PerPage int
}

func (p ListParams) toFilter(now time.Time) (models.ListFilter, error) {
	filter := models.ListFilter{
		RiskThreshold:  p.RiskThreshold,
		ReceivedAfter:  p.ReceivedAfter,
		ReceivedBefore: p.ReceivedBefore,
		SortDescending: p.SortDescending,
		Page:           p.Page,
		PageSize:       p.PerPage,
		Now:            now,
	}

	if p.Status != "" {
		status, err := models.ParseReviewStatus(p.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if p.ReviewType != "" {
		fileType, err := models.ParseFileType(p.ReviewType)
		if err != nil {
			return filter, err
		}
		filter.FileType = fileType
	}
	if p.SortBy != "" {
		field := models.SortField(p.SortBy)
		if !field.Valid() {
			return filter, &customErrors.ValidationError{Msg: fmt.Sprintf("unknown sort field %q", p.SortBy)}
		}
		filter.SortBy = field
	}
	if p.RiskThreshold < 0 || p.RiskThreshold > 100 {
		return filter, &customErrors.ValidationError{Msg: fmt.Sprintf("risk threshold %d out of range 0-100", p.RiskThreshold)}
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = constants.DefaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	return filter, nil
}

func (s *service) ListReviews(ctx context.Context, params ListParams) (*ReviewList, error) {
	now := s.now()
	filter, err := params.toFilter(now)
	if err != nil {
		return nil, err
	}

	records, total, err := s.repository.ListReviewRecords(ctx, filter)
	if err != nil {
		return nil, err
	}

	reviews := make([]ReviewView, 0, len(records))
	for i := range records {
		reviews = append(reviews, newReviewView(&records[i], now))
	}

	return &ReviewList{
		Reviews: reviews,
		Meta: PageMeta{
			CurrentPage: filter.Page,
			TotalPages:  int(math.Ceil(float64(total) / float64(filter.PageSize))),
			TotalCount:  total,
			PerPage:     filter.PageSize,
		},
	}, nil
}

func (s *service) GetReview(ctx context.Context, notificationID string) (*ReviewDetail, error) {
	record, err := s.repository.GetReviewRecord(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	trail, err := s.repository.GetAuditTrail(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	detail := newReviewDetail(record, trail, s.now())
	return &detail, nil
}

func (s *service) MarkDocumentReceived(ctx context.Context, notificationID string, docType models.DocumentType) (*ReviewDetail, error) {
	if !docType.Valid() {
		return nil, &customErrors.ValidationError{Msg: fmt.Sprintf("unknown document type %q", docType)}
	}

	record, err := s.repository.GetReviewRecord(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	var outstanding bool
	for _, doc := range record.Patient.Documents {
		if doc.DocumentType == docType {
			if doc.Received() {
				return nil, &customErrors.ValidationError{
					Msg: fmt.Sprintf("document %s was already received for review %s", docType, notificationID),
				}
			}
			outstanding = true
			break
		}
	}
	if !outstanding {
		return nil, &customErrors.ValidationError{
			Msg: fmt.Sprintf("document %s was not requested for review %s", docType, notificationID),
		}
	}

	receivedAt := s.now()
	if err := s.repository.MarkDocumentReceived(ctx, record.Patient.ID, docType, receivedAt); err != nil {
		return nil, err
	}

	if err := s.repository.CreateAuditEvents(ctx, []models.AuditEvent{{
		EventID:        newEventID(),
		NotificationID: notificationID,
		Timestamp:      receivedAt,
		EventType:      models.EventDocumentationReceived,
		Actor:          apiActor,
		Details:        fmt.Sprintf("Received %s", docType),
	}}); err != nil {
		return nil, err
	}

	// Any receipt moves a waiting review forward; more requests can move it
	// back to AWAITING_DOCUMENTATION later.
	if record.Notification.Status.CanTransitionTo(models.StatusDocumentationReceived) {
		if err := s.repository.UpdateNotificationStatus(ctx, notificationID, models.StatusDocumentationReceived); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"notification_id": notificationID,
		"document_type":   docType,
	}).Info("document marked received")

	return s.GetReview(ctx, notificationID)
}
