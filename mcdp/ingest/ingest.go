package ingest

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crosbyhealth/mcdp-app/conf"
	"github.com/crosbyhealth/mcdp-app/log"
	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/models/postgres"
	"github.com/crosbyhealth/mcdp-app/mcdp/risk"
)

// ingestActor is the actor recorded on audit events the pipeline itself writes.
const ingestActor = "mcdp-ingest"

// TxRunner executes fn against a repository inside one atomic unit of work.
// Every write fn performs is committed together or not at all.
type TxRunner func(ctx context.Context, fn func(r models.Repository) error) error

// Result reports the outcome of ingesting one notification.
type Result struct {
	NotificationID string
	Duplicate      bool
	Record         *models.ReviewRecord
}

// Importer drives one notification payload through validation, correlation,
// and persistence.
type Importer struct {
	runTx      TxRunner
	repository models.Repository
	logger     logrus.FieldLogger
	timeout    time.Duration
	maxRetries uint64
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

type importerConfig struct {
	TimeoutSeconds int `conf:"MCDP_INGEST_TIMEOUT_SECONDS" conf_default:"30"`
	MaxRetries     int `conf:"MCDP_INGEST_MAX_RETRIES" conf_default:"3"`
}

// NewImporter builds an Importer over a live database connection.
func NewImporter(db *sql.DB) *Importer {
	var cfg importerConfig
	if err := conf.Checkout(&cfg); err != nil {
		log.Ingest.Warnf("could not load ingest configuration, using defaults: %s", err)
		cfg = importerConfig{TimeoutSeconds: 30, MaxRetries: 3}
	}

	runner := func(ctx context.Context, fn func(r models.Repository) error) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return &customErrors.StorageError{Err: err, Op: "begin ingest transaction"}
		}
		if err := fn(postgres.NewRepositoryTx(tx)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Ingest.Errorf("rollback failed: %s", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return &customErrors.StorageError{Err: err, Op: "commit ingest transaction"}
		}
		return nil
	}

	return &Importer{
		runTx:      runner,
		repository: postgres.NewRepository(db),
		logger:     log.Ingest,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxRetries: uint64(cfg.MaxRetries),
		now:        time.Now,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// NewTestImporter builds an Importer whose "transactions" run directly against
// the given repository. Atomicity is the repository's problem in this mode.
func NewTestImporter(r models.Repository) *Importer {
	return &Importer{
		runTx: func(ctx context.Context, fn func(r models.Repository) error) error {
			return fn(r)
		},
		repository: r,
		logger:     log.Ingest,
		timeout:    30 * time.Second,
		maxRetries: 3,
		now:        time.Now,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Ingest processes one notification payload. Validation failures are returned
// immediately; storage failures are retried with exponential backoff before
// giving up. On permanent failure a stub record is written, best effort, so
// the failed notification is visible to operators rather than silently lost.
func (im *Importer) Ingest(ctx context.Context, payload FileNotification) (Result, error) {
	if err := payload.Validate(); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, im.timeout)
	defer cancel()

	var res Result
	operation := func() error {
		r, err := im.ingestOnce(ctx, payload)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			im.logger.WithField("notification_id", payload.NotificationID).
				Warnf("ingest attempt failed, will retry: %s", err)
			return err
		}
		res = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(im.newBackOff(), im.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &customErrors.TimeoutError{Err: err, NotificationID: payload.NotificationID}
		}
		im.recordFailure(payload, err)
		return Result{}, err
	}

	if res.Duplicate {
		im.logger.WithField("notification_id", res.NotificationID).Info("duplicate notification ignored")
	} else {
		im.logger.WithField("notification_id", res.NotificationID).Info("notification ingested")
	}
	return res, nil
}

// ingestOnce runs the full correlation flow inside one transaction.
func (im *Importer) ingestOnce(ctx context.Context, payload FileNotification) (Result, error) {
	var res Result
	err := im.runTx(ctx, func(r models.Repository) error {
		patientID, err := r.UpsertPatient(ctx, payload.PatientInfo.MedicareID, payload.PatientInfo.ClaimNumber)
		if err != nil {
			return err
		}

		now := im.now()
		created, err := r.CreateNotification(ctx, models.Notification{
			NotificationID: payload.NotificationID,
			CorrelationID:  payload.CorrelationID,
			PatientID:      patientID,
			FileName:       payload.FileMetadata.FileName,
			SizeBytes:      payload.FileMetadata.SizeBytes,
			FileType:       models.FileType(payload.FileMetadata.FileType),
			Priority:       payload.ReviewDetails.Priority,
			Status:         payload.status(),
			ReceivedAt:     payload.ReceivedTimestamp,
			AssignedDate:   payload.ReviewDetails.AssignedDate,
			DueDate:        payload.ReviewDetails.DueDate,
			Metadata: models.ProcessingMetadata{
				ProcessingStatus: models.ProcessingInProgress,
				LastProcessedAt:  now,
			},
		})
		if err != nil {
			return err
		}
		if !created {
			existing, err := r.GetReviewRecord(ctx, payload.NotificationID)
			if err != nil {
				return err
			}
			res = Result{NotificationID: payload.NotificationID, Duplicate: true, Record: existing}
			return nil
		}

		if err := r.CreateEncounter(ctx, models.Encounter{
			PatientID:     patientID,
			DateOfService: payload.PatientInfo.DateOfService,
			FacilityNPI:   payload.PatientInfo.FacilityNPI,
			ClaimNumber:   payload.PatientInfo.ClaimNumber,
		}); err != nil {
			return err
		}

		docs := make([]models.RequiredDocument, 0, len(payload.PatientInfo.RequestedDocuments))
		for _, d := range payload.PatientInfo.RequestedDocuments {
			docs = append(docs, models.RequiredDocument{
				PatientID:    patientID,
				DocumentType: models.DocumentType(d.DocumentType),
				Required:     d.Required,
				RequestedAt:  payload.ReceivedTimestamp,
				ReceivedDate: d.ReceivedDate,
				Status:       payload.documentStatus(d),
			})
		}
		if len(docs) > 0 {
			if err := r.CreateRequiredDocuments(ctx, docs); err != nil {
				return err
			}
		}

		if payload.DenialDetails != nil {
			if err := im.createAppeal(ctx, r, payload, patientID); err != nil {
				return err
			}
		}

		if err := r.CreateAuditEvents(ctx, im.auditEvents(payload, now)); err != nil {
			return err
		}

		if err := r.UpdateProcessingMetadata(ctx, payload.NotificationID, models.ProcessingMetadata{
			ProcessingStatus: models.ProcessingComplete,
			LastProcessedAt:  im.now(),
		}); err != nil {
			return err
		}

		record, err := r.GetReviewRecord(ctx, payload.NotificationID)
		if err != nil {
			return err
		}
		res = Result{NotificationID: payload.NotificationID, Record: record}
		return nil
	})
	return res, err
}

func (im *Importer) createAppeal(ctx context.Context, r models.Repository, payload FileNotification, patientID uint) error {
	patient, err := r.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	completeness := risk.CompletenessFor(patient.Documents)

	recoveryStatus := models.RecoveryStatus(payload.DenialDetails.RecoveryStatus)
	if payload.DenialDetails.RecoveryStatus == "" {
		recoveryStatus = models.RecoveryPending
	}
	return r.CreateAppeal(ctx, models.Appeal{
		NotificationID:       payload.NotificationID,
		Deadline:             payload.DenialDetails.AppealDeadline,
		DenialDate:           payload.DenialDetails.DenialDate,
		DenialReason:         models.DenialReason(payload.DenialDetails.Reason),
		DeniedAmount:         payload.DenialDetails.DeniedAmount,
		RecoveryStatus:       recoveryStatus,
		HasClinicalRecords:   completeness.HasClinicalRecords,
		HasBillingInfo:       completeness.HasBillingInfo,
		MissingDocumentTypes: completeness.MissingDocumentTypes,
	})
}

// auditEvents converts the upstream trail, ordered by timestamp, and appends
// the pipeline's own FILE_RECEIVED entry. The appended entry never moves
// backward in time relative to the trail it follows.
func (im *Importer) auditEvents(payload FileNotification, now time.Time) []models.AuditEvent {
	events := make([]models.AuditEvent, 0, len(payload.AuditTrail)+1)
	for _, e := range payload.AuditTrail {
		eventID := e.EventID
		if eventID == "" {
			eventID = uuid.NewRandom().String()
		}
		events = append(events, models.AuditEvent{
			EventID:        eventID,
			NotificationID: payload.NotificationID,
			Timestamp:      e.Timestamp,
			EventType:      models.AuditEventType(e.EventType),
			Actor:          e.UserID,
			Details:        e.Details,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	receivedAt := now
	if n := len(events); n > 0 && events[n-1].Timestamp.After(receivedAt) {
		receivedAt = events[n-1].Timestamp
	}
	return append(events, models.AuditEvent{
		EventID:        uuid.NewRandom().String(),
		NotificationID: payload.NotificationID,
		Timestamp:      receivedAt,
		EventType:      models.EventFileReceived,
		Actor:          ingestActor,
		Details:        "File notification ingested",
	})
}

// recordFailure writes an ERROR stub for a notification that exhausted its
// retries, so the failure surfaces in the review listing. Best effort; a
// failure here is logged and swallowed.
func (im *Importer) recordFailure(payload FileNotification, cause error) {
	// The ingest context may already be dead; use a short independent one.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	patientID, err := im.repository.UpsertPatient(ctx, payload.PatientInfo.MedicareID, payload.PatientInfo.ClaimNumber)
	if err != nil {
		im.logger.WithField("notification_id", payload.NotificationID).
			Errorf("could not record ingest failure: %s", err)
		return
	}

	md := models.ProcessingMetadata{
		ProcessingStatus:   models.ProcessingError,
		LastProcessedAt:    im.now(),
		RequiresUserAction: true,
		UserActionDetails:  cause.Error(),
	}
	created, err := im.repository.CreateNotification(ctx, models.Notification{
		NotificationID: payload.NotificationID,
		CorrelationID:  payload.CorrelationID,
		PatientID:      patientID,
		FileName:       payload.FileMetadata.FileName,
		SizeBytes:      payload.FileMetadata.SizeBytes,
		FileType:       models.FileType(payload.FileMetadata.FileType),
		Priority:       payload.ReviewDetails.Priority,
		Status:         payload.status(),
		ReceivedAt:     payload.ReceivedTimestamp,
		AssignedDate:   payload.ReviewDetails.AssignedDate,
		DueDate:        payload.ReviewDetails.DueDate,
		Metadata:       md,
	})
	if err != nil {
		im.logger.WithField("notification_id", payload.NotificationID).
			Errorf("could not record ingest failure: %s", err)
		return
	}
	if !created {
		// A partial record exists from an earlier attempt; flag it instead.
		if err := im.repository.UpdateProcessingMetadata(ctx, payload.NotificationID, md); err != nil {
			im.logger.WithField("notification_id", payload.NotificationID).
				Errorf("could not flag partial record after ingest failure: %s", err)
		}
	}
}

// permanent reports whether retrying the operation cannot help.
func permanent(err error) bool {
	var validationErr *customErrors.ValidationError
	var duplicateErr *customErrors.DuplicateNotificationError
	var notFoundErr *customErrors.NotificationNotFoundError
	return errors.As(err, &validationErr) || errors.As(err, &duplicateErr) || errors.As(err, &notFoundErr)
}
