package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/testUtils"
)

type RepositoryTestSuite struct {
	suite.Suite
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (r *RepositoryTestSuite) withMock(fn func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock)) {
	db, mock, err := sqlmock.New()
	assert.NoError(r.T(), err)
	defer func() {
		assert.NoError(r.T(), mock.ExpectationsWereMet())
		db.Close()
	}()
	fn(r.T(), NewRepository(db), mock)
}

func testNotification() models.Notification {
	received := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	return models.Notification{
		NotificationID: "NOTIF-123",
		CorrelationID:  "CORR-123",
		PatientID:      7,
		FileName:       "adr_packet.pdf",
		SizeBytes:      2048,
		FileType:       models.FileTypeADR,
		Priority:       4,
		Status:         models.StatusAwaitingDocumentation,
		ReceivedAt:     received,
		AssignedDate:   received.Add(time.Hour),
		DueDate:        received.Add(72 * time.Hour),
		Metadata: models.ProcessingMetadata{
			ProcessingStatus: models.ProcessingInProgress,
			LastProcessedAt:  received.Add(time.Minute),
		},
	}
}

func notificationArgs(n models.Notification) []driver.Value {
	return []driver.Value{
		n.NotificationID, n.CorrelationID, n.PatientID, n.FileName, n.SizeBytes,
		string(n.FileType), n.Priority, string(n.Status), n.ReceivedAt,
		n.AssignedDate, n.DueDate, string(n.Metadata.ProcessingStatus),
		n.Metadata.LastProcessedAt, n.Metadata.RequiresUserAction,
		n.Metadata.UserActionDetails,
	}
}

func (r *RepositoryTestSuite) TestCreateNotification() {
	tests := []struct {
		name        string
		affected    int64
		execErr     error
		expCreated  bool
		expectError bool
	}{
		{"Created", 1, nil, true, false},
		{"AlreadyExists", 0, nil, false, false},
		{"ExecError", 0, errors.New("db is down"), false, true},
	}

	n := testNotification()
	for _, tt := range tests {
		r.T().Run(tt.name, func(t *testing.T) {
			r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
				exec := mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
					WithArgs(notificationArgs(n)...)
				if tt.execErr != nil {
					exec.WillReturnError(tt.execErr)
				} else {
					exec.WillReturnResult(sqlmock.NewResult(0, tt.affected))
				}

				created, err := repository.CreateNotification(context.Background(), n)
				if tt.expectError {
					assert.Error(t, err)
					return
				}
				assert.NoError(t, err)
				assert.Equal(t, tt.expCreated, created)
			})
		})
	}
}

func (r *RepositoryTestSuite) TestGetNotification() {
	n := testNotification()
	expQuery := `SELECT notification_id, correlation_id, patient_id, file_name, size_bytes, file_type, priority, status, received_at, assigned_date, due_date, processing_status, last_processed_at, requires_user_action, user_action_details FROM notifications WHERE notification_id = $1`

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta(expQuery)).
			WithArgs(n.NotificationID).
			WillReturnRows(sqlmock.NewRows([]string{
				"notification_id", "correlation_id", "patient_id", "file_name",
				"size_bytes", "file_type", "priority", "status", "received_at",
				"assigned_date", "due_date", "processing_status",
				"last_processed_at", "requires_user_action", "user_action_details"}).
				AddRow(n.NotificationID, n.CorrelationID, n.PatientID, n.FileName,
					n.SizeBytes, string(n.FileType), n.Priority, string(n.Status), n.ReceivedAt,
					n.AssignedDate, n.DueDate, string(n.Metadata.ProcessingStatus),
					n.Metadata.LastProcessedAt, n.Metadata.RequiresUserAction, n.Metadata.UserActionDetails))

		got, err := repository.GetNotification(context.Background(), n.NotificationID)
		assert.NoError(t, err)
		assert.Equal(t, &n, got)
	})

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta(expQuery)).
			WithArgs("NOTIF-NOPE").
			WillReturnError(sql.ErrNoRows)

		_, err := repository.GetNotification(context.Background(), "NOTIF-NOPE")
		var notFound *customErrors.NotificationNotFoundError
		assert.ErrorAs(t, err, &notFound)
		assert.Equal(t, "NOTIF-NOPE", notFound.NotificationID)
	})
}

func (r *RepositoryTestSuite) TestUpdateNotificationStatus() {
	expQuery := `UPDATE notifications SET status = $1 WHERE notification_id = $2`

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(string(models.StatusDocumentationReceived), "NOTIF-123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repository.UpdateNotificationStatus(context.Background(), "NOTIF-123", models.StatusDocumentationReceived)
		assert.NoError(t, err)
	})

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(string(models.StatusDocumentationReceived), "NOTIF-NOPE").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repository.UpdateNotificationStatus(context.Background(), "NOTIF-NOPE", models.StatusDocumentationReceived)
		var notFound *customErrors.NotificationNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func (r *RepositoryTestSuite) TestUpsertPatient() {
	medicareID := testUtils.RandomMBI()
	claimNumber := testUtils.RandomClaimNumber()

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO patients")).
			WithArgs(medicareID, claimNumber).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		id, err := repository.UpsertPatient(context.Background(), medicareID, claimNumber)
		assert.NoError(t, err)
		assert.Equal(t, uint(42), id)
	})
}

func (r *RepositoryTestSuite) TestCreateEncounter() {
	dos := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO encounters")).
			WithArgs(uint(7), dos, "1234567893", "CLM001").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repository.CreateEncounter(context.Background(), models.Encounter{
			PatientID:     7,
			DateOfService: dos,
			FacilityNPI:   "1234567893",
			ClaimNumber:   "CLM001",
		})
		assert.NoError(t, err)
	})
}

func (r *RepositoryTestSuite) TestCreateRequiredDocuments() {
	requestedAt := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	docs := []models.RequiredDocument{
		{PatientID: 7, DocumentType: models.DocProgressNote, Required: true, RequestedAt: requestedAt, Status: models.StatusAwaitingDocumentation},
		{PatientID: 7, DocumentType: models.DocBillingRecord, Required: true, RequestedAt: requestedAt, Status: models.StatusAwaitingDocumentation},
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (patient_id, document_type) DO NOTHING")).
			WithArgs(
				uint(7), string(models.DocProgressNote), true, requestedAt, nil, string(models.StatusAwaitingDocumentation),
				uint(7), string(models.DocBillingRecord), true, requestedAt, nil, string(models.StatusAwaitingDocumentation)).
			WillReturnResult(sqlmock.NewResult(0, 2))

		err := repository.CreateRequiredDocuments(context.Background(), docs)
		assert.NoError(t, err)
	})

	// no-op on an empty slice
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		assert.NoError(t, repository.CreateRequiredDocuments(context.Background(), nil))
	})
}

func (r *RepositoryTestSuite) TestMarkDocumentReceived() {
	receivedAt := time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)
	expQuery := `UPDATE required_documents SET received_date = $1, status = $2 WHERE patient_id = $3 AND document_type = $4 AND received_date IS NULL`

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(receivedAt, string(models.StatusDocumentationReceived), uint(7), string(models.DocProgressNote)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repository.MarkDocumentReceived(context.Background(), 7, models.DocProgressNote, receivedAt)
		assert.NoError(t, err)
	})

	// a document that was already received is not updated again
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(receivedAt, string(models.StatusDocumentationReceived), uint(7), string(models.DocProgressNote)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repository.MarkDocumentReceived(context.Background(), 7, models.DocProgressNote, receivedAt)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no outstanding request found")
	})
}

func (r *RepositoryTestSuite) TestAppealRoundTrip() {
	deadline := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	denialDate := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	appeal := models.Appeal{
		NotificationID: "NOTIF-123",
		Deadline:       deadline,
		DenialDate:     denialDate,
		DenialReason:   models.DenialInsufficientDocumentation,
		DeniedAmount:   25000,
		RecoveryStatus: models.RecoveryPending,
		HasBillingInfo: true,
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
			WithArgs(appeal.NotificationID, appeal.Deadline, appeal.DenialDate,
				string(appeal.DenialReason), appeal.DeniedAmount, string(appeal.RecoveryStatus),
				appeal.HasClinicalRecords, appeal.HasBillingInfo).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, repository.CreateAppeal(context.Background(), appeal))
	})

	expQuery := `SELECT id, notification_id, deadline, denial_date, denial_reason, denied_amount, recovery_status, has_clinical_records, has_billing_info FROM appeals WHERE notification_id = $1`
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta(expQuery)).
			WithArgs("NOTIF-123").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "notification_id", "deadline", "denial_date", "denial_reason",
				"denied_amount", "recovery_status", "has_clinical_records", "has_billing_info"}).
				AddRow(3, appeal.NotificationID, appeal.Deadline, appeal.DenialDate,
					string(appeal.DenialReason), appeal.DeniedAmount, string(appeal.RecoveryStatus),
					appeal.HasClinicalRecords, appeal.HasBillingInfo))

		got, err := repository.GetAppeal(context.Background(), "NOTIF-123")
		assert.NoError(t, err)
		expected := appeal
		expected.ID = 3
		assert.Equal(t, &expected, got)
	})

	// a review without a denial has no appeal
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta(expQuery)).
			WithArgs("NOTIF-456").
			WillReturnError(sql.ErrNoRows)

		got, err := repository.GetAppeal(context.Background(), "NOTIF-456")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func (r *RepositoryTestSuite) TestUpdateRecoveryStatus() {
	expQuery := `UPDATE appeals SET recovery_status = $1 WHERE notification_id = $2`

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(string(models.RecoveryRecovered), "NOTIF-123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repository.UpdateRecoveryStatus(context.Background(), "NOTIF-123", models.RecoveryRecovered))
	})

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta(expQuery)).
			WithArgs(string(models.RecoveryRecovered), "NOTIF-NOPE").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repository.UpdateRecoveryStatus(context.Background(), "NOTIF-NOPE", models.RecoveryRecovered)
		assert.Error(t, err)
	})
}

func (r *RepositoryTestSuite) TestAuditTrail() {
	ts := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	events := []models.AuditEvent{
		{EventID: "EVT-1", NotificationID: "NOTIF-123", Timestamp: ts, EventType: models.EventFileReceived, Actor: "mcdp-ingest", Details: "File notification ingested"},
		{EventID: "EVT-2", NotificationID: "NOTIF-123", Timestamp: ts.Add(time.Hour), EventType: models.EventDocumentationReceived, Actor: "mcdp-api", Details: "Received PROGRESS_NOTE"},
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
			WithArgs(
				events[0].EventID, events[0].NotificationID, events[0].Timestamp, string(events[0].EventType), events[0].Actor, events[0].Details,
				events[1].EventID, events[1].NotificationID, events[1].Timestamp, string(events[1].EventType), events[1].Actor, events[1].Details).
			WillReturnResult(sqlmock.NewResult(0, 2))

		assert.NoError(t, repository.CreateAuditEvents(context.Background(), events))
	})

	expQuery := `SELECT event_id, notification_id, timestamp, event_type, actor, details FROM audit_events WHERE notification_id = $1 ORDER BY timestamp, event_id ASC`
	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		rows := sqlmock.NewRows([]string{"event_id", "notification_id", "timestamp", "event_type", "actor", "details"})
		for _, e := range events {
			rows.AddRow(e.EventID, e.NotificationID, e.Timestamp, string(e.EventType), e.Actor, e.Details)
		}
		mock.ExpectQuery(regexp.QuoteMeta(expQuery)).
			WithArgs("NOTIF-123").
			WillReturnRows(rows)

		trail, err := repository.GetAuditTrail(context.Background(), "NOTIF-123")
		assert.NoError(t, err)
		assert.Equal(t, events, trail)
	})
}

func (r *RepositoryTestSuite) TestGetReviewRecord() {
	n := testNotification()
	created := time.Date(2024, 3, 15, 14, 35, 0, 0, time.UTC)

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE notification_id = $1")).
			WithArgs(n.NotificationID).
			WillReturnRows(sqlmock.NewRows([]string{
				"notification_id", "correlation_id", "patient_id", "file_name",
				"size_bytes", "file_type", "priority", "status", "received_at",
				"assigned_date", "due_date", "processing_status",
				"last_processed_at", "requires_user_action", "user_action_details"}).
				AddRow(n.NotificationID, n.CorrelationID, n.PatientID, n.FileName,
					n.SizeBytes, string(n.FileType), n.Priority, string(n.Status), n.ReceivedAt,
					n.AssignedDate, n.DueDate, string(n.Metadata.ProcessingStatus),
					n.Metadata.LastProcessedAt, n.Metadata.RequiresUserAction, n.Metadata.UserActionDetails))

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, medicare_id, claim_number, created_at FROM patients WHERE id = $1")).
			WithArgs(n.PatientID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "medicare_id", "claim_number", "created_at"}).
				AddRow(n.PatientID, "1AA2BB3CC44", "CLM001", created))

		mock.ExpectQuery(regexp.QuoteMeta("FROM encounters WHERE patient_id IN ($1)")).
			WithArgs(n.PatientID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "date_of_service", "facility_npi", "claim_number"}).
				AddRow(1, n.PatientID, n.ReceivedAt.Add(-30*24*time.Hour), "1234567893", "CLM001"))

		mock.ExpectQuery(regexp.QuoteMeta("FROM required_documents WHERE patient_id IN ($1)")).
			WithArgs(n.PatientID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "document_type", "required", "requested_at", "received_date", "status"}).
				AddRow(1, n.PatientID, string(models.DocProgressNote), true, n.ReceivedAt, nil, string(models.StatusAwaitingDocumentation)))

		mock.ExpectQuery(regexp.QuoteMeta("FROM appeals WHERE notification_id = $1")).
			WithArgs(n.NotificationID).
			WillReturnError(sql.ErrNoRows)

		record, err := repository.GetReviewRecord(context.Background(), n.NotificationID)
		assert.NoError(t, err)
		assert.Equal(t, n, record.Notification)
		assert.Equal(t, "1AA2BB3CC44", record.Patient.MedicareID)
		assert.Len(t, record.Patient.Encounters, 1)
		assert.Len(t, record.Patient.Documents, 1)
		assert.Nil(t, record.Patient.Documents[0].ReceivedDate)
		assert.Nil(t, record.Appeal)
	})
}

func (r *RepositoryTestSuite) TestListReviewRecordsQueryShape() {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	filter := models.ListFilter{
		Status:   models.StatusAwaitingDocumentation,
		Page:     2,
		PageSize: 10,
		SortBy:   models.SortByDueDate,
		Now:      now,
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM notifications n JOIN patients p ON p.id = n.patient_id LEFT JOIN appeals a ON a.notification_id = n.notification_id WHERE n.status = $1")).
			WithArgs(string(models.StatusAwaitingDocumentation)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY n.due_date ASC, n.notification_id ASC LIMIT 10 OFFSET 10")).
			WithArgs(string(models.StatusAwaitingDocumentation)).
			WillReturnRows(sqlmock.NewRows([]string{"notification_id"}))

		records, total, err := repository.ListReviewRecords(context.Background(), filter)
		assert.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, records)
	})
}

// riskScoreSQL is the score expression the listing pushes into the database,
// with the evaluation instant as the first placeholder. Pinned here so the
// SQL stays aligned with risk.Score.
const riskScoreSQL = "LEAST(100, GREATEST(0, ROUND(" +
	"n.priority * 15" +
	" + GREATEST(0, 40 - GREATEST(EXTRACT(EPOCH FROM (n.due_date - $1)) / 3600, 0) / 6)" +
	" + LEAST(20, COALESCE(a.denied_amount, 0) / 2500))))"

func (r *RepositoryTestSuite) TestListReviewRecordsRiskThresholdQueryShape() {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	filter := models.ListFilter{
		RiskThreshold: 60,
		Page:          1,
		PageSize:      20,
		Now:           now,
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE "+riskScoreSQL+" >= $2")).
			WithArgs(now, 60).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		mock.ExpectQuery(regexp.QuoteMeta("WHERE "+riskScoreSQL+" >= $2 ORDER BY n.received_at ASC, n.notification_id ASC LIMIT 20 OFFSET 0")).
			WithArgs(now, 60).
			WillReturnRows(sqlmock.NewRows([]string{"notification_id"}))

		records, total, err := repository.ListReviewRecords(context.Background(), filter)
		assert.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, records)
	})
}

func (r *RepositoryTestSuite) TestListReviewRecordsRiskSortQueryShape() {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	filter := models.ListFilter{
		Page:           1,
		PageSize:       20,
		SortBy:         models.SortByRiskScore,
		SortDescending: true,
		Now:            now,
	}

	r.withMock(func(t *testing.T, repository *Repository, mock sqlmock.Sqlmock) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM notifications n JOIN patients p ON p.id = n.patient_id LEFT JOIN appeals a ON a.notification_id = n.notification_id")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY "+riskScoreSQL+" DESC, n.notification_id ASC LIMIT 20 OFFSET 0")).
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"notification_id"}))

		records, total, err := repository.ListReviewRecords(context.Background(), filter)
		assert.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, records)
	})
}
