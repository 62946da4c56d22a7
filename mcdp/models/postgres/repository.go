package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	sqlFlavor = sqlbuilder.PostgreSQL
)

// riskScoreExpr is the SQL mirror of risk.Score. It must stay aligned with
// the Go formula so that risk-threshold filters and risk sorts evaluated in
// the database agree with scores computed on read. The placeholder is the
// evaluation instant.
const riskScoreExpr = `LEAST(100, GREATEST(0, ROUND(` +
	`n.priority * 15` +
	` + GREATEST(0, 40 - GREATEST(EXTRACT(EPOCH FROM (n.due_date - %s)) / 3600, 0) / 6)` +
	` + LEAST(20, COALESCE(a.denied_amount, 0) / 2500))))`

// Ensure Repository satisfies the interface
var _ models.Repository = &Repository{}

type Repository struct {
	queryable
	executable
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db, db}
}

func NewRepositoryTx(tx *sql.Tx) *Repository {
	return &Repository{tx, tx}
}

var notificationColumns = []string{
	"n.notification_id", "n.correlation_id", "n.patient_id", "n.file_name",
	"n.size_bytes", "n.file_type", "n.priority", "n.status", "n.received_at",
	"n.assigned_date", "n.due_date", "n.processing_status",
	"n.last_processed_at", "n.requires_user_action", "n.user_action_details",
}

func (r *Repository) CreateNotification(ctx context.Context, n models.Notification) (bool, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO notifications
		(notification_id, correlation_id, patient_id, file_name, size_bytes, file_type, priority, status,
		received_at, assigned_date, due_date, processing_status, last_processed_at, requires_user_action, user_action_details)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (notification_id) DO NOTHING`,
		n.NotificationID, n.CorrelationID, n.PatientID, n.FileName, n.SizeBytes,
		string(n.FileType), n.Priority, string(n.Status), n.ReceivedAt,
		n.AssignedDate, n.DueDate, string(n.Metadata.ProcessingStatus),
		n.Metadata.LastProcessedAt, n.Metadata.RequiresUserAction, n.Metadata.UserActionDetails).
		BuildWithFlavor(sqlFlavor)

	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) GetNotification(ctx context.Context, notificationID string) (*models.Notification, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(stripAliases(notificationColumns)...)
	sb.From("notifications")
	sb.Where(sb.Equal("notification_id", notificationID))

	query, args := sb.Build()
	n, err := scanNotification(r.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &customErrors.NotificationNotFoundError{Err: err, NotificationID: notificationID}
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *Repository) UpdateNotificationStatus(ctx context.Context, notificationID string, status models.ReviewStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("notifications")
	ub.Set(ub.Assign("status", string(status)))
	ub.Where(ub.Equal("notification_id", notificationID))

	query, args := ub.Build()
	return r.execExpectingRow(ctx, notificationID, query, args)
}

func (r *Repository) UpdateProcessingMetadata(ctx context.Context, notificationID string, md models.ProcessingMetadata) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("notifications")
	ub.Set(
		ub.Assign("processing_status", string(md.ProcessingStatus)),
		ub.Assign("last_processed_at", md.LastProcessedAt),
		ub.Assign("requires_user_action", md.RequiresUserAction),
		ub.Assign("user_action_details", md.UserActionDetails),
	)
	ub.Where(ub.Equal("notification_id", notificationID))

	query, args := ub.Build()
	return r.execExpectingRow(ctx, notificationID, query, args)
}

func (r *Repository) UpsertPatient(ctx context.Context, medicareID, claimNumber string) (uint, error) {
	// The no-op DO UPDATE lets RETURNING yield the id on conflict.
	query, args := sqlbuilder.Buildf(`INSERT INTO patients (medicare_id, claim_number, created_at)
		VALUES (%s, %s, NOW())
		ON CONFLICT (medicare_id, claim_number) DO UPDATE SET medicare_id = EXCLUDED.medicare_id
		RETURNING id`,
		medicareID, claimNumber).
		BuildWithFlavor(sqlFlavor)

	var patientID uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&patientID); err != nil {
		return 0, err
	}
	return patientID, nil
}

func (r *Repository) GetPatient(ctx context.Context, patientID uint) (*models.Patient, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "medicare_id", "claim_number", "created_at")
	sb.From("patients")
	sb.Where(sb.Equal("id", patientID))

	query, args := sb.Build()
	var p models.Patient
	err := r.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.MedicareID, &p.ClaimNumber, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	patients := map[uint]*models.Patient{p.ID: &p}
	if err := r.loadEncounters(ctx, patients); err != nil {
		return nil, err
	}
	if err := r.loadDocuments(ctx, patients); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreateEncounter(ctx context.Context, e models.Encounter) error {
	query, args := sqlbuilder.Buildf(`INSERT INTO encounters (patient_id, date_of_service, facility_npi, claim_number)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (patient_id, claim_number, date_of_service) DO NOTHING`,
		e.PatientID, e.DateOfService, e.FacilityNPI, e.ClaimNumber).
		BuildWithFlavor(sqlFlavor)

	_, err := r.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) CreateRequiredDocuments(ctx context.Context, docs []models.RequiredDocument) error {
	if len(docs) == 0 {
		return nil
	}

	ib := sqlFlavor.NewInsertBuilder().
		InsertInto("required_documents").
		Cols("patient_id", "document_type", "required", "requested_at", "received_date", "status")
	for _, doc := range docs {
		ib.Values(doc.PatientID, string(doc.DocumentType), doc.Required, doc.RequestedAt, doc.ReceivedDate, string(doc.Status))
	}

	query, args := ib.Build()
	// Union semantics: requirements already on file stay untouched.
	query += " ON CONFLICT (patient_id, document_type) DO NOTHING"
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) MarkDocumentReceived(ctx context.Context, patientID uint, docType models.DocumentType, receivedAt time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("required_documents")
	ub.Set(
		ub.Assign("received_date", receivedAt),
		ub.Assign("status", string(models.StatusDocumentationReceived)),
	)
	ub.Where(
		ub.Equal("patient_id", patientID),
		ub.Equal("document_type", string(docType)),
		ub.IsNull("received_date"),
	)

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %s for patient %d not updated, no outstanding request found", docType, patientID)
	}
	return nil
}

func (r *Repository) CreateAppeal(ctx context.Context, a models.Appeal) error {
	query, args := sqlbuilder.Buildf(`INSERT INTO appeals
		(notification_id, deadline, denial_date, denial_reason, denied_amount, recovery_status, has_clinical_records, has_billing_info)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		a.NotificationID, a.Deadline, a.DenialDate, string(a.DenialReason),
		a.DeniedAmount, string(a.RecoveryStatus), a.HasClinicalRecords, a.HasBillingInfo).
		BuildWithFlavor(sqlFlavor)

	_, err := r.ExecContext(ctx, query, args...)
	return err
}

// GetAppeal returns nil without error when the notification has no appeal.
func (r *Repository) GetAppeal(ctx context.Context, notificationID string) (*models.Appeal, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "notification_id", "deadline", "denial_date", "denial_reason",
		"denied_amount", "recovery_status", "has_clinical_records", "has_billing_info")
	sb.From("appeals")
	sb.Where(sb.Equal("notification_id", notificationID))

	query, args := sb.Build()
	var a models.Appeal
	var reason, recovery string
	err := r.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.NotificationID,
		&a.Deadline, &a.DenialDate, &reason, &a.DeniedAmount, &recovery,
		&a.HasClinicalRecords, &a.HasBillingInfo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.DenialReason = models.DenialReason(reason)
	a.RecoveryStatus = models.RecoveryStatus(recovery)
	return &a, nil
}

func (r *Repository) UpdateRecoveryStatus(ctx context.Context, notificationID string, status models.RecoveryStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("appeals")
	ub.Set(ub.Assign("recovery_status", string(status)))
	ub.Where(ub.Equal("notification_id", notificationID))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no appeal found for notification %s", notificationID)
	}
	return nil
}

func (r *Repository) CreateAuditEvents(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	ib := sqlFlavor.NewInsertBuilder().
		InsertInto("audit_events").
		Cols("event_id", "notification_id", "timestamp", "event_type", "actor", "details")
	for _, e := range events {
		ib.Values(e.EventID, e.NotificationID, e.Timestamp, string(e.EventType), e.Actor, e.Details)
	}

	query, args := ib.Build()
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) GetAuditTrail(ctx context.Context, notificationID string) ([]models.AuditEvent, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("event_id", "notification_id", "timestamp", "event_type", "actor", "details")
	sb.From("audit_events")
	sb.Where(sb.Equal("notification_id", notificationID))
	sb.OrderBy("timestamp", "event_id").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trail []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var eventType string
		if err := rows.Scan(&e.EventID, &e.NotificationID, &e.Timestamp, &eventType, &e.Actor, &e.Details); err != nil {
			return nil, err
		}
		e.EventType = models.AuditEventType(eventType)
		trail = append(trail, e)
	}
	return trail, rows.Err()
}

func (r *Repository) GetReviewRecord(ctx context.Context, notificationID string) (*models.ReviewRecord, error) {
	n, err := r.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	p, err := r.GetPatient(ctx, n.PatientID)
	if err != nil {
		return nil, err
	}

	a, err := r.GetAppeal(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	return &models.ReviewRecord{Notification: *n, Patient: *p, Appeal: a}, nil
}

func (r *Repository) ListReviewRecords(ctx context.Context, filter models.ListFilter) ([]models.ReviewRecord, int, error) {
	countSB := sqlFlavor.NewSelectBuilder()
	countSB.Select("COUNT(1)")
	reviewJoins(countSB)
	applyReviewFilters(countSB, filter)

	query, args := countSB.Build()
	var total int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sb := sqlFlavor.NewSelectBuilder()
	cols := append([]string{}, notificationColumns...)
	cols = append(cols, "p.medicare_id", "p.claim_number",
		"a.id", "a.deadline", "a.denial_date", "a.denial_reason",
		"a.denied_amount", "a.recovery_status", "a.has_clinical_records", "a.has_billing_info")
	sb.Select(cols...)
	reviewJoins(sb)
	applyReviewFilters(sb, filter)

	direction := "ASC"
	if filter.SortDescending {
		direction = "DESC"
	}
	switch filter.SortBy {
	case models.SortByDueDate:
		sb.OrderBy("n.due_date "+direction, "n.notification_id ASC")
	case models.SortByAmount:
		sb.OrderBy("COALESCE(a.denied_amount, 0) "+direction, "n.notification_id ASC")
	case models.SortByRiskScore:
		sb.OrderBy(fmt.Sprintf(riskScoreExpr, sb.Var(filter.Now))+" "+direction, "n.notification_id ASC")
	default:
		sb.OrderBy("n.received_at "+direction, "n.notification_id ASC")
	}
	sb.Limit(filter.PageSize).Offset((filter.Page - 1) * filter.PageSize)

	query, args = sb.Build()
	records, err := r.queryReviewRows(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *Repository) GetReviewRecordsSince(ctx context.Context, since time.Time, facilityNPI string) ([]models.ReviewRecord, error) {
	sb := sqlFlavor.NewSelectBuilder()
	cols := append([]string{}, notificationColumns...)
	cols = append(cols, "p.medicare_id", "p.claim_number",
		"a.id", "a.deadline", "a.denial_date", "a.denial_reason",
		"a.denied_amount", "a.recovery_status", "a.has_clinical_records", "a.has_billing_info")
	sb.Select(cols...)
	reviewJoins(sb)
	sb.Where(sb.GreaterEqualThan("n.received_at", since))
	if facilityNPI != "" {
		sb.Where(sb.Exists(facilitySubquery(facilityNPI)))
	}
	sb.OrderBy("n.received_at", "n.notification_id").Asc()

	query, args := sb.Build()
	return r.queryReviewRows(ctx, query, args...)
}

func reviewJoins(sb *sqlbuilder.SelectBuilder) {
	sb.From("notifications n")
	sb.Join("patients p", "p.id = n.patient_id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "appeals a", "a.notification_id = n.notification_id")
}

func applyReviewFilters(sb *sqlbuilder.SelectBuilder, filter models.ListFilter) {
	if filter.Status != "" {
		sb.Where(sb.Equal("n.status", string(filter.Status)))
	}
	if filter.FileType != "" {
		sb.Where(sb.Equal("n.file_type", string(filter.FileType)))
	}
	if !filter.ReceivedAfter.IsZero() {
		sb.Where(sb.GreaterEqualThan("n.received_at", filter.ReceivedAfter))
	}
	if !filter.ReceivedBefore.IsZero() {
		sb.Where(sb.LessEqualThan("n.received_at", filter.ReceivedBefore))
	}
	if filter.RiskThreshold > 0 {
		sb.Where(fmt.Sprintf(riskScoreExpr, sb.Var(filter.Now)) + " >= " + sb.Var(filter.RiskThreshold))
	}
}

func facilitySubquery(facilityNPI string) *sqlbuilder.SelectBuilder {
	sub := sqlFlavor.NewSelectBuilder()
	sub.Select("1")
	sub.From("encounters e")
	sub.Where("e.patient_id = n.patient_id", sub.Equal("e.facility_npi", facilityNPI))
	return sub
}

func (r *Repository) queryReviewRows(ctx context.Context, query string, args ...interface{}) ([]models.ReviewRecord, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ReviewRecord
	patients := make(map[uint]*models.Patient)
	for rows.Next() {
		var (
			n                models.Notification
			fileType, status string
			procStatus       string
			medicareID       string
			claimNumber      string
			appealID         sql.NullInt64
			deadline         sql.NullTime
			denialDate       sql.NullTime
			denialReason     sql.NullString
			deniedAmount     sql.NullFloat64
			recoveryStatus   sql.NullString
			hasClinical      sql.NullBool
			hasBilling       sql.NullBool
		)
		err := rows.Scan(&n.NotificationID, &n.CorrelationID, &n.PatientID,
			&n.FileName, &n.SizeBytes, &fileType, &n.Priority, &status,
			&n.ReceivedAt, &n.AssignedDate, &n.DueDate, &procStatus,
			&n.Metadata.LastProcessedAt, &n.Metadata.RequiresUserAction,
			&n.Metadata.UserActionDetails,
			&medicareID, &claimNumber,
			&appealID, &deadline, &denialDate, &denialReason, &deniedAmount,
			&recoveryStatus, &hasClinical, &hasBilling)
		if err != nil {
			return nil, err
		}

		n.FileType = models.FileType(fileType)
		n.Status = models.ReviewStatus(status)
		n.Metadata.ProcessingStatus = models.ProcessingStatus(procStatus)

		record := models.ReviewRecord{
			Notification: n,
			Patient:      models.Patient{ID: n.PatientID, MedicareID: medicareID, ClaimNumber: claimNumber},
		}
		if appealID.Valid {
			record.Appeal = &models.Appeal{
				ID:                 uint(appealID.Int64),
				NotificationID:     n.NotificationID,
				Deadline:           deadline.Time,
				DenialDate:         denialDate.Time,
				DenialReason:       models.DenialReason(denialReason.String),
				DeniedAmount:       deniedAmount.Float64,
				RecoveryStatus:     models.RecoveryStatus(recoveryStatus.String),
				HasClinicalRecords: hasClinical.Bool,
				HasBillingInfo:     hasBilling.Bool,
			}
		}
		records = append(records, record)
		patients[n.PatientID] = nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	for i := range records {
		patients[records[i].Notification.PatientID] = &records[i].Patient
	}
	if err := r.loadEncounters(ctx, patients); err != nil {
		return nil, err
	}
	if err := r.loadDocuments(ctx, patients); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) loadEncounters(ctx context.Context, patients map[uint]*models.Patient) error {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "patient_id", "date_of_service", "facility_npi", "claim_number")
	sb.From("encounters")
	sb.Where(sb.In("patient_id", patientIDArgs(patients)...))
	sb.OrderBy("date_of_service", "id").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Encounter
		if err := rows.Scan(&e.ID, &e.PatientID, &e.DateOfService, &e.FacilityNPI, &e.ClaimNumber); err != nil {
			return err
		}
		if p := patients[e.PatientID]; p != nil {
			p.Encounters = append(p.Encounters, e)
		}
	}
	return rows.Err()
}

func (r *Repository) loadDocuments(ctx context.Context, patients map[uint]*models.Patient) error {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "patient_id", "document_type", "required", "requested_at", "received_date", "status")
	sb.From("required_documents")
	sb.Where(sb.In("patient_id", patientIDArgs(patients)...))
	sb.OrderBy("document_type").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d               models.RequiredDocument
			docType, status string
			receivedDate    sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.PatientID, &docType, &d.Required, &d.RequestedAt, &receivedDate, &status); err != nil {
			return err
		}
		d.DocumentType = models.DocumentType(docType)
		d.Status = models.ReviewStatus(status)
		if receivedDate.Valid {
			t := receivedDate.Time
			d.ReceivedDate = &t
		}
		if p := patients[d.PatientID]; p != nil {
			p.Documents = append(p.Documents, d)
		}
	}
	return rows.Err()
}

func (r *Repository) execExpectingRow(ctx context.Context, notificationID string, query string, args []interface{}) error {
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &customErrors.NotificationNotFoundError{Err: sql.ErrNoRows, NotificationID: notificationID}
	}
	return nil
}

func patientIDArgs(patients map[uint]*models.Patient) []interface{} {
	ids := make([]uint, 0, len(patients))
	for id := range patients {
		ids = append(ids, id)
	}
	// Deterministic placeholder ordering keeps queries testable.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stripAliases(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimPrefix(c, "n.")
	}
	return out
}

func scanNotification(row *sql.Row) (*models.Notification, error) {
	var (
		n                            models.Notification
		fileType, status, procStatus string
	)
	err := row.Scan(&n.NotificationID, &n.CorrelationID, &n.PatientID,
		&n.FileName, &n.SizeBytes, &fileType, &n.Priority, &status,
		&n.ReceivedAt, &n.AssignedDate, &n.DueDate, &procStatus,
		&n.Metadata.LastProcessedAt, &n.Metadata.RequiresUserAction,
		&n.Metadata.UserActionDetails)
	if err != nil {
		return nil, err
	}
	n.FileType = models.FileType(fileType)
	n.Status = models.ReviewStatus(status)
	n.Metadata.ProcessingStatus = models.ProcessingStatus(procStatus)
	return &n, nil
}
