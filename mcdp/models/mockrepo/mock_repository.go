// Package mockrepo provides an in-memory models.Repository for engine tests,
// implementing the same filter/sort/pagination semantics as the postgres
// repository.
package mockrepo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	customErrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/risk"
)

var _ models.Repository = &MockRepository{}

type MockRepository struct {
	mu sync.Mutex

	Notifications map[string]*models.Notification
	Patients      map[uint]*models.Patient
	Appeals       map[string]*models.Appeal
	Trails        map[string][]models.AuditEvent

	patientByKey  map[string]uint
	nextPatientID uint
	nextRowID     uint

	// FailNext makes the next N calls return a storage error, for retry
	// path testing.
	FailNext int
}

func New() *MockRepository {
	return &MockRepository{
		Notifications: make(map[string]*models.Notification),
		Patients:      make(map[uint]*models.Patient),
		Appeals:       make(map[string]*models.Appeal),
		Trails:        make(map[string][]models.AuditEvent),
		patientByKey:  make(map[string]uint),
	}
}

func (m *MockRepository) failNext(op string) error {
	if m.FailNext > 0 {
		m.FailNext--
		return &customErrors.StorageError{Err: sql.ErrConnDone, Op: op}
	}
	return nil
}

func (m *MockRepository) CreateNotification(ctx context.Context, n models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("CreateNotification"); err != nil {
		return false, err
	}
	if _, ok := m.Notifications[n.NotificationID]; ok {
		return false, nil
	}
	stored := n
	m.Notifications[n.NotificationID] = &stored
	return true, nil
}

func (m *MockRepository) GetNotification(ctx context.Context, notificationID string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("GetNotification"); err != nil {
		return nil, err
	}
	n, ok := m.Notifications[notificationID]
	if !ok {
		return nil, &customErrors.NotificationNotFoundError{Err: sql.ErrNoRows, NotificationID: notificationID}
	}
	copied := *n
	return &copied, nil
}

func (m *MockRepository) UpdateNotificationStatus(ctx context.Context, notificationID string, status models.ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Notifications[notificationID]
	if !ok {
		return &customErrors.NotificationNotFoundError{Err: sql.ErrNoRows, NotificationID: notificationID}
	}
	n.Status = status
	return nil
}

func (m *MockRepository) UpdateProcessingMetadata(ctx context.Context, notificationID string, md models.ProcessingMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.Notifications[notificationID]
	if !ok {
		return &customErrors.NotificationNotFoundError{Err: sql.ErrNoRows, NotificationID: notificationID}
	}
	n.Metadata = md
	return nil
}

func (m *MockRepository) UpsertPatient(ctx context.Context, medicareID, claimNumber string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("UpsertPatient"); err != nil {
		return 0, err
	}
	key := medicareID + "|" + claimNumber
	if id, ok := m.patientByKey[key]; ok {
		return id, nil
	}
	m.nextPatientID++
	id := m.nextPatientID
	m.Patients[id] = &models.Patient{ID: id, MedicareID: medicareID, ClaimNumber: claimNumber, CreatedAt: time.Now()}
	m.patientByKey[key] = id
	return id, nil
}

func (m *MockRepository) GetPatient(ctx context.Context, patientID uint) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[patientID]
	if !ok {
		return nil, fmt.Errorf("no patient with id %d", patientID)
	}
	copied := *p
	return &copied, nil
}

func (m *MockRepository) CreateEncounter(ctx context.Context, e models.Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[e.PatientID]
	if !ok {
		return fmt.Errorf("no patient with id %d", e.PatientID)
	}
	for _, existing := range p.Encounters {
		if existing.ClaimNumber == e.ClaimNumber && existing.DateOfService.Equal(e.DateOfService) {
			return nil
		}
	}
	m.nextRowID++
	e.ID = m.nextRowID
	p.Encounters = append(p.Encounters, e)
	return nil
}

func (m *MockRepository) CreateRequiredDocuments(ctx context.Context, docs []models.RequiredDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		p, ok := m.Patients[doc.PatientID]
		if !ok {
			return fmt.Errorf("no patient with id %d", doc.PatientID)
		}
		exists := false
		for _, existing := range p.Documents {
			if existing.DocumentType == doc.DocumentType {
				exists = true
				break
			}
		}
		if !exists {
			m.nextRowID++
			doc.ID = m.nextRowID
			p.Documents = append(p.Documents, doc)
		}
	}
	return nil
}

func (m *MockRepository) MarkDocumentReceived(ctx context.Context, patientID uint, docType models.DocumentType, receivedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[patientID]
	if !ok {
		return fmt.Errorf("no patient with id %d", patientID)
	}
	for i := range p.Documents {
		if p.Documents[i].DocumentType == docType && p.Documents[i].ReceivedDate == nil {
			t := receivedAt
			p.Documents[i].ReceivedDate = &t
			p.Documents[i].Status = models.StatusDocumentationReceived
			return nil
		}
	}
	return fmt.Errorf("document %s for patient %d not updated, no outstanding request found", docType, patientID)
}

func (m *MockRepository) CreateAppeal(ctx context.Context, a models.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("CreateAppeal"); err != nil {
		return err
	}
	stored := a
	m.Appeals[a.NotificationID] = &stored
	return nil
}

func (m *MockRepository) GetAppeal(ctx context.Context, notificationID string) (*models.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appeals[notificationID]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (m *MockRepository) UpdateRecoveryStatus(ctx context.Context, notificationID string, status models.RecoveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appeals[notificationID]
	if !ok {
		return fmt.Errorf("no appeal found for notification %s", notificationID)
	}
	a.RecoveryStatus = status
	return nil
}

func (m *MockRepository) CreateAuditEvents(ctx context.Context, events []models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("CreateAuditEvents"); err != nil {
		return err
	}
	for _, e := range events {
		m.Trails[e.NotificationID] = append(m.Trails[e.NotificationID], e)
	}
	return nil
}

func (m *MockRepository) GetAuditTrail(ctx context.Context, notificationID string) ([]models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trail := append([]models.AuditEvent{}, m.Trails[notificationID]...)
	sort.SliceStable(trail, func(i, j int) bool { return trail[i].Timestamp.Before(trail[j].Timestamp) })
	return trail, nil
}

func (m *MockRepository) GetReviewRecord(ctx context.Context, notificationID string) (*models.ReviewRecord, error) {
	n, err := m.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	p, err := m.GetPatient(ctx, n.PatientID)
	if err != nil {
		return nil, err
	}
	a, err := m.GetAppeal(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	return &models.ReviewRecord{Notification: *n, Patient: *p, Appeal: a}, nil
}

func (m *MockRepository) ListReviewRecords(ctx context.Context, filter models.ListFilter) ([]models.ReviewRecord, int, error) {
	all, err := m.allRecords(ctx)
	if err != nil {
		return nil, 0, err
	}

	filtered := all[:0:0]
	for _, r := range all {
		if filter.Status != "" && r.Notification.Status != filter.Status {
			continue
		}
		if filter.FileType != "" && r.Notification.FileType != filter.FileType {
			continue
		}
		if !filter.ReceivedAfter.IsZero() && r.Notification.ReceivedAt.Before(filter.ReceivedAfter) {
			continue
		}
		if !filter.ReceivedBefore.IsZero() && r.Notification.ReceivedAt.After(filter.ReceivedBefore) {
			continue
		}
		if filter.RiskThreshold > 0 && risk.ScoreRecord(&r, filter.Now) < filter.RiskThreshold {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := &filtered[i], &filtered[j]
		var less, eq bool
		switch filter.SortBy {
		case models.SortByDueDate:
			less = a.Notification.DueDate.Before(b.Notification.DueDate)
			eq = a.Notification.DueDate.Equal(b.Notification.DueDate)
		case models.SortByAmount:
			less = a.DeniedAmount() < b.DeniedAmount()
			eq = a.DeniedAmount() == b.DeniedAmount()
		case models.SortByRiskScore:
			sa, sb := risk.ScoreRecord(a, filter.Now), risk.ScoreRecord(b, filter.Now)
			less, eq = sa < sb, sa == sb
		default:
			less = a.Notification.ReceivedAt.Before(b.Notification.ReceivedAt)
			eq = a.Notification.ReceivedAt.Equal(b.Notification.ReceivedAt)
		}
		if eq {
			// Ties always break by notification id ascending.
			return a.Notification.NotificationID < b.Notification.NotificationID
		}
		if filter.SortDescending {
			return !less
		}
		return less
	})

	total := len(filtered)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []models.ReviewRecord{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (m *MockRepository) GetReviewRecordsSince(ctx context.Context, since time.Time, facilityNPI string) ([]models.ReviewRecord, error) {
	all, err := m.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ReviewRecord
	for _, r := range all {
		if r.Notification.ReceivedAt.Before(since) {
			continue
		}
		if facilityNPI != "" && !hasFacility(&r, facilityNPI) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MockRepository) allRecords(ctx context.Context) ([]models.ReviewRecord, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.Notifications))
	for id := range m.Notifications {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	records := make([]models.ReviewRecord, 0, len(ids))
	for _, id := range ids {
		r, err := m.GetReviewRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, nil
}

func hasFacility(r *models.ReviewRecord, facilityNPI string) bool {
	for _, e := range r.Patient.Encounters {
		if e.FacilityNPI == facilityNPI {
			return true
		}
	}
	return false
}
