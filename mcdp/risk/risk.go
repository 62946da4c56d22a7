// Package risk derives review status views from stored state: missing
// documents, completeness, risk scores, and recovery likelihood. Everything
// here is a pure function of an immutable snapshot; nothing is persisted.
package risk

import (
	"math"
	"time"

	"github.com/crosbyhealth/mcdp-app/mcdp/models"
)

// Bucket labels a risk score range.
type Bucket string

const (
	BucketHigh   Bucket = "high"   // score > 75
	BucketMedium Bucket = "medium" // 25 <= score <= 75
	BucketLow    Bucket = "low"    // score < 25
)

const (
	priorityWeight = 15

	// Due-date pressure ramps linearly from 0 (ten days out or more) to the
	// full 40 points at or past the due date.
	duePressureMax   = 40.0
	duePressureSlope = 6.0 // hours per point

	// Denied dollars convert to points at $2,500 per point, capped at 20.
	amountRiskMax  = 20.0
	amountPerPoint = 2500.0
)

// Score computes the 0-100 risk score for a review. It is monotonic in each
// input: higher priority, a nearer (or passed) due date, and a larger denied
// amount never lower the score. The SQL expression in the postgres repository
// mirrors this formula exactly.
func Score(priority int, dueDate time.Time, deniedAmount float64, now time.Time) int {
	hoursUntilDue := dueDate.Sub(now).Hours()
	if hoursUntilDue < 0 {
		hoursUntilDue = 0
	}
	duePressure := duePressureMax - hoursUntilDue/duePressureSlope
	if duePressure < 0 {
		duePressure = 0
	}

	amountRisk := deniedAmount / amountPerPoint
	if amountRisk > amountRiskMax {
		amountRisk = amountRiskMax
	}

	score := math.Round(float64(priority*priorityWeight) + duePressure + amountRisk)
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(score)
}

// ScoreRecord evaluates Score over a stored review record.
func ScoreRecord(r *models.ReviewRecord, now time.Time) int {
	return Score(r.Notification.Priority, r.Notification.DueDate, r.DeniedAmount(), now)
}

func BucketFor(score int) Bucket {
	switch {
	case score > 75:
		return BucketHigh
	case score >= 25:
		return BucketMedium
	default:
		return BucketLow
	}
}

// RecoveryLikelihood estimates the fraction of a disputed amount likely to be
// recovered, as a value in [0, 1]. Complete documentation raises the odds;
// risk lowers them. Bounded away from 0 and 1 since neither outcome is ever
// certain.
func RecoveryLikelihood(score int, isComplete bool) float64 {
	likelihood := 0.9 - float64(score)/200.0
	if !isComplete {
		likelihood -= 0.15
	}
	if likelihood < 0.05 {
		likelihood = 0.05
	}
	if likelihood > 0.95 {
		likelihood = 0.95
	}
	return likelihood
}

// MissingDocuments returns required document types with no received date.
func MissingDocuments(docs []models.RequiredDocument) []models.DocumentType {
	missing := []models.DocumentType{}
	for _, doc := range docs {
		if doc.Required && !doc.Received() {
			missing = append(missing, doc.DocumentType)
		}
	}
	return missing
}

func IsComplete(docs []models.RequiredDocument) bool {
	return len(MissingDocuments(docs)) == 0
}

// Completeness is the appeal snapshot derived from a patient's document set.
type Completeness struct {
	HasClinicalRecords   bool
	HasBillingInfo       bool
	MissingDocumentTypes []models.DocumentType
}

// CompletenessFor derives the appeal completeness snapshot. HasClinicalRecords
// and HasBillingInfo reflect received documents of the corresponding kinds.
func CompletenessFor(docs []models.RequiredDocument) Completeness {
	c := Completeness{MissingDocumentTypes: MissingDocuments(docs)}
	for _, doc := range docs {
		if !doc.Received() {
			continue
		}
		if doc.DocumentType.Clinical() {
			c.HasClinicalRecords = true
		} else {
			c.HasBillingInfo = true
		}
	}
	return c
}

// Overdue reports whether a review's due date has passed without the
// documentation set being complete.
func Overdue(r *models.ReviewRecord, now time.Time) bool {
	return r.Notification.DueDate.Before(now) && !r.IsComplete() && !r.Notification.Status.Terminal()
}

// AtRisk reports whether a review is due within the given window and not yet
// complete.
func AtRisk(r *models.ReviewRecord, now time.Time, window time.Duration) bool {
	if r.IsComplete() || r.Notification.Status.Terminal() {
		return false
	}
	due := r.Notification.DueDate
	return due.After(now) && due.Sub(now) <= window
}
