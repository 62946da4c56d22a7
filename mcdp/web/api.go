package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/crosbyhealth/mcdp-app/log"
	"github.com/crosbyhealth/mcdp-app/mcdp/analytics"
	"github.com/crosbyhealth/mcdp-app/mcdp/client"
	"github.com/crosbyhealth/mcdp-app/mcdp/constants"
	mcdperrors "github.com/crosbyhealth/mcdp-app/mcdp/errors"
	"github.com/crosbyhealth/mcdp-app/mcdp/health"
	"github.com/crosbyhealth/mcdp-app/mcdp/ingest"
	"github.com/crosbyhealth/mcdp-app/mcdp/models"
	"github.com/crosbyhealth/mcdp-app/mcdp/service"
)

// defaultSyncFileID is requested from the Medicare source when a sync call
// does not name a file.
const defaultSyncFileID = "FILE-1234567890"

// API bundles the handlers for the review endpoints. Construct with NewAPI.
type API struct {
	svc      service.Service
	reports  *analytics.Engine
	importer *ingest.Importer
	source   client.MedicareAPI
	checker  health.HealthChecker
}

func NewAPI(svc service.Service, reports *analytics.Engine, importer *ingest.Importer, source client.MedicareAPI, checker health.HealthChecker) *API {
	return &API{
		svc:      svc,
		reports:  reports,
		importer: importer,
		source:   source,
		checker:  checker,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type syncRequest struct {
	FileID string `json:"fileId"`
}

type syncResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type analyticsResponse struct {
	Data *analytics.Report `json:"data"`
	Meta analyticsMeta     `json:"meta"`
}

type analyticsMeta struct {
	TimeRange   string    `json:"time_range"`
	FacilityID  string    `json:"facility_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

/*
SyncJob handles POST /api/v1/jobs/sync. It fetches the named file
notification from the Medicare source and runs it through the ingestion
pipeline. An empty body syncs the default file.
*/
func (a *API) SyncJob(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, &mcdperrors.ValidationError{Err: err, Msg: "invalid request body"})
			return
		}
	}
	if req.FileID == "" {
		req.FileID = defaultSyncFileID
	}

	payload, err := a.source.GetFileNotification(r.Context(), req.FileID)
	if err != nil {
		log.API.Errorf("could not fetch file notification %s: %s", req.FileID, err)
		writeError(w, r, &mcdperrors.StorageError{Err: err, Op: "fetch file notification"})
		return
	}

	result, err := a.importer.Ingest(r.Context(), *payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "File notification received and processed"
	if result.Duplicate {
		msg = "File notification already processed"
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, syncResponse{Success: true, Message: msg, Data: payload})
}

// ListReviews handles GET /api/v1/reviews.
func (a *API) ListReviews(w http.ResponseWriter, r *http.Request) {
	params, err := listParamsFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := a.svc.ListReviews(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, list)
}

// GetReview handles GET /api/v1/reviews/{notificationID}.
func (a *API) GetReview(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")
	detail, err := a.svc.GetReview(r.Context(), notificationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, struct {
		Data *service.ReviewDetail `json:"data"`
	}{detail})
}

// ReceiveDocument handles PUT /api/v1/reviews/{notificationID}/documents/{documentType}.
func (a *API) ReceiveDocument(w http.ResponseWriter, r *http.Request) {
	notificationID := chi.URLParam(r, "notificationID")
	docType, err := models.ParseDocumentType(chi.URLParam(r, "documentType"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	detail, err := a.svc.MarkDocumentReceived(r.Context(), notificationID, docType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, struct {
		Data *service.ReviewDetail `json:"data"`
	}{detail})
}

// Analytics handles GET /api/v1/analytics.
func (a *API) Analytics(w http.ResponseWriter, r *http.Request) {
	timeRange := analytics.TimeRange(r.URL.Query().Get("time_range"))
	facilityID := r.URL.Query().Get("facility_id")

	report, err := a.reports.Aggregate(r.Context(), timeRange, facilityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if timeRange == "" {
		timeRange = analytics.RangeDay
	}
	render.JSON(w, r, analyticsResponse{
		Data: report,
		Meta: analyticsMeta{
			TimeRange:   string(timeRange),
			FacilityID:  facilityID,
			GeneratedAt: time.Now().UTC(),
		},
	})
}

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	m := make(map[string]string)
	if _, ok := a.checker.IsDatabaseOK(); ok {
		m["database"] = "ok"
		w.WriteHeader(http.StatusOK)
	} else {
		m["database"] = "error"
		w.WriteHeader(http.StatusBadGateway)
	}

	respJSON, err := json.Marshal(m)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(respJSON); err != nil {
		log.API.Error(err)
	}
}

func getVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"version": constants.Version})
}

func listParamsFromRequest(r *http.Request) (service.ListParams, error) {
	q := r.URL.Query()
	params := service.ListParams{
		Status:     q.Get("status"),
		ReviewType: q.Get("review_type"),
		SortBy:     q.Get("sort_by"),
	}

	var err error
	if params.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return params, err
	}
	if params.PerPage, err = intParam(q.Get("per_page"), "per_page"); err != nil {
		return params, err
	}
	if params.RiskThreshold, err = intParam(q.Get("risk_threshold"), "risk_threshold"); err != nil {
		return params, err
	}

	switch dir := q.Get("sort_direction"); dir {
	case "", "asc":
	case "desc":
		params.SortDescending = true
	default:
		return params, &mcdperrors.ValidationError{Msg: "sort_direction must be asc or desc"}
	}
	return params, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &mcdperrors.ValidationError{Err: err, Msg: name + " must be an integer"}
	}
	return v, nil
}

// writeError maps the domain error types onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *mcdperrors.ValidationError
		notFoundErr   *mcdperrors.NotificationNotFoundError
		timeoutErr    *mcdperrors.TimeoutError
		storageErr    *mcdperrors.StorageError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	case errors.As(err, &storageErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Request.Errorf("unhandled error serving %s: %s", r.URL.Path, err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
