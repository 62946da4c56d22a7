package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crosbyhealth/mcdp-app/mcdp/logging"
	"github.com/crosbyhealth/mcdp-app/mcdp/monitoring"
)

// NewAPIRouter builds the review API router.
func NewAPIRouter(api *API) http.Handler {
	r := chi.NewRouter()
	m := monitoring.GetMonitor()
	r.Use(logging.NewStructuredLogger(), SecurityHeader, ConnectionClose)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post(m.WrapHandler("/jobs/sync", api.SyncJob))
		r.Get(m.WrapHandler("/reviews", api.ListReviews))
		r.Get(m.WrapHandler("/reviews/{notificationID}", api.GetReview))
		r.Put(m.WrapHandler("/reviews/{notificationID}/documents/{documentType}", api.ReceiveDocument))
		r.Get(m.WrapHandler("/analytics", api.Analytics))
	})
	r.Get(m.WrapHandler("/_version", getVersion))
	r.Get(m.WrapHandler("/_health", api.HealthCheck))
	return r
}

// NewHTTPRouter redirects plain HTTP traffic to the HTTPS listener.
func NewHTTPRouter() http.Handler {
	r := chi.NewRouter()
	m := monitoring.GetMonitor()
	r.Use(ConnectionClose)
	r.With(logging.NewStructuredLogger()).Get(m.WrapHandler("/*", func(w http.ResponseWriter, req *http.Request) {
		url := "https://" + req.Host + req.URL.String()
		http.Redirect(w, req, url, http.StatusMovedPermanently)
	}))
	return r
}
