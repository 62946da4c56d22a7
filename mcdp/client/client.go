// Package client talks to the upstream Medicare file-notification source. A
// deterministic mock implementation stands in for the real API in local
// environments and tests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/crosbyhealth/mcdp-app/conf"
	"github.com/crosbyhealth/mcdp-app/log"
	"github.com/crosbyhealth/mcdp-app/mcdp/ingest"
)

// MedicareAPI is the upstream source of file notifications.
type MedicareAPI interface {
	GetFileNotification(ctx context.Context, fileID string) (*ingest.FileNotification, error)
	GetFileNotificationBatch(ctx context.Context, page, pageSize int) (*BatchResponse, error)
}

// BatchResponse is one page of notifications from the source.
type BatchResponse struct {
	Notifications []ingest.FileNotification `json:"notifications"`
	Pagination    BatchPagination           `json:"pagination"`
	Metrics       BatchMetrics              `json:"batchMetrics"`
}

type BatchPagination struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalPages  int `json:"totalPages"`
	TotalItems  int `json:"totalItems"`
}

type BatchMetrics struct {
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	CompletionRate        float64 `json:"completionRate"`
	DenialRate            float64 `json:"denialRate"`
}

type config struct {
	BaseURL   string `conf:"MCDP_MEDICARE_API_URL"`
	TimeoutMS int    `conf:"MCDP_MEDICARE_TIMEOUT_MS" conf_default:"5000"`
	RetryMax  int    `conf:"MCDP_MEDICARE_RETRY_MAX" conf_default:"3"`
}

// MedicareClient fetches notifications over HTTP with bounded retries.
type MedicareClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewMedicareClient() (*MedicareClient, error) {
	var cfg config
	if err := conf.Checkout(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not load Medicare client configuration")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("MCDP_MEDICARE_API_URL is not set")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	rc.Logger = log.API

	return &MedicareClient{
		httpClient: rc.StandardClient(),
		baseURL:    cfg.BaseURL,
	}, nil
}

func (c *MedicareClient) GetFileNotification(ctx context.Context, fileID string) (*ingest.FileNotification, error) {
	var notification ingest.FileNotification
	endpoint := fmt.Sprintf("%s/notifications/%s", c.baseURL, url.PathEscape(fileID))
	if err := c.getJSON(ctx, endpoint, &notification); err != nil {
		return nil, errors.Wrapf(err, "could not fetch notification for file %s", fileID)
	}
	return &notification, nil
}

func (c *MedicareClient) GetFileNotificationBatch(ctx context.Context, page, pageSize int) (*BatchResponse, error) {
	var batch BatchResponse
	endpoint := fmt.Sprintf("%s/notifications?page=%s&pageSize=%s",
		c.baseURL, strconv.Itoa(page), strconv.Itoa(pageSize))
	if err := c.getJSON(ctx, endpoint, &batch); err != nil {
		return nil, errors.Wrapf(err, "could not fetch notification batch page %d", page)
	}
	return &batch, nil
}

func (c *MedicareClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.API.Warn(err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
