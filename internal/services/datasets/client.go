package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/config"
	"pubpipe/internal/services"
)

// HTTPDoer describes the HTTP client used by the data-set publisher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Publisher marks data-set versions live.
type Publisher interface {
	Publish(ctx context.Context, releaseVersionID uuid.UUID, dataSetVersionIDs []uuid.UUID) error
}

// NewConfiguredPublisher returns an HTTP publisher when a base URL is set, and
// a publisher that rejects non-empty requests otherwise.
func NewConfiguredPublisher(cfg *config.Config) Publisher {
	if cfg == nil || strings.TrimSpace(cfg.DataSets.BaseURL) == "" {
		return unconfigured{}
	}
	timeout := time.Duration(cfg.DataSets.RequestTimeout) * time.Second
	return NewHTTPPublisher(cfg.DataSets.BaseURL, cfg.DataSets.APIToken, &http.Client{Timeout: timeout})
}

type httpPublisher struct {
	baseURL string
	token   string
	client  HTTPDoer
}

// NewHTTPPublisher constructs an HTTP-backed publisher.
func NewHTTPPublisher(baseURL, token string, client HTTPDoer) Publisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpPublisher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

func (p *httpPublisher) Publish(ctx context.Context, releaseVersionID uuid.UUID, dataSetVersionIDs []uuid.UUID) error {
	for _, id := range dataSetVersionIDs {
		if err := p.publishOne(ctx, releaseVersionID, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *httpPublisher) publishOne(ctx context.Context, releaseVersionID, dataSetVersionID uuid.UUID) error {
	endpoint := fmt.Sprintf("%s/data-set-versions/%s/publish", p.baseURL, dataSetVersionID)
	body := strings.NewReader(fmt.Sprintf(`{"releaseVersionId":%q}`, releaseVersionID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "datasets", "build request", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "datasets", "publish", dataSetVersionID.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusMultipleChoices || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("data set version %s: status %d: %s", dataSetVersionID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	return services.Wrap(markerForStatus(resp.StatusCode), "datasets", "publish", message, nil)
}

func markerForStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return services.ErrTransient
	case code == http.StatusNotFound:
		return services.ErrNotFound
	default:
		return services.ErrValidation
	}
}

type unconfigured struct{}

func (unconfigured) Publish(_ context.Context, releaseVersionID uuid.UUID, dataSetVersionIDs []uuid.UUID) error {
	if len(dataSetVersionIDs) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "datasets", "publish",
		fmt.Sprintf("release version %s has %d data sets but data_sets.base_url is not set", releaseVersionID, len(dataSetVersionIDs)), nil)
}
