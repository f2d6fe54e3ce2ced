package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/omniroute/omniroute/pkg/router"
)

// httpAdapter bridges the adapter boundary onto a backend that speaks
// the plain HTTP execute/health convention.
type httpAdapter struct {
	baseURL string
	client  *http.Client
}

func newHTTPAdapter(baseURL string, client *http.Client) *httpAdapter {
	if client == nil {
		client = http.DefaultClient
	}

	return &httpAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// executePayload is the wire form of an execute request.
type executePayload struct {
	Task  router.Task `json:"task"`
	Repos []string    `json:"repos,omitempty"`
}

// Execute implements router.Adapter.
func (a *httpAdapter) Execute(ctx context.Context, task router.Task, repos []string) (router.ExecuteResult, error) {
	body, err := json.Marshal(executePayload{Task: task, Repos: repos})
	if err != nil {
		return router.ExecuteResult{}, fmt.Errorf("marshal execute payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return router.ExecuteResult{}, fmt.Errorf("build execute request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return router.ExecuteResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return router.ExecuteResult{}, &router.StatusError{StatusCode: resp.StatusCode}
	}

	var result router.ExecuteResult

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return router.ExecuteResult{}, fmt.Errorf("decode execute response: %w", err)
	}

	return result, nil
}

// Health implements router.Adapter. Any failure reports unhealthy; the
// backend's own report is trusted otherwise.
func (a *httpAdapter) Health(ctx context.Context) router.HealthReport {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return router.HealthReport{Status: router.HealthUnhealthy}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return router.HealthReport{
			Status:  router.HealthUnhealthy,
			Details: map[string]any{"error": err.Error()},
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return router.HealthReport{
			Status:  router.HealthUnhealthy,
			Details: map[string]any{"status_code": resp.StatusCode},
		}
	}

	var report router.HealthReport

	err = json.NewDecoder(resp.Body).Decode(&report)
	if err != nil || report.Status == "" {
		return router.HealthReport{Status: router.HealthHealthy}
	}

	return report
}
