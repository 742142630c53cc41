// Package dispatch notifies the external execution gateway that a task is
// ready to run. Calls are fire-and-forget from the engine's point of view.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGatewayTimeout = 10 * time.Second

// Gateway is the single outbound call the engine relies on.
type Gateway interface {
	DispatchTask(ctx context.Context, taskID string) error
}

// HTTPGateway posts to <BaseURL>/api/tasks/<id>/dispatch.
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &HTTPGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) DispatchTask(ctx context.Context, taskID string) error {
	if strings.TrimSpace(g.BaseURL) == "" {
		return fmt.Errorf("gateway url not configured")
	}
	endpoint := g.BaseURL + "/api/tasks/" + url.PathEscape(taskID) + "/dispatch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Missionctl-Task", taskID)
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: defaultGatewayTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
