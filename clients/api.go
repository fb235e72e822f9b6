package clients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return NewClientForAddress(cfg.Port)
}

// NewClientForAddress accepts either host:port or a full URL.
func NewClientForAddress(address string) *Client {
	baseURL := address
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (c *Client) Health() (string, error) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(http.MethodGet, "/health", http.StatusOK, &body); err != nil {
		return "", err
	}
	return body.Status, nil
}

func (c *Client) Monitors() ([]models.MonitorStatus, error) {
	var monitors []models.MonitorStatus
	if err := c.do(http.MethodGet, "/monitors", http.StatusOK, &monitors); err != nil {
		return nil, err
	}
	return monitors, nil
}

func (c *Client) Reload() error {
	return c.do(http.MethodPost, "/reload", http.StatusAccepted, nil)
}

func (c *Client) do(method, path string, wantStatus int, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("API returned unexpected status: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", path, err)
	}
	return nil
}
