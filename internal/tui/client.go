package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/dqmote/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the dqmote API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// StartRequest is the body of an experiment start.
type StartRequest struct {
	Source   string  `json:"source"`
	Protocol string  `json:"protocol"`
	Slots    uint8   `json:"slots"`
	Duration uint16  `json:"duration,omitempty"`
	Rounds   int     `json:"rounds,omitempty"`
	Nodes    int     `json:"nodes,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
	Loss     float64 `json:"loss,omitempty"`
}

// ListExperiments fetches experiments from the API
func (c *Client) ListExperiments(status string) ([]models.Experiment, error) {
	path := "/experiments"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var experiments []models.Experiment
	if err := c.get(path, &experiments); err != nil {
		return nil, err
	}
	return experiments, nil
}

// GetExperiment fetches a single experiment
func (c *Client) GetExperiment(id string) (*models.Experiment, error) {
	var exp models.Experiment
	if err := c.get("/experiments/"+id, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// GetStats fetches the aggregated rounds of an experiment
func (c *Client) GetStats(id string) (*models.Stats, error) {
	var st models.Stats
	if err := c.get("/experiments/"+id+"/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListRounds fetches a page of rounds
func (c *Client) ListRounds(id string, offset, limit int) ([]models.Round, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var rounds []models.Round
	if err := c.get("/experiments/"+id+"/rounds?"+q.Encode(), &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// StartExperiment starts an experiment in the daemon
func (c *Client) StartExperiment(req StartRequest) (*models.Experiment, error) {
	resp, err := c.post("/experiments", req)
	if err != nil {
		return nil, err
	}

	var exp models.Experiment
	if err := json.Unmarshal(resp, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// StopExperiment stops a running experiment
func (c *Client) StopExperiment(id string) error {
	_, err := c.post("/experiments/"+id+"/stop", nil)
	return err
}

func (c *Client) get(path string, v interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	var body io.Reader = http.NoBody
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", bytes.TrimSpace(respBody))
	}

	return respBody, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}
