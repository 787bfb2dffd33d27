package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/config"
)

// Client talks to the analysis backend.  All analysis work happens on the backend
// side; this client only issues the three request shapes the backend understands
// (single-date analyze, confirm selection, streaming batch) plus the redo-summary
// maintenance call.
type Client struct {
	config.Config
	httpClient *http.Client
	// streaming connections stay open for an entire batch run, so they bypass the
	// per-request timeout and rely on context cancellation instead
	streamClient *http.Client
}

// NewClient creates an analysis backend client using the configured address and
// request timeout.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		Config: config.Config{
			Logger:      cfg.Logger,
			Environment: cfg.Environment,
		},
		httpClient:   &http.Client{Timeout: time.Second * time.Duration(cfg.Environment.AnalysisTimeoutSec)},
		streamClient: &http.Client{},
	}
}

// AnalyzeDate runs the analysis for a single date.  The returned response either
// represents a completed analysis or carries a selection payload that needs a
// human decision before the date can finish.
func (c *Client) AnalyzeDate(ctx context.Context, date string, force bool) (*AnalyzeResponseData, error) {
	reqData := AnalyzeRequestData{
		ForceReanalysis: force,
		AIProvider:      c.Environment.AIProvider,
		NewsProvider:    c.Environment.NewsProvider,
	}

	var respData AnalyzeResponseData
	url := fmt.Sprintf("%s/api/analysis/date/%s", c.Environment.AnalysisAddr, date)
	if err := c.postJSON(ctx, url, reqData, &respData); err != nil {
		return nil, errors.Wrapf(err, "failed to analyze %s", date)
	}
	return &respData, nil
}

// ConfirmSelection submits the chosen article for a date that previously reported
// an ambiguous analysis.
func (c *Client) ConfirmSelection(ctx context.Context, date string, articleID string, selectionMode string) (*ConfirmResponseData, error) {
	reqData := ConfirmRequestData{
		ArticleID:     articleID,
		SelectionMode: selectionMode,
	}

	var respData ConfirmResponseData
	url := fmt.Sprintf("%s/api/analysis/date/%s/confirm-selection", c.Environment.AnalysisAddr, date)
	if err := c.postJSON(ctx, url, reqData, &respData); err != nil {
		return nil, errors.Wrapf(err, "failed to confirm selection for %s", date)
	}
	return &respData, nil
}

// RedoSummary regenerates the summary for a date without re-running article
// selection.
func (c *Client) RedoSummary(ctx context.Context, date string) error {
	url := fmt.Sprintf("%s/api/analysis/date/%s/redo-summary", c.Environment.AnalysisAddr, date)
	if err := c.postJSON(ctx, url, struct{}{}, nil); err != nil {
		return errors.Wrapf(err, "failed to redo summary for %s", date)
	}
	return nil
}

// OpenBatchStream starts a streaming batch analysis and returns the raw NDJSON
// body for the caller to decode.  Any failure here (connection refused, non-2xx,
// missing body) is a transport failure the caller should respond to by degrading
// to per-date requests.
func (c *Client) OpenBatchStream(ctx context.Context, dates []string, concurrency int) (io.ReadCloser, error) {
	reqData := BatchRequestData{
		Dates:        dates,
		Concurrency:  concurrency,
		AIProvider:   c.Environment.AIProvider,
		NewsProvider: c.Environment.NewsProvider,
	}
	body, err := json.Marshal(reqData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal batch request")
	}

	url := fmt.Sprintf("%s/api/analysis/batch-analyze", c.Environment.AnalysisAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build batch request")
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "batch stream request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Errorf("batch stream returned status %d", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, errors.New("batch stream returned no body")
	}
	return resp.Body, nil
}

// errorBody is the shape the backend uses for non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) postJSON(ctx context.Context, url string, reqData interface{}, respData interface{}) error {
	body, err := json.Marshal(reqData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody errorBody
		if err := json.Unmarshal(respBytes, &errBody); err == nil && errBody.Error != "" {
			return errors.Errorf("status %d: %s", resp.StatusCode, errBody.Error)
		}
		return errors.Errorf("status %d", resp.StatusCode)
	}

	if respData != nil {
		if err := json.Unmarshal(respBytes, respData); err != nil {
			return errors.Wrap(err, "failed to unmarshal response")
		}
	}
	return nil
}
