package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/khaledhikmat/vs-batch/model"
)

type httpService struct {
	url    string
	client *http.Client
}

// NewHTTP posts run summaries as JSON to url. An empty url disables posting.
func NewHTTP(url string) IService {
	return &httpService{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (svc *httpService) Post(ctx context.Context, summary model.RunSummary) error {
	if svc.url == "" {
		return nil
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		return fmt.Errorf("post run summary: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post run summary: unexpected status %s", resp.Status)
	}
	return nil
}
