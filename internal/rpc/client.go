package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/fleetmesh/internal/model"
)

// defaultClient is shared across every helper in this package so connections
// are pooled across calls to different targets instead of dialing fresh each
// time.
var defaultClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as a JSON POST to url and decodes the response into
// out. Pass a nil out to discard the response body after checking status.
// Non-2xx responses are reported as model.KindUnavailable so coordinator
// retry policy can act on them without inspecting status codes itself.
func PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return model.Wrap(model.KindFatal, "rpc", "marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return model.Wrap(model.KindFatal, "rpc", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return do(req, out, url)
}

// GetJSON sends a GET request to url and decodes the response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return model.Wrap(model.KindFatal, "rpc", "build request", err)
	}
	return do(req, out, url)
}

func do(req *http.Request, out any, url string) error {
	resp, err := defaultClient.Do(req)
	if err != nil {
		return model.Wrap(model.KindUnavailable, "rpc", fmt.Sprintf("%s %s", req.Method, url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return model.Wrap(model.KindUnavailable, "rpc",
			fmt.Sprintf("%s %s returned status %d", req.Method, url, resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.Wrap(model.KindFatal, "rpc", "decode response body", err)
	}
	return nil
}
