package health

import (
	"context"
	"strings"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/rpc"
)

// HTTPProber probes an agent's health endpoint over HTTP (GET endpoint +
// "/health"), decoding the HealthReport JSON document it returns.
type HTTPProber struct{}

// Probe implements Prober.
func (HTTPProber) Probe(ctx context.Context, endpoint string) (model.HealthReport, error) {
	url := endpoint
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	var report model.HealthReport
	if err := rpc.GetJSON(ctx, url, &report); err != nil {
		return model.HealthReport{}, err
	}
	return report, nil
}
