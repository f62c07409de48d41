package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/featurehub-ai/platform/pkg/dataset"
)

// workerRequest is written to the worker's stdin as a single JSON document.
type workerRequest struct {
	Feature  Feature          `json:"feature"`
	Dataset  *dataset.Dataset `json:"dataset"`
	MaxSteps uint64           `json:"max_steps,omitempty"`
}

// workerResponse is the worker's single JSON document on stdout.
type workerResponse struct {
	Values      interface{} `json:"values"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Steps       uint64      `json:"steps,omitempty"`
	Fault       *Fault      `json:"fault,omitempty"`
}

// ServeWorker runs exactly one job read from r and writes the outcome to w.
// Feature faults are reported in the response; the returned error is only
// for protocol failures, and the worker process should then exit non-zero.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	var req workerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	if req.Dataset == nil {
		return fmt.Errorf("decode job: missing dataset")
	}

	var resp workerResponse
	exec, err := execute(ctx, req.Feature, req.Dataset, req.MaxSteps)
	if err != nil {
		fault, ok := AsFault(err)
		if !ok {
			return err
		}
		resp.Fault = fault
	} else {
		resp.Values = exec.values
		resp.Fingerprint = dataset.Fingerprint(exec.after)
		resp.Steps = exec.steps
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
