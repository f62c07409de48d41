package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/featurehub-ai/platform/pkg/dataset"
)

const stderrLimit = 64 * 1024

// ProcessRunner starts a fresh worker process for every call and never
// reuses it. The feature and a serialized copy of the dataset travel over
// stdin; the wall-clock limit kills the worker's whole process group.
type ProcessRunner struct {
	Command        string
	Args           []string
	Env            []string
	Limits         Limits
	MaxOutputBytes int
}

func NewProcessRunner(command string, limits Limits, maxOutput int) *ProcessRunner {
	return &ProcessRunner{Command: command, Limits: limits, MaxOutputBytes: maxOutput}
}

func (p *ProcessRunner) Run(ctx context.Context, feature Feature, ds *dataset.Dataset) (*Result, error) {
	payload, err := json.Marshal(workerRequest{Feature: feature, Dataset: ds, MaxSteps: p.Limits.MaxSteps})
	if err != nil {
		return nil, fmt.Errorf("encode worker job: %w", err)
	}

	timeout := p.Limits.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.Command, p.Args...)
	if len(p.Env) > 0 {
		cmd.Env = p.Env
	}
	cmd.Stdin = bytes.NewReader(payload)
	maxOutput := p.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 64 * 1024 * 1024
	}
	stdout := &limitedBuffer{limit: maxOutput}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Log.WithFields(map[string]interface{}{
			"timeout": timeout.String(),
			"elapsed": elapsed.String(),
		}).Warn("feature worker timed out")
		return nil, &Fault{Kind: FaultTimeout, Message: fmt.Sprintf("%s after %s", ErrTimeout.Error(), timeout)}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("start feature worker: %w", runErr)
		}
		return nil, &Fault{
			Kind:    FaultCrash,
			Message: fmt.Sprintf("worker exited with code %d", exitErr.ExitCode()),
			Trace:   strings.TrimSpace(stderr.String()),
		}
	}
	if stdout.truncated {
		return nil, &Fault{Kind: FaultResult, Message: fmt.Sprintf("returned value exceeds %d bytes", maxOutput)}
	}

	var resp workerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, &Fault{Kind: FaultCrash, Message: fmt.Sprintf("malformed worker output: %v", err), Trace: strings.TrimSpace(stderr.String())}
	}
	if resp.Fault != nil {
		return nil, resp.Fault
	}
	return &Result{
		Values:      resp.Values,
		Fingerprint: resp.Fingerprint,
		Steps:       resp.Steps,
		Elapsed:     elapsed,
	}, nil
}

// limitedBuffer keeps the first limit bytes and drops the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.Buffer.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
