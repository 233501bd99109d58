// Package executors defines the infrastructure-mutation collaborator
// interfaces consumed by the remediation agent. Real deployments bind these
// to a build pipeline, a command-automation service, and a function runtime;
// the dry-run implementations record the dispatch without mutating anything.
package executors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// BuildRunner starts restore pipelines for image-build runbook steps.
type BuildRunner interface {
	// StartBuild kicks off the named build project with environment
	// overrides and returns the build id. The call is asynchronous; the
	// remediation agent does not wait for completion.
	StartBuild(ctx context.Context, project string, env map[string]string) (string, error)
}

// CommandDispatcher runs named automation documents against a resource.
type CommandDispatcher interface {
	// Dispatch sends the document to the resource and returns the command
	// id. Parameters are document-specific.
	Dispatch(ctx context.Context, document, resourceID string, params map[string][]string) (string, error)
}

// FunctionInvoker invokes a remediation function synchronously.
type FunctionInvoker interface {
	Invoke(ctx context.Context, functionName string, payload []byte) ([]byte, error)
}

// Set bundles the three mutation collaborators handed to remediation.
type Set struct {
	Builds    BuildRunner
	Commands  CommandDispatcher
	Functions FunctionInvoker
}

// DryRunSet returns a Set whose executors log and record dispatches without
// touching infrastructure. Used when no real collaborators are configured.
func DryRunSet(logger *slog.Logger) *Set {
	dr := &DryRun{logger: logger}
	return &Set{Builds: dr, Commands: dr, Functions: dr}
}

// DryRun implements all three executor interfaces by recording calls.
type DryRun struct {
	mu     sync.Mutex
	logger *slog.Logger

	// Dispatches holds one entry per call, newest last.
	Dispatches []string
}

var (
	_ BuildRunner       = (*DryRun)(nil)
	_ CommandDispatcher = (*DryRun)(nil)
	_ FunctionInvoker   = (*DryRun)(nil)
)

func (d *DryRun) StartBuild(_ context.Context, project string, env map[string]string) (string, error) {
	id := "build-" + uuid.New().String()
	d.record(fmt.Sprintf("build %s project=%s env=%v", id, project, env))
	return id, nil
}

func (d *DryRun) Dispatch(_ context.Context, document, resourceID string, params map[string][]string) (string, error) {
	id := "command-" + uuid.New().String()
	d.record(fmt.Sprintf("command %s document=%s resource=%s params=%v", id, document, resourceID, params))
	return id, nil
}

func (d *DryRun) Invoke(_ context.Context, functionName string, payload []byte) ([]byte, error) {
	d.record(fmt.Sprintf("function %s payload=%dB", functionName, len(payload)))
	return []byte(`{"status":"dry_run"}`), nil
}

// Calls returns a copy of the recorded dispatches.
func (d *DryRun) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Dispatches))
	copy(out, d.Dispatches)
	return out
}

func (d *DryRun) record(entry string) {
	d.mu.Lock()
	d.Dispatches = append(d.Dispatches, entry)
	d.mu.Unlock()
	if d.logger != nil {
		d.logger.Info("dry-run executor dispatch", "dispatch", entry)
	}
}
