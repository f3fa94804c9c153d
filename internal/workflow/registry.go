package workflow

import (
	"context"
	"fmt"
	"sort"

	"easel/internal/jobs"
	"easel/internal/services"
)

// Capability names an executable unit a step can bind to. The set is closed;
// an unrecognized name in a workflow definition is a configuration error.
type Capability string

const (
	CapabilityGenerate       Capability = "generate"
	CapabilityDownloadAsset  Capability = "download-asset"
	CapabilityUpload         Capability = "upload"
	CapabilityTag            Capability = "tag"
	CapabilityDeliverWebhook Capability = "deliver-webhook"
	CapabilityNoOp           Capability = "no-op"
)

var knownCapabilities = map[Capability]struct{}{
	CapabilityGenerate:       {},
	CapabilityDownloadAsset:  {},
	CapabilityUpload:         {},
	CapabilityTag:            {},
	CapabilityDeliverWebhook: {},
	CapabilityNoOp:           {},
}

// Processor executes one capability against a leased job. The returned
// payload, if any, is merged into the job's result on success.
type Processor interface {
	Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *jobs.Job) (jobs.Payload, error)

func (f ProcessorFunc) Process(ctx context.Context, job *jobs.Job) (jobs.Payload, error) {
	return f(ctx, job)
}

// Step describes what to run for one workflow state and where success and
// failure lead.
type Step struct {
	Process Capability
	Success jobs.Status
	// Failure is the state a recoverable failure returns to. Empty means the
	// pre-attempt state, which is the common retry-in-place shape.
	Failure jobs.Status
	// SkipFailureCounter leaves retry_count/last_retry untouched on failure,
	// so the attempt is retried without backoff growth.
	SkipFailureCounter bool
}

// Workflow is one named state machine.
type Workflow struct {
	Name  string
	Steps map[jobs.Status]Step
}

// Registry holds validated workflow definitions keyed by name.
type Registry struct {
	workflows map[string]*Workflow
}

// NewRegistry validates the supplied workflows and returns a registry. Every
// edge is checked at startup: unknown capabilities, steps keyed by terminal
// or non-leasable states, and success/failure targets that neither terminate
// nor resolve to another step are all rejected.
func NewRegistry(workflows ...*Workflow) (*Registry, error) {
	registry := &Registry{workflows: make(map[string]*Workflow, len(workflows))}
	for _, wf := range workflows {
		if wf == nil || wf.Name == "" {
			return nil, fmt.Errorf("workflow name is required")
		}
		if _, exists := registry.workflows[wf.Name]; exists {
			return nil, fmt.Errorf("workflow %q defined twice", wf.Name)
		}
		if err := validateWorkflow(wf); err != nil {
			return nil, err
		}
		registry.workflows[wf.Name] = wf
	}
	return registry, nil
}

func validateWorkflow(wf *Workflow) error {
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", wf.Name)
	}
	if _, ok := wf.Steps[jobs.StatusPending]; !ok {
		return fmt.Errorf("workflow %q has no pending entry point", wf.Name)
	}
	capabilityOwners := make(map[Capability]jobs.Status, len(wf.Steps))
	for state, step := range wf.Steps {
		if state.IsTerminal() {
			return fmt.Errorf("workflow %q: terminal state %q cannot have a step", wf.Name, state)
		}
		if !state.IsReady() {
			return fmt.Errorf("workflow %q: state %q is not leasable", wf.Name, state)
		}
		if _, ok := knownCapabilities[step.Process]; !ok {
			return fmt.Errorf("workflow %q: state %q uses unknown capability %q", wf.Name, state, step.Process)
		}
		if owner, dup := capabilityOwners[step.Process]; dup {
			return fmt.Errorf("workflow %q: capability %q bound by both %q and %q", wf.Name, step.Process, owner, state)
		}
		capabilityOwners[step.Process] = state
		if err := validateEdge(wf, state, "success", step.Success); err != nil {
			return err
		}
		if step.Failure != "" {
			if err := validateEdge(wf, state, "failure", step.Failure); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateEdge(wf *Workflow, state jobs.Status, kind string, target jobs.Status) error {
	if target == "" {
		return fmt.Errorf("workflow %q: state %q has no %s target", wf.Name, state, kind)
	}
	if target.IsTerminal() {
		return nil
	}
	if _, ok := wf.Steps[target]; !ok {
		return fmt.Errorf("workflow %q: state %q %s edge targets undefined state %q", wf.Name, state, kind, target)
	}
	return nil
}

// StepFor resolves the step to execute for a job in the given state. Unknown
// workflow keys and states without an entry are configuration errors; such a
// job can never progress on its own and must be escalated, never silently
// retried.
func (r *Registry) StepFor(workflow string, status jobs.Status) (Step, error) {
	wf, ok := r.workflows[workflow]
	if !ok {
		return Step{}, services.Wrap(services.ErrConfiguration, "", "resolve step",
			fmt.Sprintf("unknown workflow %q", workflow), nil)
	}
	step, ok := wf.Steps[status]
	if !ok {
		return Step{}, services.Wrap(services.ErrConfiguration, "", "resolve step",
			fmt.Sprintf("workflow %q has no step for status %q", workflow, status), nil)
	}
	return step, nil
}

// Workflows returns the registered workflow names in stable order.
func (r *Registry) Workflows() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a workflow is registered.
func (r *Registry) Has(workflow string) bool {
	_, ok := r.workflows[workflow]
	return ok
}

// StuckRemap returns, per workflow, the capability-marker statuses a crashed
// worker may have left behind mapped back to the state that owns them.
func (r *Registry) StuckRemap(workflow string) map[jobs.Status]jobs.Status {
	wf, ok := r.workflows[workflow]
	if !ok {
		return nil
	}
	remap := make(map[jobs.Status]jobs.Status, len(wf.Steps))
	for state, step := range wf.Steps {
		remap[jobs.Status(step.Process)] = state
	}
	return remap
}

// Builtin returns the registry of workflows shipped with the daemon.
func Builtin() (*Registry, error) {
	imageGeneration := &Workflow{
		Name: "image-generation",
		Steps: map[jobs.Status]Step{
			jobs.StatusPending: {
				Process: CapabilityGenerate,
				Success: "ready-for-upload",
			},
			"ready-for-upload": {
				Process: CapabilityUpload,
				Success: "ready-for-tagging",
			},
			"ready-for-tagging": {
				Process: CapabilityTag,
				Success: "ready-for-delivery",
			},
			"ready-for-delivery": {
				Process: CapabilityDeliverWebhook,
				Success: jobs.StatusCompleted,
			},
		},
	}
	assetImport := &Workflow{
		Name: "asset-import",
		Steps: map[jobs.Status]Step{
			jobs.StatusPending: {
				Process: CapabilityDownloadAsset,
				Success: "ready-for-upload",
			},
			"ready-for-upload": {
				Process: CapabilityUpload,
				Success: "ready-for-delivery",
			},
			"ready-for-delivery": {
				Process: CapabilityDeliverWebhook,
				Success: jobs.StatusCompleted,
			},
		},
	}
	passthrough := &Workflow{
		Name: "passthrough",
		Steps: map[jobs.Status]Step{
			jobs.StatusPending: {
				Process: CapabilityNoOp,
				Success: "ready-for-delivery",
			},
			"ready-for-delivery": {
				Process: CapabilityDeliverWebhook,
				Success: jobs.StatusCompleted,
			},
		},
	}
	return NewRegistry(imageGeneration, assetImport, passthrough)
}
