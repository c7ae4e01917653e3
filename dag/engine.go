// Package dag implements the workflow engine: dependency-resolved execution
// of job graphs with conditional edges, cycle detection, topological
// scheduling and forward propagation of upstream results.
package dag

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axiomflow/orchestrator/common/events"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/queue"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// workflowState pairs a workflow with its per-workflow lock. Node status
// transitions happen under this lock; reads take snapshots.
type workflowState struct {
	mu sync.Mutex
	wf *Workflow
}

// Engine owns workflow records and advances them on queue events.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*workflowState

	queue  *queue.Queue
	bus    *events.Bus
	log    Logger
	guards *guardEvaluator
	now    func() time.Time
}

// Opts contains options for creating an engine
type Opts struct {
	Queue  *queue.Queue
	Bus    *events.Bus
	Logger Logger
}

// New creates a workflow engine
func New(opts *Opts) (*Engine, error) {
	guards, err := newGuardEvaluator(opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		workflows: make(map[string]*workflowState),
		queue:     opts.Queue,
		bus:       opts.Bus,
		log:       opts.Logger,
		guards:    guards,
		now:       time.Now,
	}, nil
}

// Start subscribes the engine to queue events and installs the cancelled-
// workflow gate. Must run before the queue starts dispatching.
func (e *Engine) Start() {
	e.bus.Subscribe(events.JobStarted, func(ctx context.Context, ev events.Event) {
		if ev.WorkflowID != "" {
			e.markRunning(ev.WorkflowID, ev.NodeID)
		}
	})
	e.bus.Subscribe(events.DAGJobCompleted, func(ctx context.Context, ev events.Event) {
		e.advance(ctx, ev.WorkflowID, ev.NodeID, ev.Result, "", false)
	})
	e.bus.Subscribe(events.DAGJobFailed, func(ctx context.Context, ev events.Event) {
		e.advance(ctx, ev.WorkflowID, ev.NodeID, nil, ev.Error, true)
	})
	e.queue.SetWorkflowGate(e.cancelled)
}

// Validate runs the structural checks without submitting
func (e *Engine) Validate(wf *Workflow) ValidationResult {
	if wf == nil {
		return ValidationResult{Errors: []string{"workflow is nil"}}
	}
	normalizeNodeIDs(wf)
	res := validate(wf)
	if res.Valid {
		if err := e.guards.validateGuards(wf); err != nil {
			res.Valid = false
			res.Errors = append(res.Errors, err.Error())
		}
	}
	return res
}

// Submit validates, registers and starts a workflow. Root nodes are
// enqueued immediately; the returned snapshot reflects that first wave.
func (e *Engine) Submit(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if res := e.Validate(wf); !res.Valid {
		return nil, engerr.E(engerr.KindInvalidInput, "invalid workflow: %s", strings.Join(res.Errors, "; "))
	}

	wf.ID = uuid.NewString()
	wf.Status = WorkflowRunning
	wf.CreatedAt = e.now()
	wf.CompletedAt = nil
	for _, node := range wf.Nodes {
		node.Status = NodePending
		node.Result = nil
		node.Error = ""
		node.JobID = ""
	}

	st := &workflowState{wf: wf}
	e.mu.Lock()
	e.workflows[wf.ID] = st
	e.mu.Unlock()

	e.log.Info("workflow submitted", "workflow_id", wf.ID, "name", wf.Name, "nodes", len(wf.Nodes))

	e.schedule(ctx, st)
	return e.Get(wf.ID)
}

// Get returns a snapshot of a workflow
func (e *Engine) Get(id string) (*Workflow, error) {
	st := e.lookup(id)
	if st == nil {
		return nil, engerr.E(engerr.KindNotFound, "workflow %s not found", id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.wf.snapshot(), nil
}

// List returns snapshots of every workflow, oldest first
func (e *Engine) List() []*Workflow {
	e.mu.RLock()
	states := make([]*workflowState, 0, len(e.workflows))
	for _, st := range e.workflows {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]*Workflow, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.wf.snapshot())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cancel stops a running workflow: pending and queued nodes become
// cancelled and later completion events for its nodes are discarded.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	st := e.lookup(id)
	if st == nil {
		return engerr.E(engerr.KindNotFound, "workflow %s not found", id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.wf.Status.Terminal() {
		return engerr.E(engerr.KindAlreadyTerminal, "workflow %s is already %s", id, st.wf.Status)
	}

	for _, node := range st.wf.Nodes {
		if node.Status == NodePending || node.Status == NodeQueued {
			node.Status = NodeCancelled
		}
	}
	now := e.now()
	st.wf.Status = WorkflowCancelled
	st.wf.CompletedAt = &now

	e.log.Info("workflow cancelled", "workflow_id", id)
	return nil
}

// cancelled is the queue's dispatch gate
func (e *Engine) cancelled(workflowID string) bool {
	st := e.lookup(workflowID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.wf.Status == WorkflowCancelled
}

// lookup returns the live state for a workflow id
func (e *Engine) lookup(id string) *workflowState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflows[id]
}

// markRunning transitions a queued node to running when its job starts
func (e *Engine) markRunning(workflowID, nodeID string) {
	st := e.lookup(workflowID)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.wf.Status.Terminal() {
		return
	}
	if node, ok := st.wf.Nodes[nodeID]; ok && node.Status == NodeQueued {
		node.Status = NodeRunning
	}
}

// advance applies one terminal job event and schedules the next wave.
// Events for unknown or terminal workflows are discarded.
func (e *Engine) advance(ctx context.Context, workflowID, nodeID string, result any, errMsg string, failed bool) {
	st := e.lookup(workflowID)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.wf.Status.Terminal() {
		st.mu.Unlock()
		return
	}
	node, ok := st.wf.Nodes[nodeID]
	if !ok || node.Status.Terminal() {
		st.mu.Unlock()
		return
	}

	if failed {
		node.Status = NodeFailed
		node.Error = errMsg
		e.log.Warn("workflow node failed", "workflow_id", workflowID, "node_id", nodeID, "error", errMsg)
	} else {
		node.Status = NodeCompleted
		node.Result = result
		e.log.Debug("workflow node completed", "workflow_id", workflowID, "node_id", nodeID)
	}

	e.propagateSkipsLocked(st.wf)
	e.finalizeLocked(st.wf)
	st.mu.Unlock()

	e.schedule(ctx, st)
}

// schedule enqueues every ready node. Jobs are built under the workflow
// lock but handed to the queue outside it; an enqueue failure marks the
// node failed and triggers another advance round.
func (e *Engine) schedule(ctx context.Context, st *workflowState) {
	for {
		st.mu.Lock()
		if st.wf.Status.Terminal() {
			st.mu.Unlock()
			return
		}

		type pendingJob struct {
			nodeID string
			job    *queue.Job
		}
		var wave []pendingJob
		for _, id := range st.wf.TopoOrder {
			node := st.wf.Nodes[id]
			if node.Status != NodePending || !e.depsSatisfiedLocked(st.wf, node) {
				continue
			}
			node.Status = NodeQueued
			wave = append(wave, pendingJob{nodeID: id, job: e.buildJobLocked(st.wf, node)})
		}
		st.mu.Unlock()

		if len(wave) == 0 {
			return
		}

		var enqueueFailures map[string]error
		for _, pj := range wave {
			id, err := e.queue.Add(ctx, pj.job)
			if err != nil {
				if enqueueFailures == nil {
					enqueueFailures = make(map[string]error)
				}
				enqueueFailures[pj.nodeID] = err
				continue
			}
			st.mu.Lock()
			st.wf.Nodes[pj.nodeID].JobID = id
			st.mu.Unlock()
		}

		if len(enqueueFailures) == 0 {
			return
		}

		st.mu.Lock()
		for nodeID, err := range enqueueFailures {
			node := st.wf.Nodes[nodeID]
			node.Status = NodeFailed
			node.Error = err.Error()
			e.log.Error("failed to enqueue workflow node",
				"workflow_id", st.wf.ID, "node_id", nodeID, "error", err)
		}
		e.propagateSkipsLocked(st.wf)
		e.finalizeLocked(st.wf)
		st.mu.Unlock()
		// Failure edges may have opened new ready nodes
	}
}

// depsSatisfiedLocked reports whether every dependency edge of a node is
// satisfied. Caller holds the workflow lock.
func (e *Engine) depsSatisfiedLocked(wf *Workflow, node *Node) bool {
	for _, dep := range node.Dependencies {
		if !e.edgeSatisfied(dep, wf.Nodes[dep.ParentID]) {
			return false
		}
	}
	return true
}

// buildJobLocked creates the queue job for a ready node, forwarding every
// defined parent result. Caller holds the workflow lock.
func (e *Engine) buildJobLocked(wf *Workflow, node *Node) *queue.Job {
	upstream := make(map[string]any)
	for _, dep := range node.Dependencies {
		if parent := wf.Nodes[dep.ParentID]; parent.Result != nil {
			upstream[dep.ParentID] = parent.Result
		}
	}

	return &queue.Job{
		Type:     node.Type,
		Payload:  node.Payload,
		Priority: node.Priority,
		Metadata: map[string]any{
			"workflow_id": wf.ID,
			"node_id":     node.ID,
		},
		Workflow: &queue.WorkflowRef{
			WorkflowID:      wf.ID,
			NodeID:          node.ID,
			UpstreamResults: upstream,
		},
	}
}

// propagateSkipsLocked marks doomed nodes skipped until no change: a
// pending node with any edge whose parent is terminal but unsatisfied can
// never run. Caller holds the workflow lock.
func (e *Engine) propagateSkipsLocked(wf *Workflow) {
	for changed := true; changed; {
		changed = false
		for _, node := range wf.Nodes {
			if node.Status != NodePending {
				continue
			}
			for _, dep := range node.Dependencies {
				parent := wf.Nodes[dep.ParentID]
				if parent.Status.Terminal() && !e.edgeSatisfied(dep, parent) {
					node.Status = NodeSkipped
					changed = true
					break
				}
			}
		}
	}
}

// finalizeLocked settles the workflow status once every node is terminal.
// Caller holds the workflow lock.
func (e *Engine) finalizeLocked(wf *Workflow) {
	if wf.Status.Terminal() {
		return
	}
	for _, node := range wf.Nodes {
		if !node.Status.Terminal() {
			return
		}
	}

	var hasCompleted, hasFailed bool
	for _, node := range wf.Nodes {
		switch node.Status {
		case NodeCompleted:
			hasCompleted = true
		case NodeFailed:
			hasFailed = true
		}
	}

	switch {
	case hasFailed && hasCompleted:
		wf.Status = WorkflowPartiallyCompleted
	case hasFailed:
		wf.Status = WorkflowFailed
	default:
		wf.Status = WorkflowCompleted
	}
	now := e.now()
	wf.CompletedAt = &now

	e.log.Info("workflow finished", "workflow_id", wf.ID, "status", wf.Status)
}

// normalizeNodeIDs fills node IDs from map keys
func normalizeNodeIDs(wf *Workflow) {
	for id, node := range wf.Nodes {
		if node.ID == "" {
			node.ID = id
		}
	}
}
