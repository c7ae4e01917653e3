package dag

import (
	"time"
)

// NodeStatus is a node's lifecycle state.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeQueued    NodeStatus = "queued"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	}
	return false
}

// Condition gates a dependency edge on the parent's terminal status.
type Condition string

const (
	OnSuccess        Condition = "onSuccess"
	OnFailure        Condition = "onFailure"
	OnPartialSuccess Condition = "onPartialSuccess"
	Always           Condition = "always"
)

// Satisfied reports whether the parent's status meets the condition.
func (c Condition) Satisfied(parent NodeStatus) bool {
	switch c {
	case OnSuccess:
		return parent == NodeCompleted
	case OnFailure:
		return parent == NodeFailed
	case OnPartialSuccess:
		return parent == NodeCompleted || parent == NodeFailed
	case Always:
		return parent.Terminal()
	}
	return false
}

// Dependency is one edge into a node. An optional guard is a CEL expression
// over the parent's result; it must evaluate true for the edge to be
// satisfied.
type Dependency struct {
	ParentID  string    `json:"parent_id"`
	Condition Condition `json:"condition"`
	Guard     string    `json:"guard,omitempty"`
}

// Node is one job inside a workflow.
type Node struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`

	Status NodeStatus `json:"status"`
	Result any        `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
	JobID  string     `json:"job_id,omitempty"` // backing queue job
}

// WorkflowStatus is a workflow's lifecycle state.
type WorkflowStatus string

const (
	WorkflowPending            WorkflowStatus = "pending"
	WorkflowRunning            WorkflowStatus = "running"
	WorkflowCompleted          WorkflowStatus = "completed"
	WorkflowFailed             WorkflowStatus = "failed"
	WorkflowPartiallyCompleted WorkflowStatus = "partially_completed"
	WorkflowCancelled          WorkflowStatus = "cancelled"
)

// Terminal reports whether the workflow can change no further.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowPartiallyCompleted, WorkflowCancelled:
		return true
	}
	return false
}

// Workflow is a DAG of nodes. The engine exclusively owns workflow records;
// callers receive snapshots.
type Workflow struct {
	ID    string           `json:"id"`
	Name  string           `json:"name,omitempty"`
	Nodes map[string]*Node `json:"nodes"`

	// Forward and reverse adjacency, derived at validation time.
	Forward map[string][]string `json:"-"`
	Reverse map[string][]string `json:"-"`

	// TopoOrder is the cached topological order, for debugging and
	// reporting.
	TopoOrder []string `json:"topo_order,omitempty"`

	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// snapshot deep-copies the workflow for lock-free reads
func (w *Workflow) snapshot() *Workflow {
	cp := *w
	cp.Nodes = make(map[string]*Node, len(w.Nodes))
	for id, node := range w.Nodes {
		n := *node
		n.Dependencies = append([]Dependency(nil), node.Dependencies...)
		cp.Nodes[id] = &n
	}
	cp.TopoOrder = append([]string(nil), w.TopoOrder...)
	return &cp
}

// roots returns nodes with no dependencies
func (w *Workflow) roots() []*Node {
	var out []*Node
	for _, id := range w.TopoOrder {
		if node := w.Nodes[id]; len(node.Dependencies) == 0 {
			out = append(out, node)
		}
	}
	return out
}
