package dag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axiomflow/orchestrator/common/events"
	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/queue"
	"github.com/axiomflow/orchestrator/retry"
)

// testLogger discards output
type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}
func (testLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (testLogger) Debug(msg string, keysAndValues ...interface{}) {}

type engineFixture struct {
	engine *Engine
	queue  *queue.Queue

	mu        sync.Mutex
	upstreams map[string]map[string]any // node id -> upstream results seen
	payloads  map[string]map[string]any // node id -> payload seen
}

// newEngineFixture wires a real queue, bus and engine around a per-node-type
// executor function.
func newEngineFixture(t *testing.T, execute func(ctx context.Context, job *queue.Job) (any, error)) *engineFixture {
	t.Helper()

	resolver, err := retry.NewResolver(nil)
	require.NoError(t, err)

	bus := events.NewBus(testLogger{})
	q := queue.New(&queue.Opts{
		Store:    queue.NewMemoryStore(),
		Resolver: resolver,
		Bus:      bus,
		Logger:   testLogger{},
		Config:   queue.Config{Workers: 4},
	})

	eng, err := New(&Opts{Queue: q, Bus: bus, Logger: testLogger{}})
	require.NoError(t, err)
	eng.Start()

	fx := &engineFixture{
		engine:    eng,
		queue:     q,
		upstreams: make(map[string]map[string]any),
		payloads:  make(map[string]map[string]any),
	}

	q.SetExecute(func(ctx context.Context, job *queue.Job) (any, error) {
		if job.Workflow != nil {
			fx.mu.Lock()
			fx.upstreams[job.Workflow.NodeID] = job.Workflow.UpstreamResults
			fx.payloads[job.Workflow.NodeID] = job.Payload
			fx.mu.Unlock()
		}
		return execute(ctx, job)
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() {
		cancel()
		q.Stop(context.Background())
	})

	return fx
}

func (fx *engineFixture) upstreamOf(nodeID string) map[string]any {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.upstreams[nodeID]
}

func waitForWorkflow(t *testing.T, e *Engine, id string, want WorkflowStatus) *Workflow {
	t.Helper()
	var wf *Workflow
	require.Eventually(t, func() bool {
		got, err := e.Get(id)
		if err != nil {
			return false
		}
		wf = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond, "workflow %s never reached %s", id, want)
	return wf
}

func waitForNode(t *testing.T, e *Engine, workflowID, nodeID string, want NodeStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		wf, err := e.Get(workflowID)
		return err == nil && wf.Nodes[nodeID].Status == want
	}, 5*time.Second, 10*time.Millisecond, "node %s never reached %s", nodeID, want)
}

func TestWorkflowLinearPipeline(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		switch job.Type {
		case "extract":
			return map[string]any{"rows": 500}, nil
		case "transform":
			return map[string]any{"rows": 480}, nil
		default:
			return map[string]any{"loaded": true}, nil
		}
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Name: "etl",
		Nodes: map[string]*Node{
			"extract":   {Type: "extract"},
			"transform": {Type: "transform", Dependencies: []Dependency{{ParentID: "extract", Condition: OnSuccess}}},
			"load":      {Type: "load", Dependencies: []Dependency{{ParentID: "transform", Condition: OnSuccess}}},
		},
	})
	require.NoError(t, err)

	final := waitForWorkflow(t, fx.engine, wf.ID, WorkflowCompleted)
	for id, n := range final.Nodes {
		require.Equal(t, NodeCompleted, n.Status, "node %s", id)
	}
	require.NotNil(t, final.CompletedAt)

	require.Equal(t,
		map[string]any{"extract": map[string]any{"rows": 500}},
		fx.upstreamOf("transform"),
		"transform should receive the extract result")
	require.Equal(t,
		map[string]any{"transform": map[string]any{"rows": 480}},
		fx.upstreamOf("load"))
	require.Empty(t, fx.upstreamOf("extract"), "roots have no upstream results")
}

func TestWorkflowErrorBranch(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		if job.Type == "process" {
			return nil, engerr.E(engerr.KindNonRetryable, "corrupt input")
		}
		return "ok", nil
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Name: "branching",
		Nodes: map[string]*Node{
			"fetch":   {Type: "fetch"},
			"process": {Type: "process", Dependencies: []Dependency{{ParentID: "fetch", Condition: OnSuccess}}},
			"publish": {Type: "publish", Dependencies: []Dependency{{ParentID: "process", Condition: OnSuccess}}},
			"alert":   {Type: "alert", Dependencies: []Dependency{{ParentID: "process", Condition: OnFailure}}},
			"cleanup": {Type: "cleanup", Dependencies: []Dependency{{ParentID: "process", Condition: Always}}},
		},
	})
	require.NoError(t, err)

	final := waitForWorkflow(t, fx.engine, wf.ID, WorkflowPartiallyCompleted)
	require.Equal(t, NodeCompleted, final.Nodes["fetch"].Status)
	require.Equal(t, NodeFailed, final.Nodes["process"].Status)
	require.Contains(t, final.Nodes["process"].Error, "corrupt input")
	require.Equal(t, NodeSkipped, final.Nodes["publish"].Status, "success branch must be skipped")
	require.Equal(t, NodeCompleted, final.Nodes["alert"].Status, "failure branch must run")
	require.Equal(t, NodeCompleted, final.Nodes["cleanup"].Status, "always branch must run")
}

func TestWorkflowFanOutFanIn(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		return map[string]any{"from": job.Type}, nil
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Name: "fanout",
		Nodes: map[string]*Node{
			"fetch":   {Type: "fetch"},
			"shard-a": {Type: "shard-a", Dependencies: []Dependency{{ParentID: "fetch", Condition: OnSuccess}}},
			"shard-b": {Type: "shard-b", Dependencies: []Dependency{{ParentID: "fetch", Condition: OnSuccess}}},
			"shard-c": {Type: "shard-c", Dependencies: []Dependency{{ParentID: "fetch", Condition: OnSuccess}}},
			"join": {Type: "join", Dependencies: []Dependency{
				{ParentID: "shard-a", Condition: OnSuccess},
				{ParentID: "shard-b", Condition: OnSuccess},
				{ParentID: "shard-c", Condition: OnSuccess},
			}},
		},
	})
	require.NoError(t, err)

	waitForWorkflow(t, fx.engine, wf.ID, WorkflowCompleted)

	joined := fx.upstreamOf("join")
	require.Len(t, joined, 3, "join must see every shard result")
	require.Equal(t, map[string]any{"from": "shard-a"}, joined["shard-a"])
	require.Equal(t, map[string]any{"from": "shard-b"}, joined["shard-b"])
	require.Equal(t, map[string]any{"from": "shard-c"}, joined["shard-c"])
}

func TestWorkflowGuardedEdges(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		if job.Type == "count" {
			return map[string]any{"rows": 10}, nil
		}
		return "ok", nil
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Name: "guarded",
		Nodes: map[string]*Node{
			"count": {Type: "count"},
			"bulk-path": {Type: "bulk", Dependencies: []Dependency{
				{ParentID: "count", Condition: OnSuccess, Guard: "result.rows > 100"},
			}},
			"light-path": {Type: "light", Dependencies: []Dependency{
				{ParentID: "count", Condition: OnSuccess, Guard: "result.rows <= 100"},
			}},
		},
	})
	require.NoError(t, err)

	final := waitForWorkflow(t, fx.engine, wf.ID, WorkflowCompleted)
	require.Equal(t, NodeSkipped, final.Nodes["bulk-path"].Status, "failed guard must skip the node")
	require.Equal(t, NodeCompleted, final.Nodes["light-path"].Status)
}

func TestWorkflowCancel(t *testing.T) {
	block := make(chan struct{})
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		<-block
		return "late", nil
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Nodes: map[string]*Node{
			"first":  {Type: "slow"},
			"second": {Type: "slow", Dependencies: []Dependency{{ParentID: "first", Condition: OnSuccess}}},
		},
	})
	require.NoError(t, err)

	waitForNode(t, fx.engine, wf.ID, "first", NodeRunning)
	require.NoError(t, fx.engine.Cancel(context.Background(), wf.ID))

	got, err := fx.engine.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCancelled, got.Status)
	require.Equal(t, NodeCancelled, got.Nodes["second"].Status, "pending nodes become cancelled")

	err = fx.engine.Cancel(context.Background(), wf.ID)
	require.True(t, engerr.IsKind(err, engerr.KindAlreadyTerminal))

	// A completion arriving after cancellation is discarded
	close(block)
	time.Sleep(200 * time.Millisecond)
	got, err = fx.engine.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCancelled, got.Status)
	require.NotEqual(t, NodeCompleted, got.Nodes["first"].Status)
}

func TestWorkflowCancelUnknown(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		return nil, nil
	})

	err := fx.engine.Cancel(context.Background(), "missing")
	require.True(t, engerr.IsKind(err, engerr.KindNotFound))
}

func TestSubmitRejectsInvalidWorkflow(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		return nil, nil
	})

	_, err := fx.engine.Submit(context.Background(), &Workflow{
		Nodes: map[string]*Node{
			"a": {Type: "t", Dependencies: []Dependency{{ParentID: "b", Condition: OnSuccess}}},
			"b": {Type: "t", Dependencies: []Dependency{{ParentID: "a", Condition: OnSuccess}}},
		},
	})
	require.True(t, engerr.IsKind(err, engerr.KindInvalidInput))
}

func TestValidateRejectsBadGuard(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		return nil, nil
	})

	res := fx.engine.Validate(&Workflow{
		Nodes: map[string]*Node{
			"a": {Type: "t"},
			"b": {Type: "t", Dependencies: []Dependency{
				{ParentID: "a", Condition: OnSuccess, Guard: "result.rows >"},
			}},
		},
	})
	require.False(t, res.Valid, "malformed guard must fail validation")
}

func TestPatchNode(t *testing.T) {
	block := make(chan struct{})
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		if job.Type == "gate" {
			<-block
		}
		return "ok", nil
	})

	wf, err := fx.engine.Submit(context.Background(), &Workflow{
		Nodes: map[string]*Node{
			"gate": {Type: "gate"},
			"after": {
				Type:         "after",
				Payload:      map[string]any{"mode": "fast", "limit": float64(10)},
				Dependencies: []Dependency{{ParentID: "gate", Condition: OnSuccess}},
			},
		},
	})
	require.NoError(t, err)

	// Pending nodes accept a merge patch
	node, err := fx.engine.PatchNode(context.Background(), wf.ID, "after", []byte(`{"mode":"thorough","extra":true}`))
	require.NoError(t, err)
	require.Equal(t, "thorough", node.Payload["mode"])
	require.Equal(t, true, node.Payload["extra"])
	require.Equal(t, float64(10), node.Payload["limit"], "unpatched fields survive")

	// Queued and running nodes reject patches
	_, err = fx.engine.PatchNode(context.Background(), wf.ID, "gate", []byte(`{}`))
	require.True(t, engerr.IsKind(err, engerr.KindInvalidInput))

	_, err = fx.engine.PatchNode(context.Background(), wf.ID, "missing", []byte(`{}`))
	require.True(t, engerr.IsKind(err, engerr.KindNotFound))

	_, err = fx.engine.PatchNode(context.Background(), "missing", "after", []byte(`{}`))
	require.True(t, engerr.IsKind(err, engerr.KindNotFound))

	close(block)
	waitForWorkflow(t, fx.engine, wf.ID, WorkflowCompleted)

	fx.mu.Lock()
	payload := fx.payloads["after"]
	fx.mu.Unlock()
	require.Equal(t, "thorough", payload["mode"], "the patched payload reaches execution")
}

func TestEngineGetAndList(t *testing.T) {
	fx := newEngineFixture(t, func(ctx context.Context, job *queue.Job) (any, error) {
		return nil, nil
	})

	_, err := fx.engine.Get("missing")
	require.True(t, engerr.IsKind(err, engerr.KindNotFound))

	first, err := fx.engine.Submit(context.Background(), &Workflow{Nodes: map[string]*Node{"a": {Type: "t"}}})
	require.NoError(t, err)
	second, err := fx.engine.Submit(context.Background(), &Workflow{Nodes: map[string]*Node{"a": {Type: "t"}}})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	listed := fx.engine.List()
	require.Len(t, listed, 2)
	require.Equal(t, first.ID, listed[0].ID, "list is ordered oldest first")
}
