package dag

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
)

// PatchNode applies an RFC 7386 merge patch to the payload of a node that
// has not started yet. Queued, running and terminal nodes reject the patch.
func (e *Engine) PatchNode(ctx context.Context, workflowID, nodeID string, mergePatch []byte) (*Node, error) {
	st := e.lookup(workflowID)
	if st == nil {
		return nil, engerr.E(engerr.KindNotFound, "workflow %s not found", workflowID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.wf.Status.Terminal() {
		return nil, engerr.E(engerr.KindAlreadyTerminal, "workflow %s is already %s", workflowID, st.wf.Status)
	}
	node, ok := st.wf.Nodes[nodeID]
	if !ok {
		return nil, engerr.E(engerr.KindNotFound, "node %s not found in workflow %s", nodeID, workflowID)
	}
	if node.Status != NodePending {
		return nil, engerr.E(engerr.KindInvalidInput, "node %s is %s, only pending nodes can be patched", nodeID, node.Status)
	}

	current, err := json.Marshal(node.Payload)
	if err != nil {
		return nil, engerr.Wrap(engerr.KindInvalidInput, err, "failed to serialize node payload")
	}

	patched, err := jsonpatch.MergePatch(current, mergePatch)
	if err != nil {
		return nil, engerr.Wrap(engerr.KindInvalidInput, err, "failed to apply merge patch")
	}

	var payload map[string]any
	if err := json.Unmarshal(patched, &payload); err != nil {
		return nil, engerr.Wrap(engerr.KindInvalidInput, err, "patched payload is not an object")
	}
	node.Payload = payload

	e.log.Info("workflow node patched", "workflow_id", workflowID, "node_id", nodeID)

	cp := *node
	cp.Dependencies = append([]Dependency(nil), node.Dependencies...)
	return &cp, nil
}
