package parse

import (
	"encoding/json"
	"fmt"

	"tracelens/internal/envelope"
)

// exprNode is one rendered node of the symbolic expression provenance tree.
type exprNode struct {
	Result    string          `json:"result"`
	Method    string          `json:"method,omitempty"`
	Arguments []string        `json:"arguments,omitempty"`
	UserStack []resolvedFrame `json:"user_stack,omitempty"`
	Stack     []resolvedFrame `json:"stack,omitempty"`
	Children  []*exprNode     `json:"children,omitempty"`
}

// buildExprTree walks the symbolic expression arena depth-first from the
// given node id. The arena can contain reference cycles; already-visited
// nodes are emitted as leaves so the walk always terminates.
func buildExprTree(ix *indexes, nodeID uint64, visited map[uint64]bool) *exprNode {
	info, ok := ix.symExprs[nodeID]
	if !ok {
		return nil
	}
	node := &exprNode{
		Result:    deref(info.Result),
		Method:    deref(info.Method),
		Arguments: info.Arguments,
		UserStack: resolveStack(info.UserStack, ix.intern),
		Stack:     resolveStack(info.Stack, ix.intern),
	}
	if visited[nodeID] {
		return node
	}
	visited[nodeID] = true
	for _, argID := range info.ArgumentIDs {
		if child := buildExprTree(ix, argID, visited); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// symbolicGuardParser renders guard_added records into a per-compile-id
// symbolic_guard_information.json, joining the guard with the provenance of
// every symbolic expression that fed into it.
type symbolicGuardParser struct {
	indexes *indexes
}

func (symbolicGuardParser) Name() string { return "symbolic_guard_information" }

func (p *symbolicGuardParser) Metadata(e *envelope.Envelope) any {
	if e.GuardAdded != nil {
		return e.GuardAdded
	}
	return nil
}

func (p *symbolicGuardParser) Parse(lineno int, md any, _ *uint32, cid *envelope.CompileID, _ string) ([]Output, error) {
	g, ok := md.(*envelope.GuardInfo)
	if !ok {
		return nil, fmt.Errorf("expected guard_added metadata")
	}

	doc := map[string]any{
		"expr":       deref(g.Expr),
		"user_stack": resolveStack(g.UserStack, p.indexes.intern),
		"stack":      resolveStack(g.Stack, p.indexes.intern),
	}
	if len(g.FrameLocals) > 0 {
		doc["frame_locals"] = g.FrameLocals
	}
	if g.ExprNodeID != nil {
		if tree := buildExprTree(p.indexes, *g.ExprNodeID, make(map[uint64]bool)); tree != nil {
			doc["expression_provenance"] = tree
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return simpleFile("symbolic_guard_information.json", lineno, cid, string(out)), nil
}
