package transfer

import (
	"path"
	"strings"
	"sync"
)

// keySeparator joins account name and remote path into one index key. NUL
// cannot appear in either part, so two different (account, path) pairs can
// never collide on the same key.
const keySeparator = "\x00"

// BuildKey returns the deterministic key for (accountName, remotePath).
// External correlation ids (eg retry job ids) are derived from it.
func BuildKey(accountName, remotePath string) string {
	return accountName + keySeparator + remotePath
}

type indexNode struct {
	key        string
	account    string
	remotePath string
	parentKey  string
	children   map[string]*indexNode
	op         *Operation // nil for structural folder nodes
}

// PendingIndex tracks every queued or executing transfer, one forest per
// account. Folder ancestors of each pending path are kept as structural
// nodes so Contains answers "is anything under this folder mid-transfer"
// and Remove can cascade a folder cancellation to its descendants.
//
// A single coarse mutex protects everything; contention is low since there
// is one worker per service instance.
type PendingIndex struct {
	mu    sync.Mutex
	nodes map[string]*indexNode
}

func NewPendingIndex() *PendingIndex {
	return &PendingIndex{nodes: make(map[string]*indexNode)}
}

// PutIfAbsent links op for (accountName, remotePath) unless an operation
// is already pending there. Returns the built key, and false when an entry
// already existed (the old value stays untouched). Never blocks.
func (x *PendingIndex) PutIfAbsent(accountName, remotePath string, op *Operation) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := BuildKey(accountName, remotePath)

	if node, ok := x.nodes[key]; ok {
		if node.op != nil {
			return key, false
		}
		// Structural folder node: a transfer for the folder path itself.
		node.op = op
		return key, true
	}

	x.link(accountName, remotePath, op)
	return key, true
}

// link inserts a node and its structural ancestors. Caller holds the lock.
func (x *PendingIndex) link(accountName, remotePath string, op *Operation) {
	key := BuildKey(accountName, remotePath)
	parentPath := parentOf(remotePath)
	node := &indexNode{
		key:        key,
		account:    accountName,
		remotePath: remotePath,
		parentKey:  BuildKey(accountName, parentPath),
		children:   make(map[string]*indexNode),
		op:         op,
	}
	x.nodes[key] = node

	child := node
	for p := parentPath; ; p = parentOf(p) {
		parentKey := BuildKey(accountName, p)
		parent, ok := x.nodes[parentKey]
		if !ok {
			parent = &indexNode{
				key:        parentKey,
				account:    accountName,
				remotePath: p,
				parentKey:  BuildKey(accountName, parentOf(p)),
				children:   make(map[string]*indexNode),
			}
			x.nodes[parentKey] = parent
		}
		parent.children[child.key] = child
		if ok || p == "/" {
			break
		}
		child = parent
	}
}

func (x *PendingIndex) Get(key string) *Operation {
	x.mu.Lock()
	defer x.mu.Unlock()

	node, ok := x.nodes[key]
	if !ok {
		return nil
	}
	return node.op
}

// Contains reports whether remotePath is pending, or — when it names a
// folder — whether any pending transfer is nested under it.
func (x *PendingIndex) Contains(accountName, remotePath string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, ok := x.nodes[BuildKey(accountName, remotePath)]
	return ok
}

// Remove unlinks the transfer at remotePath, cascading to every descendant
// when remotePath names a folder with pending entries below it. It returns
// the removed operations and the path of the deepest surviving ancestor
// (the folder a UI would refresh), or "" when nothing was indexed there.
func (x *PendingIndex) Remove(accountName, remotePath string) ([]*Operation, string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := BuildKey(accountName, remotePath)
	node, ok := x.nodes[key]
	if !ok {
		return nil, ""
	}

	var removed []*Operation
	x.deleteSubtree(node, &removed)

	unlinkedFrom := x.prune(node)
	return removed, unlinkedFrom
}

// RemoveAccount drops every entry belonging to accountName and returns the
// removed operations. Used on account deletion.
func (x *PendingIndex) RemoveAccount(accountName string) []*Operation {
	x.mu.Lock()
	defer x.mu.Unlock()

	prefix := accountName + keySeparator

	var removed []*Operation
	for key, node := range x.nodes {
		if strings.HasPrefix(key, prefix) {
			if node.op != nil {
				removed = append(removed, node.op)
			}
			delete(x.nodes, key)
		}
	}

	return removed
}

// ReplaceKey atomically moves the operation indexed at oldPath to newPath.
// Holding the index lock for the whole re-key transition means a
// concurrent cancel sees either the old key or the new one, never a
// halfway state.
func (x *PendingIndex) ReplaceKey(accountName, oldPath, newPath string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	oldKey := BuildKey(accountName, oldPath)
	node, ok := x.nodes[oldKey]
	if !ok || node.op == nil {
		return false
	}

	newKey := BuildKey(accountName, newPath)
	if existing, ok := x.nodes[newKey]; ok && existing.op != nil {
		return false
	}

	op := node.op
	var dropped []*Operation
	x.deleteSubtree(node, &dropped)
	x.prune(node)
	x.link(accountName, newPath, op)

	return true
}

// PendingCount returns the number of live operations in the index.
func (x *PendingIndex) PendingCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	count := 0
	for _, node := range x.nodes {
		if node.op != nil {
			count++
		}
	}
	return count
}

// deleteSubtree removes node and everything below it, collecting the live
// operations found. Caller holds the lock.
func (x *PendingIndex) deleteSubtree(node *indexNode, removed *[]*Operation) {
	if node.op != nil {
		*removed = append(*removed, node.op)
	}
	delete(x.nodes, node.key)
	for _, child := range node.children {
		x.deleteSubtree(child, removed)
	}
}

// prune walks up from node's parent removing structural nodes left without
// children, and returns the path of the deepest surviving ancestor.
// Caller holds the lock.
func (x *PendingIndex) prune(node *indexNode) string {
	parent, ok := x.nodes[node.parentKey]
	if !ok {
		return ""
	}

	delete(parent.children, node.key)

	cur := parent
	for cur.op == nil && len(cur.children) == 0 {
		if cur.remotePath == "/" {
			delete(x.nodes, cur.key)
			return ""
		}

		next, ok := x.nodes[cur.parentKey]
		delete(x.nodes, cur.key)
		if !ok {
			return ""
		}
		delete(next.children, cur.key)
		cur = next
	}

	return cur.remotePath
}

func parentOf(remotePath string) string {
	parent := path.Dir(strings.TrimRight(remotePath, "/"))
	if parent == "." || parent == "" {
		return "/"
	}
	return parent
}
