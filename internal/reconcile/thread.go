package reconcile

// thread is an arena of fetched comments for one top-level item, indexed by the
// id each comment hangs off. Links are ids, never pointers, so cycles and
// dangling parents are just nodes the walk never reaches.
type thread struct {
	rootID   string
	nodes    []CommentRecord
	children map[string][]int
}

func newThread(rootID string, records []CommentRecord) *thread {
	t := &thread{
		rootID:   rootID,
		nodes:    records,
		children: make(map[string][]int, len(records)),
	}
	for idx, rec := range records {
		key := t.parentKey(rec)
		t.children[key] = append(t.children[key], idx)
	}
	return t
}

// parentKey is the id a comment attaches to. An empty parent means a direct reply.
func (t *thread) parentKey(rec CommentRecord) string {
	if rec.ParentID == "" {
		return t.rootID
	}
	return rec.ParentID
}

// walk visits comments breadth-first from seeds. A comment is visited only after
// its parent, either a seed or a comment visited earlier. visit receives the
// comment and its resolved parent id; returning false keeps its subtree from
// being reached through it. Comments never reached are returned in arena order.
func (t *thread) walk(seeds []string, visit func(rec CommentRecord, parentID string) (bool, error)) ([]CommentRecord, error) {
	visited := make([]bool, len(t.nodes))
	queue := append([]string(nil), seeds...)

	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		for _, idx := range t.children[parentID] {
			if visited[idx] {
				continue
			}
			visited[idx] = true

			rec := t.nodes[idx]
			descend, err := visit(rec, parentID)
			if err != nil {
				return nil, err
			}
			if descend {
				queue = append(queue, rec.ID)
			}
		}
	}

	var unreached []CommentRecord
	for idx, rec := range t.nodes {
		if !visited[idx] {
			unreached = append(unreached, rec)
		}
	}
	return unreached, nil
}
