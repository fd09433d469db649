package crawler

// PageTree returns the pages reachable from the start URL as a depth-first
// tree. A URL already on the current path is not expanded again, which keeps
// cycles finite while still letting the same page appear under sibling
// branches. The result is empty when the start page has not been stored.
func (m *SiteMap) PageTree() []PageTreeNode {
	root, ok := m.pages.get(m.policy.StartURL)
	if !ok {
		return []PageTreeNode{}
	}
	return []PageTreeNode{m.buildNode(root, map[string]struct{}{})}
}

func (m *SiteMap) buildNode(page Page, onPath map[string]struct{}) PageTreeNode {
	path := make(map[string]struct{}, len(onPath)+1)
	for u := range onPath {
		path[u] = struct{}{}
	}
	path[page.URL] = struct{}{}

	node := PageTreeNode{Page: page, Children: []PageTreeNode{}}
	for _, childURL := range page.ChildURLs {
		if _, seen := path[childURL]; seen {
			continue
		}
		child, ok := m.pages.get(childURL)
		if !ok {
			continue
		}
		node.Children = append(node.Children, m.buildNode(child, path))
	}
	return node
}
