package btreeindex

// ───────────────────────────────────────────────────────────────────────
// Split
// ───────────────────────────────────────────────────────────────────────
//
// A leaf split never removes real data: every entry still lives in a
// leaf after the split, and the key promoted to the parent is a copy of
// the first entry moved to the new sibling. An inner split follows
// classic B-tree promotion instead — the middle entry is physically
// relocated into the parent, since inner entries are routing keys, not
// data.

import "sort"

func (ix *Index) checkOverflow(n *node) error {
	ix.eng.Metrics.BTreeSplits.Inc()
	ix.log.Debug().Int("node", int(n.page)).Bool("leaf", n.isLeaf).Msg("splitting overflowed node")
	if n.isLeaf {
		return ix.splitLeaf(n)
	}
	return ix.splitInner(n)
}

func (ix *Index) splitLeaf(n *node) error {
	mid := len(n.entries) / 2

	siblingPage, err := ix.allocatePage()
	if err != nil {
		return err
	}
	sibling := &node{page: siblingPage, isLeaf: true, parent: n.parent}
	sibling.entries = append(sibling.entries, n.entries[mid:]...)
	n.entries = n.entries[:mid:mid]

	sibling.next = n.next
	sibling.prev = n.page
	n.next = sibling.page

	if sibling.next != 0 {
		nextNode, err := ix.readNode(sibling.next)
		if err != nil {
			return err
		}
		nextNode.prev = sibling.page
		if err := ix.writeNode(nextNode); err != nil {
			return err
		}
	}

	promoted := sibling.entries[0]

	if err := ix.writeNode(n); err != nil {
		return err
	}
	if err := ix.writeNode(sibling); err != nil {
		return err
	}

	return ix.attachToParent(n, sibling, promoted)
}

func (ix *Index) splitInner(n *node) error {
	mid := len(n.entries) / 2
	promoted := n.entries[mid]

	siblingPage, err := ix.allocatePage()
	if err != nil {
		return err
	}
	sibling := &node{page: siblingPage, isLeaf: false, parent: n.parent}
	sibling.entries = append(sibling.entries, n.entries[mid+1:]...)
	sibling.children = append(sibling.children, n.children[mid+1:]...)
	n.entries = n.entries[:mid:mid]
	n.children = n.children[:mid+1 : mid+1]

	for _, c := range sibling.children {
		child, err := ix.readNode(c)
		if err != nil {
			return err
		}
		child.parent = sibling.page
		if err := ix.writeNode(child); err != nil {
			return err
		}
	}

	if err := ix.writeNode(n); err != nil {
		return err
	}
	if err := ix.writeNode(sibling); err != nil {
		return err
	}

	return ix.attachToParent(n, sibling, promoted)
}

// attachToParent inserts (promoted, sibling) above n, creating a new
// root if n had none, else recursing checkOverflow on the parent.
func (ix *Index) attachToParent(n, sibling *node, promoted Entry) error {
	if n.page == ix.meta.RootNode {
		rootPage, err := ix.allocatePage()
		if err != nil {
			return err
		}
		root := &node{
			page:     rootPage,
			isLeaf:   false,
			entries:  []Entry{promoted},
			children: []int32{n.page, sibling.page},
		}
		n.parent = root.page
		sibling.parent = root.page
		ix.meta.RootNode = root.page

		if err := ix.writeNode(n); err != nil {
			return err
		}
		if err := ix.writeNode(sibling); err != nil {
			return err
		}
		return ix.writeNode(root)
	}

	parent, err := ix.readNode(n.parent)
	if err != nil {
		return err
	}
	idx := sort.Search(len(parent.entries), func(i int) bool { return entryLess(promoted, parent.entries[i]) })

	parent.entries = append(parent.entries, Entry{})
	copy(parent.entries[idx+1:], parent.entries[idx:])
	parent.entries[idx] = promoted

	childIdx := idx + 1
	parent.children = append(parent.children, 0)
	copy(parent.children[childIdx+1:], parent.children[childIdx:])
	parent.children[childIdx] = sibling.page

	if err := ix.writeNode(parent); err != nil {
		return err
	}
	if len(parent.entries) > maxEntries {
		return ix.checkOverflow(parent)
	}
	return nil
}
