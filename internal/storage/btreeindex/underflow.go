package btreeindex

// ───────────────────────────────────────────────────────────────────────
// Merge / borrow
// ───────────────────────────────────────────────────────────────────────
//
// A node below minEntries first tries to borrow a boundary entry from a
// sibling that can spare one, else merges with a sibling, propagating
// the underflow check up to the parent. The root is exempt from the
// minimum-occupancy rule; its only special case is collapsing when it
// becomes a single-child inner node.

func (ix *Index) checkUnderflow(n *node) error {
	if n.page == ix.meta.RootNode {
		if !n.isLeaf && len(n.children) == 1 {
			return ix.collapseRootSingleChild(n)
		}
		return nil
	}
	if len(n.entries) >= minEntries {
		return nil
	}

	parent, err := ix.readNode(n.parent)
	if err != nil {
		return err
	}
	idx := indexOfChild(parent, n.page)

	if idx > 0 {
		left, err := ix.readNode(parent.children[idx-1])
		if err != nil {
			return err
		}
		if len(left.entries) > minEntries {
			return ix.borrowFromLeft(n, left, parent, idx-1)
		}
	}
	if idx < len(parent.children)-1 {
		right, err := ix.readNode(parent.children[idx+1])
		if err != nil {
			return err
		}
		if len(right.entries) > minEntries {
			return ix.borrowFromRight(n, right, parent, idx)
		}
	}

	if idx > 0 {
		left, err := ix.readNode(parent.children[idx-1])
		if err != nil {
			return err
		}
		return ix.mergeNodes(left, n, parent, idx-1)
	}
	right, err := ix.readNode(parent.children[idx+1])
	if err != nil {
		return err
	}
	return ix.mergeNodes(n, right, parent, idx)
}

// borrowFromLeft moves left's last entry (and, for inner nodes, its
// rightmost child and the separator above it) into n. sepIdx is the
// parent entry index separating left and n.
func (ix *Index) borrowFromLeft(n, left *node, parent *node, sepIdx int) error {
	ix.eng.Metrics.BTreeBorrows.Inc()
	if n.isLeaf {
		moved := left.entries[len(left.entries)-1]
		left.entries = left.entries[:len(left.entries)-1]

		n.entries = append(n.entries, Entry{})
		copy(n.entries[1:], n.entries)
		n.entries[0] = moved

		parent.entries[sepIdx] = n.entries[0]
	} else {
		movedEntry := left.entries[len(left.entries)-1]
		movedChild := left.children[len(left.children)-1]
		left.entries = left.entries[:len(left.entries)-1]
		left.children = left.children[:len(left.children)-1]

		n.entries = append(n.entries, Entry{})
		copy(n.entries[1:], n.entries)
		n.entries[0] = parent.entries[sepIdx]
		parent.entries[sepIdx] = movedEntry

		n.children = append(n.children, 0)
		copy(n.children[1:], n.children)
		n.children[0] = movedChild

		child, err := ix.readNode(movedChild)
		if err != nil {
			return err
		}
		child.parent = n.page
		if err := ix.writeNode(child); err != nil {
			return err
		}
	}

	if err := ix.writeNode(left); err != nil {
		return err
	}
	if err := ix.writeNode(n); err != nil {
		return err
	}
	return ix.writeNode(parent)
}

// borrowFromRight is the mirror of borrowFromLeft, moving right's first
// entry (and leftmost child, for inner nodes) into n.
func (ix *Index) borrowFromRight(n, right *node, parent *node, sepIdx int) error {
	ix.eng.Metrics.BTreeBorrows.Inc()
	if n.isLeaf {
		moved := right.entries[0]
		right.entries = right.entries[1:]

		n.entries = append(n.entries, moved)
		parent.entries[sepIdx] = right.entries[0]
	} else {
		movedEntry := right.entries[0]
		movedChild := right.children[0]
		right.entries = right.entries[1:]
		right.children = right.children[1:]

		n.entries = append(n.entries, parent.entries[sepIdx])
		parent.entries[sepIdx] = movedEntry
		n.children = append(n.children, movedChild)

		child, err := ix.readNode(movedChild)
		if err != nil {
			return err
		}
		child.parent = n.page
		if err := ix.writeNode(child); err != nil {
			return err
		}
	}

	if err := ix.writeNode(right); err != nil {
		return err
	}
	if err := ix.writeNode(n); err != nil {
		return err
	}
	return ix.writeNode(parent)
}

// mergeNodes absorbs right into left, removes the separator and right's
// slot from parent, and frees right's page.
func (ix *Index) mergeNodes(left, right *node, parent *node, sepIdx int) error {
	ix.eng.Metrics.BTreeMerges.Inc()
	ix.log.Debug().Int("left", int(left.page)).Int("right", int(right.page)).Msg("merging underflowed nodes")
	if left.isLeaf {
		left.entries = append(left.entries, right.entries...)
		left.next = right.next
		if left.next != 0 {
			nextNode, err := ix.readNode(left.next)
			if err != nil {
				return err
			}
			nextNode.prev = left.page
			if err := ix.writeNode(nextNode); err != nil {
				return err
			}
		}
	} else {
		left.entries = append(left.entries, parent.entries[sepIdx])
		left.entries = append(left.entries, right.entries...)
		left.children = append(left.children, right.children...)
		for _, c := range right.children {
			child, err := ix.readNode(c)
			if err != nil {
				return err
			}
			child.parent = left.page
			if err := ix.writeNode(child); err != nil {
				return err
			}
		}
	}

	parent.entries = append(parent.entries[:sepIdx], parent.entries[sepIdx+1:]...)
	parent.children = append(parent.children[:sepIdx+1], parent.children[sepIdx+2:]...)

	if err := ix.writeNode(left); err != nil {
		return err
	}
	if err := ix.freePage(right.page); err != nil {
		return err
	}
	if err := ix.writeNode(parent); err != nil {
		return err
	}

	return ix.checkUnderflow(parent)
}

func (ix *Index) collapseRootSingleChild(root *node) error {
	child, err := ix.readNode(root.children[0])
	if err != nil {
		return err
	}
	child.parent = 0
	ix.meta.RootNode = child.page
	if err := ix.writeNode(child); err != nil {
		return err
	}
	return ix.freePage(root.page)
}
