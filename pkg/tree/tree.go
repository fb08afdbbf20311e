package tree

import "sort"

// Node 树节点约束，ID/ParentID构成父子链，Sort决定兄弟顺序
type Node[T any] interface {
	GetID() int64
	GetParentID() int64
	GetSort() int
	GetChildren() []T
	SetChildren(children []T)
}

// Build 把平铺列表组装成树
// 只从根集合向下挂载，父链成环或自引用的节点不会出现在结果中；
// 兄弟节点按Sort升序、同Sort按ID升序排列
func Build[T Node[T]](nodes []T, rootParentID int64) []T {
	byParent := make(map[int64][]T, len(nodes))
	for _, n := range nodes {
		// 自引用节点直接丢弃
		if n.GetID() == n.GetParentID() {
			continue
		}
		byParent[n.GetParentID()] = append(byParent[n.GetParentID()], n)
	}

	for _, siblings := range byParent {
		sortSiblings(siblings)
	}

	roots := byParent[rootParentID]
	visited := make(map[int64]bool, len(nodes))
	for _, r := range roots {
		visited[r.GetID()] = true
	}
	for _, r := range roots {
		attach(r, byParent, visited)
	}

	if roots == nil {
		roots = []T{}
	}
	return roots
}

// attach 递归挂载子节点，visited防止重复ID导致的死循环
func attach[T Node[T]](node T, byParent map[int64][]T, visited map[int64]bool) {
	all := byParent[node.GetID()]
	children := make([]T, 0, len(all))
	for _, c := range all {
		if visited[c.GetID()] {
			continue
		}
		visited[c.GetID()] = true
		children = append(children, c)
	}
	if len(children) == 0 {
		return
	}
	node.SetChildren(children)
	for _, c := range children {
		attach(c, byParent, visited)
	}
}

// Orphans 返回从根集合不可达的节点（父链断裂、成环或自引用），供诊断日志使用
func Orphans[T Node[T]](nodes []T, rootParentID int64) []T {
	reachable := make(map[int64]bool, len(nodes))
	for _, r := range Build(nodes, rootParentID) {
		markReachable(r, reachable)
	}

	orphans := make([]T, 0)
	for _, n := range nodes {
		if !reachable[n.GetID()] {
			orphans = append(orphans, n)
		}
	}
	return orphans
}

func markReachable[T Node[T]](node T, reachable map[int64]bool) {
	reachable[node.GetID()] = true
	for _, c := range node.GetChildren() {
		markReachable(c, reachable)
	}
}

// Flatten 先序遍历展开树
func Flatten[T Node[T]](roots []T) []T {
	result := make([]T, 0)
	var walk func(T)
	walk = func(n T) {
		result = append(result, n)
		for _, c := range n.GetChildren() {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return result
}

// sortSiblings 兄弟排序：Sort升序，相同时按ID升序
func sortSiblings[T Node[T]](siblings []T) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].GetSort() != siblings[j].GetSort() {
			return siblings[i].GetSort() < siblings[j].GetSort()
		}
		return siblings[i].GetID() < siblings[j].GetID()
	})
}
