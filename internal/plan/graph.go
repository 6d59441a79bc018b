package plan

// DetectCycle searches the prerequisite relation for a cycle. It returns
// the cycle as a step-ID path whose first and last elements match, or nil
// if the graph is acyclic. Unknown prerequisite references are ignored
// here; Validate reports them separately.
func (p *Plan) DetectCycle() []string {
	return detectCycle(p.order, func(id string) []string {
		return p.steps[id].Prerequisites
	})
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// detectCycle runs an iterative-free DFS over the graph induced by the
// prereqs function, walking nodes in the given order so the reported cycle
// is deterministic.
func detectCycle(order []string, prereqs func(string) []string) []string {
	color := make(map[string]int, len(order))
	known := make(map[string]bool, len(order))
	for _, id := range order {
		known[id] = true
	}

	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = colorGray
		path = append(path, id)
		for _, pre := range prereqs(id) {
			if !known[pre] {
				continue
			}
			switch color[pre] {
			case colorGray:
				// Found a back edge; slice the current path into a cycle.
				start := 0
				for i, node := range path {
					if node == pre {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), pre)
				return true
			case colorWhite:
				if visit(pre) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = colorBlack
		return false
	}

	for _, id := range order {
		if color[id] == colorWhite {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
