package daengine

import (
	"fmt"

	"github.com/emicklei/dot"
)

// DebugGraph renders the DA's current level/CT structure as a Graphviz
// DOT graph, the control surface's debug dump.
func (da *DA) DebugGraph() string {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "BT")

	daNode := g.Node(fmt.Sprintf("da_%d", da.ID)).
		Label(fmt.Sprintf("DA %d\nroot=%d", da.ID, da.RootVersion)).
		Attr("shape", "box")

	da.mu.RLock()
	defer da.mu.RUnlock()

	var prevLevelNode *dot.Node
	for level, cts := range da.levels {
		levelNode := g.Node(fmt.Sprintf("da_%d_level_%d", da.ID, level)).
			Label(fmt.Sprintf("level %d (%d trees)", level, len(cts))).
			Attr("shape", "ellipse")
		g.Edge(levelNode, daNode)
		if prevLevelNode != nil {
			g.Edge(*prevLevelNode, levelNode)
		}
		ln := levelNode
		prevLevelNode = &ln

		for _, ct := range cts {
			label := fmt.Sprintf("ct %d\nitems=%d", ct.Seq, ct.ItemCount)
			if ct.IsCompacting() {
				label += "\ncompacting"
			}
			n := g.Node(fmt.Sprintf("da_%d_ct_%d", da.ID, ct.Seq)).Label(label)
			g.Edge(n, levelNode)
		}
	}

	return g.String()
}
