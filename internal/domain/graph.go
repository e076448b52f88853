package domain

// FollowGraph is the admitted set of pubkeys around a root identity:
// everyone the root follows plus second-degree candidates referenced by at
// least the threshold number of distinct first-degree follows.
type FollowGraph struct {
	Root         string          `json:"root"`
	Threshold    int             `json:"threshold"`
	FirstDegree  []string        `json:"firstDegree"`
	SecondDegree []string        `json:"secondDegree"`
	Members      map[string]bool `json:"-"`
	// UsedFallback is set when the root had no follow list and the graph
	// was rebuilt from the seed identity instead.
	UsedFallback bool `json:"usedFallback"`
}

// Contains reports graph membership. The root itself is always a member.
func (g *FollowGraph) Contains(pubkey string) bool {
	if pubkey == g.Root {
		return true
	}
	return g.Members[pubkey]
}

// Size returns the number of admitted pubkeys excluding the root.
func (g *FollowGraph) Size() int {
	return len(g.Members)
}
