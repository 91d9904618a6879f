package graph

import (
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// ComputeDeadlines walks the graph depth-first from root toward the terminal
// actors and sets every reachable actor's Deadline:
//
//	terminal:  0
//	otherwise: ModelDelay + min(Deadline(successors))
//
// A cycle reachable from root is reported as a *GraphError wrapping
// ErrCycleFound. Already finished actors are not revisited, so calling it
// for several roots is linear in the graph size.
func (g *Graph) ComputeDeadlines(root types.ActorID) error {
	if g.Actor(root) == nil {
		return invalidf("deadline root %d out of range", root)
	}
	state := make([]uint8, len(g.actors))
	return g.deadlineDFS(root, state, nil)
}

// ComputeAll 從每個來源演員計算截止時間，之後檢查是否有演員無法到達
func (g *Graph) ComputeAll() error {
	state := make([]uint8, len(g.actors))
	for _, src := range g.Sources() {
		if err := g.deadlineDFS(src.ID, state, nil); err != nil {
			return err
		}
	}
	for i := range state {
		// 沒有來源可到達的演員只可能在環上
		if err := g.deadlineDFS(types.ActorID(i), state, nil); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) deadlineDFS(id types.ActorID, state []uint8, path []types.ActorID) error {
	const (
		gray  = 1
		black = 2
	)
	switch state[id] {
	case black:
		return nil
	case gray:
		names := make([]string, 0, len(path)+1)
		start := 0
		for i, p := range path {
			if p == id {
				start = i
				break
			}
		}
		for _, p := range path[start:] {
			names = append(names, g.actors[p].Name)
		}
		names = append(names, g.actors[id].Name)
		return cycleError(names)
	}

	state[id] = gray
	path = append(path, id)
	a := g.actors[id]

	if a.Terminal() {
		a.Deadline = 0
		state[id] = black
		return nil
	}

	earliest := types.NoDeadline
	for _, next := range a.Next {
		if next == types.NoActor {
			continue
		}
		if err := g.deadlineDFS(next, state, path); err != nil {
			return err
		}
		if d := g.actors[next].Deadline; d < earliest {
			earliest = d
		}
	}

	if earliest == types.NoDeadline {
		a.Deadline = types.NoDeadline
	} else {
		a.Deadline = a.ModelDelay + earliest
	}
	state[id] = black
	return nil
}
