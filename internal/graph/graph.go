// ============================================================================
// PTIDES Actor Graph - 靜態圖建構與驗證
// ============================================================================
//
// Package: internal/graph
// 文件: graph.go
// 功能: 由設定建立演員圖，驗證拓撲，計算截止時間與多輸入調整量
//
// 建構流程 (Build):
//   1. 驗證每個演員（名稱唯一、種類、後繼數量、延遲關係）
//   2. 解析後繼名稱，計算 in-degree
//   3. 偵測環（致命設定錯誤，在任何事件處理之前）
//   4. 從每個來源演員往下計算截止時間
//   5. 依拓撲順序計算多輸入演員的調整量
//
// 建構完成之後圖是不可變的，scheduler 讀取時不需要加鎖
// （唯一的例外是 Actor.firing，由 scheduler 的臨界區保護）。
//
// ============================================================================

package graph

import (
	"sort"
	"time"

	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/pkg/types"
)

// Spec 一個演員的設定
type Spec struct {
	Name         string
	Kind         string
	Next         []string
	ModelDelay   time.Duration
	BoundedDelay time.Duration
	Period       time.Duration
	Offset       *int64 // nil 表示預設值 1
	Transmit     bool
	Priority     int
}

// Graph 已驗證、已計算完成的演員圖
type Graph struct {
	actors   []*actor.Actor
	byName   map[string]types.ActorID
	indegree []int
	order    []types.ActorID // 拓撲順序
}

// Build 建立並分析演員圖
func Build(specs []Spec) (*Graph, error) {
	if len(specs) == 0 {
		return nil, invalidf("graph has no actors")
	}

	g := &Graph{
		actors:   make([]*actor.Actor, 0, len(specs)),
		byName:   make(map[string]types.ActorID, len(specs)),
		indegree: make([]int, len(specs)),
	}

	for i, s := range specs {
		a, err := newActor(types.ActorID(i), s)
		if err != nil {
			return nil, err
		}
		if _, dup := g.byName[a.Name]; dup {
			return nil, invalidf("duplicate actor name %q", a.Name)
		}
		g.byName[a.Name] = a.ID
		g.actors = append(g.actors, a)
	}

	for i, s := range specs {
		a := g.actors[i]
		for pos, name := range s.Next {
			id, ok := g.byName[name]
			if !ok {
				return nil, invalidf("actor %q: unknown successor %q", a.Name, name)
			}
			a.Next[pos] = id
			g.indegree[id]++
		}
	}

	if err := g.checkEdges(); err != nil {
		return nil, err
	}

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order

	if err := g.ComputeAll(); err != nil {
		return nil, err
	}
	g.computeAdjustments()
	return g, nil
}

func newActor(id types.ActorID, s Spec) (*actor.Actor, error) {
	if s.Name == "" {
		return nil, invalidf("actor #%d has no name", id)
	}
	kind, err := actor.ParseKind(s.Kind)
	if err != nil {
		return nil, &GraphError{Kind: ErrUnknownKind, Msg: "actor " + s.Name + ": " + s.Kind}
	}
	if len(s.Next) > actor.MaxSuccessors {
		return nil, invalidf("actor %q has %d successors, at most %d allowed", s.Name, len(s.Next), actor.MaxSuccessors)
	}
	if s.ModelDelay < 0 || s.BoundedDelay < 0 || s.Period < 0 {
		return nil, invalidf("actor %q has a negative delay", s.Name)
	}
	if s.ModelDelay < s.BoundedDelay {
		return nil, &GraphError{Kind: ErrDelayOrder, Msg: "actor " + s.Name + ": " + s.ModelDelay.String() + " < " + s.BoundedDelay.String()}
	}

	a := actor.New(id, s.Name, kind)
	a.ModelDelay = types.FromDuration(s.ModelDelay)
	a.BoundedDelay = types.FromDuration(s.BoundedDelay)
	a.Period = types.FromDuration(s.Period)
	a.Transmit = s.Transmit
	a.Priority = s.Priority
	if s.Offset != nil {
		a.Offset = types.Value(*s.Offset)
	}

	switch kind {
	case actor.KindClock:
		if s.Period <= 0 {
			return nil, invalidf("clock %q needs a positive period", s.Name)
		}
	case actor.KindActuator:
		if len(s.Next) > 0 {
			return nil, invalidf("actuator %q cannot have successors", s.Name)
		}
	}
	if s.Transmit && kind != actor.KindModelDelay {
		return nil, invalidf("actor %q: only model_delay actors can transmit", s.Name)
	}
	return a, nil
}

// checkEdges 來源演員（sensor/clock）不能有前驅，後繼不可重複
func (g *Graph) checkEdges() error {
	for _, a := range g.actors {
		if a.Next[0] == a.Next[1] && a.Next[0] != types.NoActor {
			return invalidf("actor %q lists the same successor twice", a.Name)
		}
		if g.indegree[a.ID] == 0 {
			continue
		}
		switch a.Kind {
		case actor.KindSensor, actor.KindClock:
			return invalidf("%s %q cannot have predecessors", a.Kind, a.Name)
		}
	}
	return nil
}

// topoOrder Kahn 演算法；有環時用 DFS 找出一條環路回報
func (g *Graph) topoOrder() ([]types.ActorID, error) {
	indeg := make([]int, len(g.indegree))
	copy(indeg, g.indegree)

	ready := make([]types.ActorID, 0, len(g.actors))
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, types.ActorID(i))
		}
	}

	out := make([]types.ActorID, 0, len(g.actors))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, next := range g.actors[id].Successors() {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(out) != len(g.actors) {
		return nil, cycleError(g.findCycle())
	}
	return out, nil
}

func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.actors))
	parent := make([]types.ActorID, len(g.actors))
	for i := range parent {
		parent[i] = types.NoActor
	}

	var cycle []types.ActorID
	var dfs func(u types.ActorID) bool
	dfs = func(u types.ActorID) bool {
		color[u] = gray
		for _, v := range g.actors[u].Successors() {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v
				cycle = append(cycle, v)
				for cur := u; cur != types.NoActor && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.actors {
		if color[i] == white && dfs(types.ActorID(i)) {
			break
		}
	}

	names := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		names = append(names, g.actors[cycle[i]].Name)
	}
	return names
}

// computeAdjustments 依拓撲順序計算每條路徑累積的 (modelDelay - boundedDelay)，
// 多輸入演員取所有輸入路徑中的最小值
func (g *Graph) computeAdjustments() {
	const unset = types.NoDeadline
	inbound := make([]types.Timestamp, len(g.actors))
	for i := range inbound {
		inbound[i] = unset
	}

	for _, id := range g.order {
		a := g.actors[id]
		a.MultipleInputs = a.Kind == actor.KindMerge || g.indegree[id] > 1

		acc := inbound[id]
		if acc == unset {
			acc = 0
		}
		if a.MultipleInputs {
			a.Adjustment = acc
		}

		out := acc + a.ModelDelay - a.BoundedDelay
		for _, next := range a.Successors() {
			if out < inbound[next] {
				inbound[next] = out
			}
		}
	}
}

// Len 演員數量
func (g *Graph) Len() int { return len(g.actors) }

// Actor returns the actor with the given id, or nil.
func (g *Graph) Actor(id types.ActorID) *actor.Actor {
	if id < 0 || int(id) >= len(g.actors) {
		return nil
	}
	return g.actors[id]
}

// Lookup 依名稱查找演員
func (g *Graph) Lookup(name string) (*actor.Actor, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.actors[id], true
}

// Actors returns all actors in id order.
func (g *Graph) Actors() []*actor.Actor {
	out := make([]*actor.Actor, len(g.actors))
	copy(out, g.actors)
	return out
}

// Topological 拓撲順序（來源在前）
func (g *Graph) Topological() []types.ActorID {
	out := make([]types.ActorID, len(g.order))
	copy(out, g.order)
	return out
}

// InDegree 前驅數量
func (g *Graph) InDegree(id types.ActorID) int {
	return g.indegree[id]
}

// Sources returns actors with no predecessors in id order.
func (g *Graph) Sources() []*actor.Actor {
	var out []*actor.Actor
	for _, a := range g.actors {
		if g.indegree[a.ID] == 0 {
			out = append(out, a)
		}
	}
	return out
}
