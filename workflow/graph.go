package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Node 图中的节点标识
type Node string

const (
	// End 终止节点
	End Node = "__end__"
	// Interrupt 挂起节点, 路由到此处时图暂停并返回 ResumeAt
	Interrupt Node = "__interrupt__"
)

// DefaultMaxSteps is the step budget when none is configured.
const DefaultMaxSteps = 40

// ErrStepLimitExceeded is returned when a run exceeds its step budget.
var ErrStepLimitExceeded = errors.New("workflow step limit exceeded")

// Reducer merges a step's update into the current state.
type Reducer[S, U any] func(state S, update U) S

// StepFunc 节点执行函数, 只返回更新, 不修改传入的状态
type StepFunc[S, U any] func(ctx context.Context, state S) (U, error)

// RouteFunc 条件边的路由函数, 必须是纯函数
type RouteFunc[S any] func(state S) Node

// Status 运行结束状态
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// StepRecord 单步执行记录
type StepRecord struct {
	Node     Node          `json:"node"`
	Next     Node          `json:"next"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result 一次运行的结果
type Result[S any] struct {
	State    S
	Status   Status
	LastNode Node
	ResumeAt Node // 仅在 StatusSuspended 时有效
	Steps    int
	Trace    []StepRecord
}

// StepObserver is notified after every executed step.
type StepObserver func(node Node, duration time.Duration, err error)

type edge[S any] struct {
	to    Node
	route RouteFunc[S]
}

// Graph 基于节点 + 边的状态机.
// 节点返回 StateUpdate, 由 Reducer 合并; 路由函数只读状态.
type Graph[S, U any] struct {
	name       string
	entry      Node
	nodes      map[Node]StepFunc[S, U]
	edges      map[Node]edge[S]
	interrupts map[Node]Node // 挂起节点 -> 恢复节点
	reducer    Reducer[S, U]
	maxSteps   int
	observer   StepObserver
	logger     *zap.Logger
}

// NewGraph 创建状态图
func NewGraph[S, U any](name string, reducer Reducer[S, U], logger *zap.Logger) *Graph[S, U] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph[S, U]{
		name:       name,
		nodes:      make(map[Node]StepFunc[S, U]),
		edges:      make(map[Node]edge[S]),
		interrupts: make(map[Node]Node),
		reducer:    reducer,
		maxSteps:   DefaultMaxSteps,
		logger:     logger.With(zap.String("component", "graph"), zap.String("graph", name)),
	}
}

// AddNode registers a step.
func (g *Graph[S, U]) AddNode(name Node, fn StepFunc[S, U]) *Graph[S, U] {
	g.nodes[name] = fn
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph[S, U]) AddEdge(from, to Node) *Graph[S, U] {
	g.edges[from] = edge[S]{to: to}
	return g
}

// AddConditionalEdge adds an edge whose target is chosen by route.
func (g *Graph[S, U]) AddConditionalEdge(from Node, route RouteFunc[S]) *Graph[S, U] {
	g.edges[from] = edge[S]{route: route}
	return g
}

// AddInterrupt marks from as a suspension point. Executing from runs its step,
// then suspends; a later RunFrom should start at resumeAt.
func (g *Graph[S, U]) AddInterrupt(from, resumeAt Node) *Graph[S, U] {
	g.interrupts[from] = resumeAt
	return g
}

// SetEntry sets the start node.
func (g *Graph[S, U]) SetEntry(n Node) *Graph[S, U] {
	g.entry = n
	return g
}

// WithMaxSteps overrides the step budget.
func (g *Graph[S, U]) WithMaxSteps(n int) *Graph[S, U] {
	if n > 0 {
		g.maxSteps = n
	}
	return g
}

// WithObserver registers a step observer.
func (g *Graph[S, U]) WithObserver(o StepObserver) *Graph[S, U] {
	g.observer = o
	return g
}

// Entry returns the start node.
func (g *Graph[S, U]) Entry() Node { return g.entry }

// Validate 检查入口、边目标与孤立节点
func (g *Graph[S, U]) Validate() error {
	if g.reducer == nil {
		return fmt.Errorf("graph %s: reducer is required", g.name)
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph %s: entry node %q not registered", g.name, g.entry)
	}
	for from, e := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph %s: edge from unknown node %q", g.name, from)
		}
		if e.route == nil && e.to != End {
			if _, ok := g.nodes[e.to]; !ok {
				return fmt.Errorf("graph %s: edge %q -> unknown node %q", g.name, from, e.to)
			}
		}
	}
	for from, resume := range g.interrupts {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph %s: interrupt on unknown node %q", g.name, from)
		}
		if _, ok := g.nodes[resume]; !ok {
			return fmt.Errorf("graph %s: interrupt resumes at unknown node %q", g.name, resume)
		}
	}
	for n := range g.nodes {
		if _, hasEdge := g.edges[n]; hasEdge {
			continue
		}
		if _, isInterrupt := g.interrupts[n]; isInterrupt {
			continue
		}
		return fmt.Errorf("graph %s: node %q has no outgoing edge", g.name, n)
	}
	return nil
}

// Run executes from the entry node.
func (g *Graph[S, U]) Run(ctx context.Context, state S) (Result[S], error) {
	return g.RunFrom(ctx, state, g.entry)
}

// RunFrom 从指定节点开始执行, 直到 End、挂起、取消、出错或超出步数上限.
// 取消只在步骤之间检查; 步骤执行期间发生取消时丢弃该步的更新.
func (g *Graph[S, U]) RunFrom(ctx context.Context, state S, start Node) (Result[S], error) {
	res := Result[S]{State: state, LastNode: start}
	tracer := otel.Tracer("finrag/workflow")

	current := start
	for current != End {
		if err := ctx.Err(); err != nil {
			res.Status = StatusCancelled
			return res, err
		}
		if res.Steps >= g.maxSteps {
			res.Status = StatusFailed
			g.logger.Warn("step limit exceeded", zap.Int("max_steps", g.maxSteps), zap.String("node", string(current)))
			return res, fmt.Errorf("%w: %d steps at node %s", ErrStepLimitExceeded, g.maxSteps, current)
		}

		fn, ok := g.nodes[current]
		if !ok {
			res.Status = StatusFailed
			return res, fmt.Errorf("graph %s: unknown node %q", g.name, current)
		}

		stepCtx, span := tracer.Start(ctx, "workflow.step."+string(current))
		span.SetAttributes(
			attribute.String("workflow.graph", g.name),
			attribute.String("workflow.node", string(current)),
			attribute.Int("workflow.step", res.Steps),
		)

		started := time.Now()
		update, err := fn(stepCtx, res.State)
		elapsed := time.Since(started)
		res.Steps++
		res.LastNode = current

		if g.observer != nil {
			g.observer(current, elapsed, err)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			res.Trace = append(res.Trace, StepRecord{Node: current, Duration: elapsed, Error: err.Error()})
			if ctx.Err() != nil {
				res.Status = StatusCancelled
				return res, ctx.Err()
			}
			res.Status = StatusFailed
			return res, fmt.Errorf("step %s: %w", current, err)
		}

		if ctx.Err() != nil {
			span.End()
			res.Trace = append(res.Trace, StepRecord{Node: current, Duration: elapsed, Error: "cancelled"})
			res.Status = StatusCancelled
			return res, ctx.Err()
		}

		res.State = g.reducer(res.State, update)

		if resumeAt, ok := g.interrupts[current]; ok {
			span.SetAttributes(attribute.String("workflow.resume_at", string(resumeAt)))
			span.End()
			res.Trace = append(res.Trace, StepRecord{Node: current, Next: Interrupt, Duration: elapsed})
			res.Status = StatusSuspended
			res.ResumeAt = resumeAt
			g.logger.Info("workflow suspended", zap.String("node", string(current)), zap.String("resume_at", string(resumeAt)))
			return res, nil
		}

		next, err := g.next(current, res.State)
		span.SetAttributes(attribute.String("workflow.next", string(next)))
		span.End()
		if err != nil {
			res.Status = StatusFailed
			return res, err
		}
		res.Trace = append(res.Trace, StepRecord{Node: current, Next: next, Duration: elapsed})

		g.logger.Debug("transition",
			zap.String("from", string(current)),
			zap.String("to", string(next)),
			zap.Duration("duration", elapsed),
		)
		current = next
	}

	res.Status = StatusCompleted
	return res, nil
}

func (g *Graph[S, U]) next(from Node, state S) (Node, error) {
	e, ok := g.edges[from]
	if !ok {
		return "", fmt.Errorf("graph %s: node %q has no outgoing edge", g.name, from)
	}
	if e.route == nil {
		return e.to, nil
	}
	to := e.route(state)
	if to == End {
		return End, nil
	}
	if _, ok := g.nodes[to]; !ok {
		return "", fmt.Errorf("graph %s: route from %q chose unknown node %q", g.name, from, to)
	}
	return to, nil
}
