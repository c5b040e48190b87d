package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type counterState struct {
	Count   int
	Visited []Node
}

type counterUpdate struct {
	Add  int
	Node Node
}

func reduceCounter(s counterState, u counterUpdate) counterState {
	s.Count += u.Add
	s.Visited = append(append([]Node(nil), s.Visited...), u.Node)
	return s
}

func addStep(node Node, n int) StepFunc[counterState, counterUpdate] {
	return func(_ context.Context, _ counterState) (counterUpdate, error) {
		return counterUpdate{Add: n, Node: node}, nil
	}
}

func TestGraph_LinearRun(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("linear", reduceCounter, zap.NewNop()).
		AddNode("a", addStep("a", 1)).
		AddNode("b", addStep("b", 2)).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a")
	require.NoError(t, g.Validate())

	res, err := g.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.State.Count)
	assert.Equal(t, []Node{"a", "b"}, res.State.Visited)
	assert.Equal(t, 2, res.Steps)
	require.Len(t, res.Trace, 2)
	assert.Equal(t, Node("b"), res.Trace[0].Next)
	assert.Equal(t, End, res.Trace[1].Next)
}

func TestGraph_ConditionalLoopIsBoundedByState(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("loop", reduceCounter, nil).
		AddNode("inc", addStep("inc", 1)).
		AddConditionalEdge("inc", func(s counterState) Node {
			if s.Count >= 3 {
				return End
			}
			return "inc"
		}).
		SetEntry("inc")
	require.NoError(t, g.Validate())

	res, err := g.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.State.Count)
	assert.Equal(t, 3, res.Steps)
}

func TestGraph_StepLimit(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("forever", reduceCounter, nil).
		AddNode("spin", addStep("spin", 1)).
		AddEdge("spin", "spin").
		SetEntry("spin").
		WithMaxSteps(5)

	res, err := g.Run(context.Background(), counterState{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepLimitExceeded))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 5, res.Steps)
}

func TestGraph_InterruptAndResume(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("hitl", reduceCounter, nil).
		AddNode("start", addStep("start", 1)).
		AddNode("ask", addStep("ask", 0)).
		AddNode("route", addStep("route", 10)).
		AddConditionalEdge("start", func(s counterState) Node {
			if s.Count < 10 {
				return "ask"
			}
			return "route"
		}).
		AddInterrupt("ask", "route").
		AddEdge("route", End).
		SetEntry("start")
	require.NoError(t, g.Validate())

	res, err := g.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	assert.Equal(t, Node("route"), res.ResumeAt)
	assert.Equal(t, Interrupt, res.Trace[len(res.Trace)-1].Next)

	resumed, err := g.RunFrom(context.Background(), res.State, res.ResumeAt)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, 11, resumed.State.Count)
	assert.Equal(t, []Node{"start", "ask", "route"}, resumed.State.Visited)
}

func TestGraph_CancelledDuringStepDiscardsUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGraph[counterState, counterUpdate]("cancel", reduceCounter, nil).
		AddNode("slow", func(_ context.Context, _ counterState) (counterUpdate, error) {
			cancel()
			return counterUpdate{Add: 100, Node: "slow"}, nil
		}).
		AddEdge("slow", End).
		SetEntry("slow")

	res, err := g.Run(ctx, counterState{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 0, res.State.Count)
}

func TestGraph_StepErrorStops(t *testing.T) {
	boom := errors.New("boom")
	var observed []Node
	g := NewGraph[counterState, counterUpdate]("err", reduceCounter, nil).
		AddNode("a", func(context.Context, counterState) (counterUpdate, error) {
			return counterUpdate{}, boom
		}).
		AddEdge("a", End).
		SetEntry("a").
		WithObserver(func(n Node, _ time.Duration, err error) {
			observed = append(observed, n)
			assert.ErrorIs(t, err, boom)
		})

	res, err := g.Run(context.Background(), counterState{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []Node{"a"}, observed)
}

func TestGraph_Validate(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("bad", reduceCounter, nil).
		AddNode("a", addStep("a", 1)).
		AddEdge("a", "missing").
		SetEntry("a")
	assert.Error(t, g.Validate())

	g = NewGraph[counterState, counterUpdate]("dangling", reduceCounter, nil).
		AddNode("a", addStep("a", 1)).
		SetEntry("a")
	assert.Error(t, g.Validate())

	g = NewGraph[counterState, counterUpdate]("noentry", reduceCounter, nil).
		AddNode("a", addStep("a", 1)).
		AddEdge("a", End)
	assert.Error(t, g.Validate())
}

func TestGraph_RouteToUnknownNode(t *testing.T) {
	g := NewGraph[counterState, counterUpdate]("route", reduceCounter, nil).
		AddNode("a", addStep("a", 1)).
		AddConditionalEdge("a", func(counterState) Node { return "nowhere" }).
		SetEntry("a")

	res, err := g.Run(context.Background(), counterState{})
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
}
