package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/pkg/schema"
	"github.com/rendis/agentflow/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder returns a node that appends name to the "visited" key.
func recorder(name string) StateNode {
	return NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		s.Update(func(data map[string]any) {
			visited, _ := data["visited"].([]string)
			data["visited"] = append(visited, name)
		})
		return s, nil
	})
}

func visited(t *testing.T, s *SharedState) []string {
	t.Helper()
	v, _ := s.Get("visited")
	out, _ := v.([]string)
	return out
}

func TestFlow_LinearDefaultPath(t *testing.T) {
	f := NewFlow()
	f.AddNode("A", recorder("A"))
	f.AddNode("B", recorder("B"))
	f.AddNode("C", recorder("C"))
	f.AddEdge("A", DefaultAction, "B")
	f.AddEdge("B", "", "C")

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, visited(t, out))
	_, hasAction := out.Get(ActionKey)
	assert.False(t, hasAction)
}

func TestFlow_FirstNodeIsStart(t *testing.T) {
	f := NewFlow()
	f.AddNode("first", recorder("first"))
	f.AddNode("second", recorder("second"))
	assert.Equal(t, "first", f.Start())

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, visited(t, out))
}

func TestFlow_EmptyFlowReturnsStateUnchanged(t *testing.T) {
	s := NewSharedState(map[string]any{"k": "v", ActionKey: "x"})

	out, err := NewFlow().Run(context.Background(), s)
	require.NoError(t, err)
	assert.Same(t, s, out)
	assert.Equal(t, map[string]any{"k": "v", ActionKey: "x"}, out.Snapshot())
}

func TestFlow_BranchOnStoredLabel(t *testing.T) {
	review := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		score, _ := s.GetInt("score")
		if score < 5 {
			s.SetAction("reject")
		} else {
			s.SetAction("accept")
		}
		return s, nil
	})

	f := WithStart("review", review)
	f.AddNode("accepted", recorder("accepted"))
	f.AddNode("rejected", recorder("rejected"))
	f.AddEdge("review", "accept", "accepted")
	f.AddEdge("review", "reject", "rejected")

	out, err := f.Run(context.Background(), NewSharedState(map[string]any{"score": 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"rejected"}, visited(t, out))
}

func TestFlow_RevisionLoopTerminatesOnLabel(t *testing.T) {
	draft := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		s.Update(func(data map[string]any) {
			n, _ := data["drafts"].(int)
			data["drafts"] = n + 1
		})
		return s, nil
	})
	check := NewRouterNode(func(ctx context.Context, s *SharedState) (Transition, error) {
		n, _ := s.GetInt("drafts")
		if n < 3 {
			return Goto(s, "revise"), nil
		}
		return Goto(s, "done"), nil
	})

	f := WithStart("draft", draft)
	f.AddNode("check", check)
	f.AddEdge("draft", DefaultAction, "check")
	f.AddEdge("check", "revise", "draft")

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	n, _ := out.GetInt("drafts")
	assert.Equal(t, 3, n)
}

func TestFlow_ForgottenLabelFallsBackToDefault(t *testing.T) {
	setter := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		s.SetAction("skip")
		return s, nil
	})

	f := WithStart("setter", setter)
	f.AddNode("middle", recorder("middle"))
	f.AddNode("end", recorder("end"))
	f.AddNode("skipped", recorder("skipped"))
	f.AddEdge("setter", "skip", "middle")
	f.AddEdge("middle", DefaultAction, "end")
	f.AddEdge("middle", "skip", "skipped")

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"middle", "end"}, visited(t, out))
}

func TestFlow_ExplicitLabelWinsOverStoredKey(t *testing.T) {
	router := NewRouterNode(func(ctx context.Context, s *SharedState) (Transition, error) {
		s.SetAction("stored")
		return Transition{Action: "explicit"}, nil
	})

	f := WithStart("router", router)
	f.AddNode("stored", recorder("stored"))
	f.AddNode("explicit", recorder("explicit"))
	f.AddEdge("router", "stored", "stored")
	f.AddEdge("router", "explicit", "explicit")

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"explicit"}, visited(t, out))
	_, hasAction := out.Get(ActionKey)
	assert.False(t, hasAction)
}

func TestFlow_DuplicateEdgeOverwrites(t *testing.T) {
	f := NewFlow()
	f.AddNode("A", recorder("A"))
	f.AddNode("B", recorder("B"))
	f.AddNode("C", recorder("C"))
	f.AddEdge("A", DefaultAction, "B")
	f.AddEdge("A", DefaultAction, "C")

	to, ok := f.NextStep("A", DefaultAction)
	require.True(t, ok)
	assert.Equal(t, "C", to)
	assert.Len(t, f.Topology().Edges, 1)
}

func TestFlow_ReAddingNodeKeepsEdges(t *testing.T) {
	f := NewFlow()
	f.AddNode("A", recorder("old"))
	f.AddNode("B", recorder("B"))
	f.AddEdge("A", DefaultAction, "B")
	f.AddNode("A", recorder("new"))

	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "B"}, visited(t, out))
	assert.Equal(t, []string{"A", "B"}, f.Topology().Nodes)
}

func TestFlow_NodeErrorStripsLabelAndNamesNode(t *testing.T) {
	boom := errors.New("model unavailable")
	fail := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		s.SetAction("retry")
		return s, boom
	})

	f := WithStart("ask", fail)
	out, err := f.Run(context.Background(), NewSharedState(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "ask", fe.Node)
	assert.Equal(t, schema.ErrCodeNodeFailed, fe.Code)

	_, hasAction := out.Get(ActionKey)
	assert.False(t, hasAction)
}

func TestFlow_UnregisteredTargetHaltsNormally(t *testing.T) {
	f := WithStart("A", NewRouterNode(func(_ context.Context, s *SharedState) (Transition, error) {
		s.Set("visited", []string{"A"})
		return Goto(s, "publish"), nil
	}))
	f.AddEdge("A", "publish", "ghost")

	state := NewSharedState(map[string]any{ActionKey: "stale"})
	out, err := f.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, visited(t, out))
	_, ok := out.Get(ActionKey)
	assert.False(t, ok)
}

func TestFlow_UnregisteredStartHaltsNormally(t *testing.T) {
	f := NewFlow()
	f.AddNode("A", recorder("A"))
	f.SetStart("missing")

	out, err := f.Run(context.Background(), NewSharedState(map[string]any{"k": 1}))
	require.NoError(t, err)
	v, _ := out.Get("k")
	assert.Equal(t, 1, v)
	_, ok := out.Get("visited")
	assert.False(t, ok)
}

func TestFlow_MaxSteps(t *testing.T) {
	loop := NewRouterNode(func(ctx context.Context, s *SharedState) (Transition, error) {
		return Goto(s, "again"), nil
	})
	f := WithStart("loop", loop, WithMaxSteps(5))
	f.AddEdge("loop", "again", "loop")

	_, err := f.Run(context.Background(), NewSharedState(nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeStepLimit))
}

func TestFlow_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		cancel()
		return s, nil
	})
	f := WithStart("first", first)
	f.AddNode("second", recorder("second"))
	f.AddEdge("first", DefaultAction, "second")

	out, err := f.Run(ctx, NewSharedState(nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, visited(t, out))
}

func TestFlow_NestedFlowAsNode(t *testing.T) {
	inner := WithStart("x", recorder("x"))
	inner.AddNode("y", recorder("y"))
	inner.AddEdge("x", DefaultAction, "y")

	outer := WithStart("pre", recorder("pre"))
	outer.AddNode("inner", inner)
	outer.AddNode("post", recorder("post"))
	outer.AddEdge("pre", DefaultAction, "inner")
	outer.AddEdge("inner", DefaultAction, "post")

	out, err := outer.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "x", "y", "post"}, visited(t, out))
}

func TestFlow_NodeMayReturnNewState(t *testing.T) {
	replace := NewNode(func(ctx context.Context, s *SharedState) (*SharedState, error) {
		return NewSharedState(map[string]any{"fresh": true}), nil
	})
	f := WithStart("replace", replace)
	f.AddNode("next", recorder("next"))
	f.AddEdge("replace", DefaultAction, "next")

	out, err := f.Run(context.Background(), NewSharedState(map[string]any{"old": true}))
	require.NoError(t, err)
	_, hasOld := out.Get("old")
	assert.False(t, hasOld)
	assert.Equal(t, []string{"next"}, visited(t, out))
}

func TestFlow_ValidateReportsBrokenEdgesAndUnreachable(t *testing.T) {
	f := NewFlow()
	f.AddNode("A", recorder("A"))
	f.AddNode("orphan", recorder("orphan"))
	f.AddEdge("A", DefaultAction, "ghost")

	res := f.Validate()
	assert.False(t, res.Valid())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, schema.CheckDanglingEdge, res.Errors[0].Check)
	assert.Equal(t, "A", res.Errors[0].Node)
	assert.Contains(t, res.Errors[0].Message, "ghost")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CheckUnreachable, res.Warnings[0].Check)
	assert.Equal(t, "orphan", res.Warnings[0].Node)
	assert.True(t, schema.HasCode(res.ToError(), schema.ErrCodeValidation))
}

func TestFlow_CloneIsIndependent(t *testing.T) {
	f := WithStart("A", recorder("A"))
	f.AddNode("B", recorder("B"))
	f.AddEdge("A", DefaultAction, "B")

	c := f.Clone()
	c.AddEdge("A", DefaultAction, "A")
	c.AddNode("C", recorder("C"))

	to, _ := f.NextStep("A", DefaultAction)
	assert.Equal(t, "B", to)
	_, ok := f.Node("C")
	assert.False(t, ok)
}

func TestFlow_TopologyOrder(t *testing.T) {
	f := NewFlow(WithName("review"))
	f.AddNode("draft", recorder("draft"))
	f.AddNode("check", recorder("check"))
	f.AddEdge("check", "revise", "draft")
	f.AddEdge("check", "accept", "draft")
	f.AddEdge("draft", DefaultAction, "check")

	topo := f.Topology()
	assert.Equal(t, "review", topo.Name)
	assert.Equal(t, "draft", topo.Start)
	assert.Equal(t, []Edge{
		{From: "draft", Action: DefaultAction, To: "check"},
		{From: "check", Action: "accept", To: "draft"},
		{From: "check", Action: "revise", To: "draft"},
	}, topo.Edges)
}

func TestFlow_ConcurrentRunsAreIndependent(t *testing.T) {
	f := WithStart("A", recorder("A"))
	f.AddNode("B", recorder("B"))
	f.AddEdge("A", DefaultAction, "B")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.Run(context.Background(), NewSharedState(nil))
			assert.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, visited(t, out))
		}()
	}
	wg.Wait()
}

func TestFlow_PublishesLifecycleEvents(t *testing.T) {
	hub := streaming.NewMemoryHub(0)
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{Flow: "qa"})
	require.NoError(t, err)
	defer cancel()

	f := WithStart("A", recorder("A"), WithName("qa"), WithEventHub(hub))
	f.AddNode("B", recorder("B"))
	f.AddEdge("A", DefaultAction, "B")
	_, err = f.Run(context.Background(), NewSharedState(nil))
	require.NoError(t, err)

	var types []string
	var runID string
	for len(types) < 6 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
			if runID == "" {
				runID = e.RunID
			}
			assert.Equal(t, runID, e.RunID)
		case <-time.After(time.Second):
			t.Fatalf("timed out after events %v", types)
		}
	}
	assert.NotEmpty(t, runID)
	assert.Equal(t, []string{
		schema.EventFlowStarted,
		schema.EventNodeStarted, schema.EventNodeCompleted,
		schema.EventNodeStarted, schema.EventNodeCompleted,
		schema.EventFlowCompleted,
	}, types)
}

func TestFlow_ReusesRunIDFromContext(t *testing.T) {
	hub := streaming.NewMemoryHub(0)
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	inner := WithStart("leaf", recorder("leaf"), WithName("inner"), WithEventHub(hub))
	outer := WithStart("nested", inner, WithName("outer"), WithEventHub(hub))

	ctx := logging.WithRunID(context.Background(), "run-1")
	_, err = outer.Run(ctx, NewSharedState(nil))
	require.NoError(t, err)

	flows := map[string]bool{}
	for len(flows) < 2 {
		select {
		case e := <-ch:
			assert.Equal(t, "run-1", e.RunID)
			flows[e.Flow] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out, saw flows %v", flows)
		}
	}
	assert.True(t, flows["inner"])
	assert.True(t, flows["outer"])
}
