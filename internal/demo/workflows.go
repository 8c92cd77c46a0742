package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/internal/runner"
	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/nodes"
	"github.com/rendis/agentflow/pkg/schema"
)

// Options tune the demo workflows. Zero values select defaults.
type Options struct {
	LLM         LLM
	ChunkSize   int
	Concurrency int
	CallTimeout time.Duration
	Breakers    *nodes.Breakers
	Sleeper     flow.Sleeper
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LLM == nil {
		o.LLM = Mock{}
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 120
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	if o.Breakers == nil {
		o.Breakers = nodes.NewBreakers(nodes.BreakerConfig{})
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Register adds every demo workflow to reg.
func Register(reg *runner.Registry, opts Options) error {
	opts = opts.withDefaults()
	builders := []func(Options) (runner.Workflow, error){
		qaWorkflow,
		summarizeWorkflow,
		reviewWorkflow,
		triageWorkflow,
		greetingsWorkflow,
	}
	for _, build := range builders {
		w, err := build(opts)
		if err != nil {
			return fmt.Errorf("demo workflow: %w", err)
		}
		if err := reg.Register(w); err != nil {
			return err
		}
	}
	return nil
}

// complete asks the model with a per-call deadline.
func complete(ctx context.Context, o Options, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.CallTimeout)
	defer cancel()
	return o.LLM.Complete(ctx, prompt)
}

// qaWorkflow answers a question from the built-in corpus (Rag).
func qaWorkflow(o Options) (runner.Workflow, error) {
	normalize, err := nodes.Transform(`{question: (.question | ascii_downcase)}`)
	if err != nil {
		return runner.Workflow{}, err
	}
	format, err := nodes.Compute("response", `"Q: " + question + "\nA: " + answer`)
	if err != nil {
		return runner.Workflow{}, err
	}

	retrieve := flow.NewNode(func(_ context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		question, _ := s.GetString("question")
		docs := Retrieve(Corpus, question, 2)
		passages := make([]string, 0, len(docs))
		sources := make([]string, 0, len(docs))
		for _, d := range docs {
			passages = append(passages, d.Text)
			sources = append(sources, d.ID)
		}
		s.Set("context", passages)
		s.Set("sources", sources)
		return s, nil
	})
	generate := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		question, _ := s.GetString("question")
		v, _ := s.Get("context")
		passages, _ := v.([]string)
		answer, err := complete(ctx, o, "answer: "+question+"\ncontext: "+strings.Join(passages, " "))
		if err != nil {
			return s, err
		}
		s.Set("answer", answer)
		return s, nil
	})
	rag := flow.NewRag(retrieve, generate)

	return runner.Workflow{
		Name:        "qa",
		Description: "Answer a question about agentflow from a small built-in corpus",
		InputSchema: json.RawMessage(`{"type":"object","required":["question"],"properties":{"question":{"type":"string","minLength":1}}}`),
		Build: func(opts ...flow.Option) *flow.Flow {
			f := flow.WithStart("normalize", normalize, opts...)
			f.AddNode("rag", rag)
			f.AddNode("format", format)
			f.AddEdge("normalize", "", "rag")
			f.AddEdge("rag", "", "format")
			return f
		},
	}, nil
}

// summarizeWorkflow chunks a text and summarises the chunks concurrently
// (MapReduce over a ParallelBatch).
func summarizeWorkflow(o Options) (runner.Workflow, error) {
	count, err := nodes.Compute("words", `len(split(summary, " "))`)
	if err != nil {
		return runner.Workflow{}, err
	}

	mapper := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		chunk, _ := s.GetString("chunk")
		summary, err := complete(ctx, o, "summarize: "+chunk)
		if err != nil {
			return s, err
		}
		s.Set("summary", summary)
		return s, nil
	})
	reducer := flow.NewReduceNode(func(_ context.Context, states []*flow.SharedState) (*flow.SharedState, error) {
		parts := make([]string, 0, len(states))
		for _, st := range states {
			if summary, ok := st.GetString("summary"); ok && summary != "" {
				parts = append(parts, summary)
			}
		}
		return flow.NewSharedState(map[string]any{"summary": strings.Join(parts, " ")}), nil
	})
	mr := flow.NewParallelMapReduce(mapper, reducer,
		flow.WithConcurrency(o.Concurrency), flow.WithBatchLogger(o.Logger))

	mapReduce := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		v, _ := s.Get("chunks")
		chunks, _ := v.([]string)
		inputs := make([]*flow.SharedState, len(chunks))
		for i, c := range chunks {
			inputs[i] = flow.NewSharedState(map[string]any{"chunk": c, "index": i})
		}
		out, err := mr.Run(ctx, inputs)
		if err != nil {
			return s, err
		}
		summary, _ := out.GetString("summary")
		s.Set("summary", summary)
		return s, nil
	})

	return runner.Workflow{
		Name:        "summarize",
		Description: "Split a text into chunks and summarise them in parallel",
		InputSchema: json.RawMessage(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`),
		Build: func(opts ...flow.Option) *flow.Flow {
			f := flow.WithStart("chunk", nodes.Chunk(o.ChunkSize, "text", "chunks"), opts...)
			f.AddNode("map_reduce", mapReduce)
			f.AddNode("count", count)
			f.AddEdge("chunk", "", "map_reduce")
			f.AddEdge("map_reduce", "", "count")
			return f
		},
	}, nil
}

// reviewWorkflow drafts, reviews and loops until the draft is approved,
// then publishes through a guarded retry node (Agent, Condition, RetryNode).
func reviewWorkflow(o Options) (runner.Workflow, error) {
	review, err := nodes.Compute("approved", `revision >= (min_revisions ?? 2)`)
	if err != nil {
		return runner.Workflow{}, err
	}
	decide, err := nodes.Condition(`state.approved ? "approved" : "revise"`)
	if err != nil {
		return runner.Workflow{}, err
	}

	writer := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		topic, _ := s.GetString("topic")
		revision, _ := s.GetInt("revision")
		revision++
		text, err := complete(ctx, o, fmt.Sprintf("draft: %s (revision %d)", topic, revision))
		if err != nil {
			return s, err
		}
		if text == "" {
			s.Set(flow.ErrorKey, "empty draft")
			return s, nil
		}
		s.Set("draft", text)
		s.Set("revision", revision)
		return s, nil
	})
	agent := flow.NewAgent(writer,
		flow.WithRetry(3, 10*time.Millisecond),
		flow.WithRetryPolicy(flow.PolicyUntilSuccess),
		flow.WithAgentLogger(o.Logger),
		flow.WithAgentSleeper(o.Sleeper),
	)
	draft := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		out, err := agent.Decide(ctx, s.Snapshot())
		if err != nil {
			return s, err
		}
		s.Update(func(data map[string]any) { maps.Copy(data, out) })
		return s, nil
	})

	publisher := flow.NewRetryNode(
		func(_ context.Context, s *flow.SharedState) any {
			text, _ := s.GetString("draft")
			return text
		},
		func(ctx context.Context, _ *flow.SharedState, prep any) (any, error) {
			return complete(ctx, o, "publish: "+prep.(string))
		},
		func(_ context.Context, s *flow.SharedState, _, exec any) (*flow.SharedState, error) {
			if failure, ok := exec.(*flow.ExecFailure); ok {
				return s, schema.NewError(schema.ErrCodeRetryExhausted, "publish failed").WithCause(failure)
			}
			s.Set("published", exec)
			return s, nil
		},
		flow.WithNodeName("publish"),
		flow.WithMaxRetries(3),
		flow.WithBackoff(flow.BackoffPolicy{Strategy: flow.BackoffExponential, Delay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond}),
		flow.WithFallback(func(_ context.Context, s *flow.SharedState, _ any, err error) (any, error) {
			s.Set("publish_error", err.Error())
			return "queued", nil
		}),
		flow.WithSleeper(o.Sleeper),
		flow.WithRetryLogger(o.Logger),
	)
	publish := nodes.Guard("publish", o.Breakers, nodes.Timeout(o.CallTimeout, publisher))

	return runner.Workflow{
		Name:        "review",
		Description: "Draft and revise a post until review approves it, then publish",
		InputSchema: json.RawMessage(`{"type":"object","required":["topic"],"properties":{"topic":{"type":"string"},"min_revisions":{"type":"integer","minimum":1}}}`),
		Build: func(opts ...flow.Option) *flow.Flow {
			f := flow.WithStart("draft", draft, opts...)
			f.AddNode("review", review)
			f.AddNode("decide", decide)
			f.AddNode("publish", publish)
			f.AddEdge("draft", "", "review")
			f.AddEdge("review", "", "decide")
			f.AddEdge("decide", "approved", "publish")
			f.AddEdge("decide", "revise", "draft")
			return f
		},
	}, nil
}

// Ticket is the structured classification the triage model must return.
type Ticket struct {
	Category string `json:"category" jsonschema:"enum=billing,enum=bug,enum=general"`
	Priority string `json:"priority" jsonschema:"enum=low,enum=high"`
}

// triageWorkflow classifies a support message into a validated Ticket,
// runs two analysts concurrently and routes by category (StructuredOutput,
// MultiAgent, Condition).
func triageWorkflow(o Options) (runner.Workflow, error) {
	route, err := nodes.Condition(`state.ticket.category`)
	if err != nil {
		return runner.Workflow{}, err
	}

	classifier := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		message, _ := s.GetString("message")
		raw, err := complete(ctx, o, "classify: "+message)
		if err != nil {
			return s, err
		}
		var ticket map[string]any
		if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
			return s, schema.NewError(schema.ErrCodeSchemaMismatch, "classifier returned invalid JSON").WithCause(err)
		}
		s.Set("ticket", ticket)
		return s, nil
	})
	classify := flow.NewStructuredOutput(classifier,
		flow.WithSchemaFor[Ticket](),
		flow.WithOutputKey("ticket"))

	analysts := flow.NewMultiAgent(flow.WithConcurrency(o.Concurrency))
	analysts.AddAgent(flow.NewNode(func(_ context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		message, _ := s.GetString("message")
		sentiment := "neutral"
		lower := strings.ToLower(message)
		switch {
		case strings.ContainsAny(lower, "!") || strings.Contains(lower, "angry") || strings.Contains(lower, "terrible"):
			sentiment = "negative"
		case strings.Contains(lower, "thanks") || strings.Contains(lower, "great"):
			sentiment = "positive"
		}
		s.Set("sentiment", sentiment)
		return s, nil
	}))
	analysts.AddAgent(flow.NewNode(func(_ context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		message, _ := s.GetString("message")
		var keywords []string
		for w := range words(message) {
			if len(w) > 4 {
				keywords = append(keywords, w)
			}
		}
		s.Set("keyword_count", len(keywords))
		return s, nil
	}))

	return runner.Workflow{
		Name:        "triage",
		Description: "Classify a support message, analyse it and assign a desk",
		InputSchema: json.RawMessage(`{"type":"object","required":["message"],"properties":{"message":{"type":"string","minLength":1}}}`),
		Build: func(opts ...flow.Option) *flow.Flow {
			f := flow.WithStart("classify", classify, opts...)
			f.AddNode("analyze", analysts)
			f.AddNode("route", route)
			f.AddNode("billing_desk", nodes.SetKeys(map[string]any{"assigned_to": "billing"}))
			f.AddNode("engineering", nodes.SetKeys(map[string]any{"assigned_to": "engineering"}))
			f.AddNode("helpdesk", nodes.SetKeys(map[string]any{"assigned_to": "helpdesk"}))
			f.AddEdge("classify", "", "analyze")
			f.AddEdge("analyze", "", "route")
			f.AddEdge("route", "billing", "billing_desk")
			f.AddEdge("route", "bug", "engineering")
			f.AddEdge("route", "general", "helpdesk")
			return f
		},
	}, nil
}

// greetingsWorkflow greets one name in several languages by running a
// small workflow once per language (BatchFlow).
func greetingsWorkflow(o Options) (runner.Workflow, error) {
	greetOne := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		name, _ := s.GetString("name")
		v, _ := s.Remove("lang")
		lang, _ := v.(string)
		text, err := complete(ctx, o, "greet: "+lang+" "+name)
		if err != nil {
			return s, err
		}
		s.Update(func(data map[string]any) {
			greetings, _ := data["greetings"].(map[string]any)
			if greetings == nil {
				greetings = map[string]any{}
			}
			greetings[lang] = text
			data["greetings"] = greetings
		})
		return s, nil
	})
	perLanguage := flow.NewBatchFlow(flow.WorkflowWithStart("greet", greetOne))

	batch := flow.NewNode(func(ctx context.Context, s *flow.SharedState) (*flow.SharedState, error) {
		v, _ := s.Get("languages")
		var params []map[string]any
		for _, lang := range toStrings(v) {
			params = append(params, map[string]any{"lang": lang})
		}
		return perLanguage.Run(ctx, s, params)
	})

	return runner.Workflow{
		Name:        "greetings",
		Description: "Greet a name in every requested language",
		InputSchema: json.RawMessage(`{"type":"object","required":["name","languages"],"properties":{"name":{"type":"string"},"languages":{"type":"array","items":{"type":"string"}}}}`),
		Build: func(opts ...flow.Option) *flow.Flow {
			return flow.WithStart("greet_all", batch, opts...)
		},
	}, nil
}

// toStrings accepts []string or the []any produced by JSON decoding.
func toStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
