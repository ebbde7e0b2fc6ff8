package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/engine"
	"github.com/BaSui01/crewflow/llm/tools"
	"github.com/BaSui01/crewflow/types"
)

// Names of the synthetic delegation tools.
const (
	DelegateWorkTool = "delegate_work"
	AskQuestionTool  = "ask_question"
)

// DelegationTimeout bounds one delegated reason/act loop.
const DelegationTimeout = 30 * time.Minute

// DelegationKind distinguishes the two delegation tools.
type DelegationKind string

const (
	DelegateWork DelegationKind = "work"
	AskQuestion  DelegationKind = "question"
)

// DelegationRequest is a validated delegation tool call.
type DelegationRequest struct {
	Kind     DelegationKind
	From     *Agent
	Coworker *Agent
	// Task is the delegated task, or the question for AskQuestion.
	Task    string
	Context string
	// Depth is the delegation depth of the delegated work (1 for a
	// manager delegating directly).
	Depth int
}

// DelegationHook may take over a delegation. Returning handled=false
// falls back to running the coworker's loop. Crews use it to map
// delegate_work onto their pending tasks.
type DelegationHook func(ctx context.Context, req DelegationRequest) (result string, handled bool, err error)

// Delegation builds the delegate_work and ask_question tools over a set
// of coworkers.
type Delegation struct {
	Engine    *engine.Context
	Coworkers []*Agent
	Hook      DelegationHook
}

type delegateWorkArgs struct {
	Coworker string `json:"coworker" jsonschema:"description=Role of the coworker to delegate to"`
	Task     string `json:"task" jsonschema:"description=The task to delegate, or the id of a pending task"`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to do the task"`
}

type askQuestionArgs struct {
	Coworker string `json:"coworker" jsonschema:"description=Role of the coworker to ask"`
	Question string `json:"question" jsonschema:"description=The question to ask"`
	Context  string `json:"context" jsonschema:"description=Everything the coworker needs to know to answer"`
}

// ToolsFor returns the delegation tools offered to self. self is never
// its own coworker.
func (d *Delegation) ToolsFor(self *Agent) []tools.Tool {
	roles := d.roles(self)
	list := strings.Join(roles, ", ")

	work := tools.Func(DelegateWorkTool,
		"Delegate a specific task to one of the following coworkers: "+list+
			". Provide all necessary context, the coworker knows nothing about the task.",
		func(ctx context.Context, in delegateWorkArgs) (string, error) {
			return d.run(ctx, self, DelegateWork, in.Coworker, in.Task, in.Context)
		},
		tools.WithTimeout(DelegationTimeout),
	)
	ask := tools.Func(AskQuestionTool,
		"Ask a question to one of the following coworkers: "+list+
			". Provide all necessary context, the coworker knows nothing about the question.",
		func(ctx context.Context, in askQuestionArgs) (string, error) {
			return d.run(ctx, self, AskQuestion, in.Coworker, in.Question, in.Context)
		},
		tools.WithTimeout(DelegationTimeout),
	)
	return []tools.Tool{work, ask}
}

func (d *Delegation) roles(self *Agent) []string {
	out := make([]string, 0, len(d.Coworkers))
	for _, c := range d.Coworkers {
		if c != self {
			out = append(out, c.Role())
		}
	}
	return out
}

func (d *Delegation) find(self *Agent, name string) (*Agent, bool) {
	for _, c := range d.Coworkers {
		if c != self && c.Matches(name) {
			return c, true
		}
	}
	return nil, false
}

func (d *Delegation) run(ctx context.Context, self *Agent, kind DelegationKind, coworker, task, extra string) (string, error) {
	depth := types.DelegationDepth(ctx)
	limit := d.Engine.Options.MaxDelegationDepth
	if depth >= limit {
		return "", tools.NewToolError(tools.KindAdapterFailure, "",
			fmt.Sprintf("delegation depth limit (%d) reached; do the work yourself", limit), nil)
	}

	target, ok := d.find(self, coworker)
	if !ok {
		return "", tools.NewToolError(tools.KindBadArguments, "",
			fmt.Sprintf("unknown coworker %q; valid coworkers: %s", coworker, strings.Join(d.roles(self), ", ")), nil)
	}

	req := DelegationRequest{
		Kind:     kind,
		From:     self,
		Coworker: target,
		Task:     task,
		Context:  extra,
		Depth:    depth + 1,
	}
	ctx = types.WithDelegationDepth(ctx, depth+1)

	if d.Hook != nil {
		result, handled, err := d.Hook(ctx, req)
		if handled {
			return result, err
		}
	}
	return d.Delegate(ctx, req)
}

// Delegate runs the coworker's own loop on the request. A coworker that
// may delegate gets the delegation tools too, bounded by the depth cap.
func (d *Delegation) Delegate(ctx context.Context, req DelegationRequest) (string, error) {
	exec := ExecuteRequest{Description: req.Task}
	if req.Context != "" {
		exec.Context = []ContextBlock{{Source: req.From.Role(), Text: req.Context}}
	}
	if req.Coworker.AllowDelegation() {
		exec.Extra = d.ToolsFor(req.Coworker)
	}
	out, err := req.Coworker.Execute(ctx, d.Engine, exec)
	if err != nil {
		return "", err
	}
	return out.Raw, nil
}
