package crews

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/tools"
)

// allDoneNote 最后一个任务完成时附在工具结果后，要求经理给出总结
const allDoneNote = "All tasks are complete. Reply with your final summary now, without calling any tools."

// hierarchy 是一次层级执行的共享状态；委派钩子把 delegate_work 映射到待办任务
type hierarchy struct {
	run    *Run
	inputs map[string]any
	cancel context.CancelFunc

	mu    sync.Mutex
	usage llm.ChatUsage
	fatal *CrewFailure
}

func (r *Run) hierarchical(ctx context.Context, inputs map[string]any) (*CrewOutput, error) {
	c := r.crew
	logger := c.ec.Logger.With(zap.String("component", "crew"), zap.String("crew", c.name), zap.String("run_id", r.id))

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &hierarchy{run: r, inputs: inputs, cancel: cancel}
	d := &agent.Delegation{Engine: c.ec, Coworkers: c.agents, Hook: h.hook}

	out, err := c.manager.Execute(mctx, c.ec, agent.ExecuteRequest{
		Description: r.metaTask(inputs),
		Extra:       d.ToolsFor(c.manager),
	})
	if f := h.failure(); f != nil {
		return nil, f
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, ctxError(cerr)
		}
		return nil, &CrewFailure{TaskID: ManagerTaskID, Cause: err, Partial: r.bb.Outputs()}
	}

	pending := r.pending()
	if len(pending) > 0 {
		logger.Warn("manager finished with pending tasks", zap.Strings("pending", pending))
	}
	return &CrewOutput{Raw: out.Raw, Usage: out.Usage.Add(h.totalUsage()), Pending: pending}, nil
}

// pending 返回尚无输出的任务 id
func (r *Run) pending() []string {
	var ids []string
	for _, t := range r.crew.tasks {
		if !r.bb.Has(t.ID) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (r *Run) task(id string) *Task {
	for _, t := range r.crew.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// metaTask 生成经理的元任务描述
func (r *Run) metaTask(inputs map[string]any) string {
	c := r.crew
	var sb strings.Builder
	if c.goal != "" {
		fmt.Fprintf(&sb, "Overall goal: %s\n\n", c.goal)
	}
	sb.WriteString("You manage a crew of coworkers. Complete the tasks below by delegating each one " +
		"with the delegate_work tool, passing the task id as the task argument. Delegate one task at a time " +
		"and wait for its result. Use ask_question when you only need information.\n\nTasks:\n")

	for _, t := range c.tasks {
		desc, err := t.Render(inputs, r.bb)
		if err != nil {
			desc = t.Description
		}
		fmt.Fprintf(&sb, "- id: %s\n  description: %s\n", t.ID, indent(desc))
		if t.ExpectedOutput != "" {
			fmt.Fprintf(&sb, "  expected output: %s\n", indent(t.ExpectedOutput))
		}
		if t.Agent != nil {
			fmt.Fprintf(&sb, "  suggested coworker: %s\n", t.Agent.Role())
		}
		if len(t.Context) > 0 {
			fmt.Fprintf(&sb, "  depends on: %s\n", strings.Join(t.Context, ", "))
		}
	}

	roles := make([]string, len(c.agents))
	for i, a := range c.agents {
		roles[i] = a.Role()
	}
	fmt.Fprintf(&sb, "\nCoworkers: %s\n\n", strings.Join(roles, ", "))
	sb.WriteString("When every task is complete, reply with a final summary of the results without calling any tools.")
	return sb.String()
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}

// hook 拦截经理对待办任务的 delegate_work；其余委派按临时委派处理
func (h *hierarchy) hook(ctx context.Context, req agent.DelegationRequest) (string, bool, error) {
	r := h.run
	if req.Kind != agent.DelegateWork || req.From != r.crew.manager {
		return "", false, nil
	}
	t := r.task(strings.TrimSpace(req.Task))
	if t == nil {
		return "", false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if out, ok := r.bb.Get(t.ID); ok {
		return fmt.Sprintf("Task %s is already complete. Its output:\n%s", t.ID, out.Text()), true, nil
	}
	var missing []string
	for _, dep := range t.Context {
		if !r.bb.Has(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return "", true, tools.NewToolError(tools.KindBadArguments, agent.DelegateWorkTool,
			fmt.Sprintf("task %s depends on %s; delegate those first", t.ID, strings.Join(missing, ", ")), nil)
	}

	env := Env{Engine: r.crew.ec, Agent: req.Coworker, Extra: r.delegationTools}
	if strings.TrimSpace(req.Context) != "" {
		env.Notes = []agent.ContextBlock{{Source: req.From.Role(), Text: req.Context}}
	}

	out, err := t.Run(ctx, env, h.inputs, r.bb)
	if err != nil {
		if ctx.Err() == nil {
			// 任务重试耗尽：整个 crew 失败
			h.fatal = &CrewFailure{TaskID: t.ID, Cause: err, Partial: r.bb.Outputs()}
			h.cancel()
		}
		return "", true, err
	}
	if err := r.bb.Put(out); err != nil {
		return "", true, err
	}
	h.usage = h.usage.Add(out.Usage)

	text := out.Text()
	if len(r.pending()) == 0 {
		text += "\n\n" + allDoneNote
	}
	return text, true, nil
}

func (h *hierarchy) failure() *CrewFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatal
}

func (h *hierarchy) totalUsage() llm.ChatUsage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usage
}
