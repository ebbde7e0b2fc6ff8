package crews

import (
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/types"
)

// PreviousPlaceholder resolves to the most recent blackboard output.
const PreviousPlaceholder = "previous"

var errTemplateCode = types.NewError(types.ErrTemplate, "template error")

// TemplateError reports a placeholder that cannot be rendered.
type TemplateError struct {
	Task        string
	Placeholder string
	Reason      string
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	if e.Placeholder == "" {
		return fmt.Sprintf("template: task %q: %s", e.Task, e.Reason)
	}
	return fmt.Sprintf("template: task %q: placeholder {%s}: %s", e.Task, e.Placeholder, e.Reason)
}

// Unwrap exposes the TEMPLATE engine code.
func (e *TemplateError) Unwrap() error { return errTemplateCode }

// segment 是模板的一段：字面文本或占位符
type segment struct {
	text        string
	placeholder bool
}

// parseTemplate 解析 {name} 占位符；{{ 与 }} 是字面花括号
func parseTemplate(task, tmpl string) ([]segment, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] != '}' {
				return nil, &TemplateError{Task: task, Reason: fmt.Sprintf("unclosed '{' at offset %d", i)}
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			if name == "" {
				return nil, &TemplateError{Task: task, Reason: fmt.Sprintf("empty placeholder at offset %d", i)}
			}
			flush()
			segs = append(segs, segment{text: name, placeholder: true})
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, &TemplateError{Task: task, Reason: fmt.Sprintf("unmatched '}' at offset %d; write '}}' for a literal brace", i)}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs, nil
}

// Placeholders returns the distinct placeholder names of tmpl in order of
// first use.
func Placeholders(tmpl string) ([]string, error) {
	segs, err := parseTemplate("", tmpl)
	if err != nil {
		return nil, err
	}
	var (
		names []string
		seen  = map[string]bool{}
	)
	for _, s := range segs {
		if s.placeholder && !seen[s.text] {
			seen[s.text] = true
			names = append(names, s.text)
		}
	}
	return names, nil
}

// checkTemplate 静态校验：每个占位符都必须已声明
func checkTemplate(task, tmpl string, declared []string) error {
	segs, err := parseTemplate(task, tmpl)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(declared))
	for _, d := range declared {
		allowed[strings.TrimSpace(d)] = true
	}
	for _, s := range segs {
		if s.placeholder && !allowed[s.text] {
			return &TemplateError{Task: task, Placeholder: s.text, Reason: "not declared"}
		}
	}
	return nil
}

// render 渲染模板：先查输入，再查黑板任务 id，{previous} 取最近输出
func render(task, tmpl string, declared []string, inputs map[string]any, bb *Blackboard) (string, error) {
	if err := checkTemplate(task, tmpl, declared); err != nil {
		return "", err
	}
	segs, _ := parseTemplate(task, tmpl)

	var sb strings.Builder
	for _, s := range segs {
		if !s.placeholder {
			sb.WriteString(s.text)
			continue
		}
		v, ok := resolve(s.text, inputs, bb)
		if !ok {
			return "", &TemplateError{Task: task, Placeholder: s.text, Reason: "no input or task output with this name"}
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

func resolve(name string, inputs map[string]any, bb *Blackboard) (string, bool) {
	if v, ok := inputs[name]; ok {
		return formatValue(v), true
	}
	if bb == nil {
		return "", false
	}
	if out, ok := bb.Get(name); ok {
		return out.Text(), true
	}
	if name == PreviousPlaceholder {
		if out, ok := bb.Previous(); ok {
			return out.Text(), true
		}
	}
	return "", false
}
