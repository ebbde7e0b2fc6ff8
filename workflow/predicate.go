package workflow

import (
	"strings"
)

// FailedSuffix forms the failure label of a step: "<step>.failed".
const FailedSuffix = ".failed"

// FailureLabel returns the label fired when step fails and a listener
// references it.
func FailureLabel(step string) string { return step + FailedSuffix }

type predOp int

const (
	opNone predOp = iota
	opStep
	opLabel
	opAnd
	opOr
)

// Predicate decides when a listener or router runs. It is evaluated over
// the set of completed steps and the labels fired in the current round.
type Predicate struct {
	op   predOp
	name string
	args []Predicate
}

// On is satisfied once step has completed.
func On(step string) Predicate { return Predicate{op: opStep, name: step} }

// OnLabel is satisfied in the round a router returns label, or when the
// failure label "<step>.failed" fires.
func OnLabel(label string) Predicate { return Predicate{op: opLabel, name: label} }

// And is satisfied when every predicate is.
func And(ps ...Predicate) Predicate { return Predicate{op: opAnd, args: ps} }

// Or is satisfied when any predicate is.
func Or(ps ...Predicate) Predicate { return Predicate{op: opOr, args: ps} }

// IsZero reports whether p was never constructed.
func (p Predicate) IsZero() bool { return p.op == opNone }

func (p Predicate) eval(done, fired map[string]bool) bool {
	switch p.op {
	case opStep:
		return done[p.name]
	case opLabel:
		return fired[p.name]
	case opAnd:
		for _, a := range p.args {
			if !a.eval(done, fired) {
				return false
			}
		}
		return len(p.args) > 0
	case opOr:
		for _, a := range p.args {
			if a.eval(done, fired) {
				return true
			}
		}
	}
	return false
}

// visit 深度优先遍历叶子节点
func (p Predicate) visit(fn func(op predOp, name string)) {
	switch p.op {
	case opStep, opLabel:
		fn(p.op, p.name)
	case opAnd, opOr:
		for _, a := range p.args {
			a.visit(fn)
		}
	}
}

// steps 返回引用的步骤名
func (p Predicate) steps() []string {
	var out []string
	p.visit(func(op predOp, name string) {
		if op == opStep {
			out = append(out, name)
		}
	})
	return out
}

// labels 返回引用的标签
func (p Predicate) labels() []string {
	var out []string
	p.visit(func(op predOp, name string) {
		if op == opLabel {
			out = append(out, name)
		}
	})
	return out
}

// usesAny 是否引用了 fired 中的某个标签
func (p Predicate) usesAny(fired map[string]bool) bool {
	for _, l := range p.labels() {
		if fired[l] {
			return true
		}
	}
	return false
}

// valid 组合谓词不能为空
func (p Predicate) valid() bool {
	switch p.op {
	case opStep, opLabel:
		return strings.TrimSpace(p.name) != ""
	case opAnd, opOr:
		if len(p.args) == 0 {
			return false
		}
		for _, a := range p.args {
			if !a.valid() {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the predicate, e.g. and(write, label:retry).
func (p Predicate) String() string {
	switch p.op {
	case opStep:
		return p.name
	case opLabel:
		return "label:" + p.name
	case opAnd, opOr:
		parts := make([]string, len(p.args))
		for i, a := range p.args {
			parts[i] = a.String()
		}
		name := "and"
		if p.op == opOr {
			name = "or"
		}
		return name + "(" + strings.Join(parts, ", ") + ")"
	}
	return "<none>"
}
