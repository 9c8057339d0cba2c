package table

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	// DefaultSortLimit applies when a SORT_BY directive has no TOP count.
	DefaultSortLimit = 10
	// FallbackRows is how many leading rows a failed plan degrades to.
	FallbackRows = 10
)

// ErrFilterApplication marks a plan that could not be applied as written.
// Apply still returns a usable table alongside it.
var ErrFilterApplication = errors.New("filter could not be applied")

type PlanKind int

const (
	PlanNone PlanKind = iota
	PlanQuery
	PlanSort
	PlanFallback
)

func (k PlanKind) String() string {
	switch k {
	case PlanQuery:
		return "query"
	case PlanSort:
		return "sort"
	case PlanFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Plan is a parsed filter directive. Build it with ParsePlan.
type Plan struct {
	Kind PlanKind
	// Directive is the cleaned model text the plan came from.
	Directive string
	// Expression is the row predicate for PlanQuery.
	Expression string
	// Column and Limit describe a PlanSort.
	Column string
	Limit  int
	// Reason says why the plan is PlanFallback, or why a sort was skipped.
	Reason string

	program *vm.Program
}

// The column may contain spaces; it is normalized like a CSV header.
var sortPattern = regexp.MustCompile(`(?i)^SORT_BY:\s*(.+?)(?:\s+TOP\s+(\S+))?\s*$`)

// CleanDirective strips code fences, backticks and surrounding whitespace
// from a model reply.
func CleanDirective(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line, including any language tag.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(s)
}

// ParsePlan turns a cleaned directive into a Plan checked against t's columns.
//
//	""  or "none"                 -> PlanNone
//	"SORT_BY: <col> [TOP <n>]"    -> PlanSort (unknown col -> PlanNone)
//	anything else                 -> PlanQuery when it compiles as a boolean
//	                                 predicate over the columns, else PlanFallback
func ParsePlan(directive string, t *Table) Plan {
	p := Plan{Directive: directive}

	if directive == "" || strings.EqualFold(directive, "none") {
		p.Kind = PlanNone
		return p
	}

	if len(directive) >= len("SORT_BY:") && strings.EqualFold(directive[:len("SORT_BY:")], "SORT_BY:") {
		return parseSort(p, t)
	}

	program, err := expr.Compile(directive, expr.Env(t.zeroEnv()), expr.AsBool())
	if err != nil {
		p.Kind = PlanFallback
		p.Reason = fmt.Sprintf("invalid predicate: %v", err)
		return p
	}
	p.Kind = PlanQuery
	p.Expression = directive
	p.program = program
	return p
}

func parseSort(p Plan, t *Table) Plan {
	m := sortPattern.FindStringSubmatch(p.Directive)
	if m == nil {
		p.Kind = PlanFallback
		p.Reason = "malformed SORT_BY directive"
		return p
	}

	limit := DefaultSortLimit
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			p.Kind = PlanFallback
			p.Reason = fmt.Sprintf("invalid TOP count %q", m[2])
			return p
		}
		limit = n
	}

	column := NormalizeColumn(m[1])
	if !t.HasColumn(column) {
		p.Kind = PlanNone
		p.Reason = fmt.Sprintf("unknown sort column %q", m[1])
		return p
	}
	p.Kind = PlanSort
	p.Column = column
	p.Limit = limit
	return p
}

// Apply runs the plan against t and always returns a usable table. When the
// plan falls back, the result is the first FallbackRows rows of t and the
// error wraps ErrFilterApplication.
func (p Plan) Apply(t *Table) (*Table, error) {
	switch p.Kind {
	case PlanSort:
		return t.SortDesc(p.Column).Head(p.Limit), nil
	case PlanQuery:
		out, err := t.Filter(func(row map[string]any) (bool, error) {
			v, err := expr.Run(p.program, row)
			if err != nil {
				return false, err
			}
			ok, _ := v.(bool)
			return ok, nil
		})
		if err != nil {
			return t.Head(FallbackRows), fmt.Errorf("%w: %v", ErrFilterApplication, err)
		}
		return out, nil
	case PlanFallback:
		return t.Head(FallbackRows), fmt.Errorf("%w: %s", ErrFilterApplication, p.Reason)
	default:
		return t, nil
	}
}
