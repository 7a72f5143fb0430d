package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/text/unicode/norm"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
)

// functions available to patch expressions besides the expr builtins.
var functions = map[string]any{
	// zfill left-pads s with zeros to width n
	"zfill": func(s string, n int) string {
		if len(s) >= n {
			return s
		}
		return strings.Repeat("0", n-len(s)) + s
	},
	"nfc": func(s string) string { return norm.NFC.String(s) },
	"str": func(v any) string {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	},
}

type compiled struct {
	field   string
	program *vm.Program
}

// Expressions returns a RowFunc setting each field of set to the value of
// its expr expression, evaluated with the row's columns as variables.
func Expressions(set map[string]string) (RowFunc, error) {
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	programs := make([]compiled, 0, len(fields))
	for _, f := range fields {
		p, err := expr.Compile(set[f], expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile expression for %s: %w", f, err)
		}
		programs = append(programs, compiled{field: f, program: p})
	}

	return func(row database.Row) (database.Row, error) {
		env := make(map[string]any, len(row)+len(functions))
		for k, v := range row {
			env[k] = v
		}
		for k, fn := range functions {
			env[k] = fn
		}

		changes := make(database.Row, len(programs))
		for _, c := range programs {
			out, err := expr.Run(c.program, env)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", c.field, err)
			}
			changes[c.field] = out
		}
		return changes, nil
	}, nil
}

// Normalize returns a RowFunc rewriting field in Unicode NFC form.
func Normalize(field string) RowFunc {
	return func(row database.Row) (database.Row, error) {
		s, ok := row[field].(string)
		if !ok {
			return nil, nil
		}
		n := norm.NFC.String(s)
		if n == s {
			return nil, nil
		}
		return database.Row{field: n}, nil
	}
}

// FromConfig builds rules from configuration entries.
func FromConfig(entries []config.PatchRule) ([]Rule, error) {
	rules := make([]Rule, 0, len(entries))
	for i, e := range entries {
		where := database.Filter(e.Where)
		desc := fmt.Sprintf("configured rule %d", i+1)

		switch e.Op {
		case config.PatchDelete:
			rules = append(rules, Delete(desc, where))
		case config.PatchUpdate:
			if e.Field == "" {
				return nil, fmt.Errorf("rule %d: update needs a field", i+1)
			}
			rules = append(rules, Update(desc, e.Field, e.Value, where))
		case config.PatchApply:
			fn, err := Expressions(e.Set)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i+1, err)
			}
			rules = append(rules, Apply(desc, fn, where))
		case config.PatchNormalize:
			if e.Field == "" {
				return nil, fmt.Errorf("rule %d: normalize needs a field", i+1)
			}
			rules = append(rules, Apply(desc, Normalize(e.Field), where))
		default:
			return nil, fmt.Errorf("rule %d: unknown op %q", i+1, e.Op)
		}
	}
	return rules, nil
}
