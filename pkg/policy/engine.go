// Package policy implements expr-based override rules evaluated by the
// request gate before the delegation engine. Operators use them to pin
// known-good subdomains to allow or known trackers to block without a
// lookup.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"zonegate/pkg/config"
	"zonegate/pkg/logging"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Action is the outcome a matched rule forces
type Action string

const (
	// ActionAllow forces an allow verdict
	ActionAllow Action = "allow"
	// ActionBlock forces a block verdict
	ActionBlock Action = "block"
)

// Context is the environment a rule expression is evaluated against
type Context map[string]any

// NewContext builds the evaluation environment for a request
func NewContext(host, root string) Context {
	return Context{
		"host":      host,
		"root":      root,
		"subdomain": host != root,
	}
}

// Rule is a compiled policy rule
type Rule struct {
	Name    string
	When    string
	Action  Action
	program *vm.Program
}

// Engine evaluates requests against an ordered rule list; the first
// matching rule wins.
type Engine struct {
	mu     sync.RWMutex
	rules  []*Rule
	logger *logging.Logger
}

// NewEngine creates a policy engine from configured rules
func NewEngine(cfgRules []config.PolicyRule, logger *logging.Logger) (*Engine, error) {
	e := &Engine{logger: logger}
	if err := e.Reload(cfgRules); err != nil {
		return nil, err
	}
	return e, nil
}

// compileRule compiles a config rule's expression
func compileRule(cfgRule config.PolicyRule) (*Rule, error) {
	program, err := expr.Compile(cfgRule.When,
		expr.Env(Context{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", cfgRule.Name, err)
	}

	return &Rule{
		Name:    cfgRule.Name,
		When:    cfgRule.When,
		Action:  Action(strings.ToLower(cfgRule.Action)),
		program: program,
	}, nil
}

// Reload replaces the rule set atomically. On compile failure the old
// rules stay in effect.
func (e *Engine) Reload(cfgRules []config.PolicyRule) error {
	compiled := make([]*Rule, 0, len(cfgRules))
	for _, cfgRule := range cfgRules {
		rule, err := compileRule(cfgRule)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	if len(compiled) > 0 {
		e.logger.Info("Policy rules loaded", "count", len(compiled))
	}
	return nil
}

// Evaluate runs the context against the rules and returns the first
// match. A rule whose expression errors is skipped, not treated as a
// match.
func (e *Engine) Evaluate(ctx Context) (bool, *Rule) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		out, err := vm.Run(rule.program, ctx)
		if err != nil {
			e.logger.Warn("Policy rule evaluation failed",
				"rule", rule.Name,
				"error", err)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true, rule
		}
	}

	return false, nil
}

// Len returns the number of loaded rules
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
