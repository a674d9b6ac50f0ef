package audit

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// ComplianceRule is a named CEL predicate over a recommendation. The
// rule passes when the expression evaluates to true.
type ComplianceRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`

	program cel.Program
}

// Policy is one named gating configuration.
type Policy struct {
	Name            string           `yaml:"name"`
	MinScore        float64          `yaml:"min_score"`
	MinCoverage     float64          `yaml:"min_coverage"`
	RequireApproval bool             `yaml:"require_approval"`
	ComplianceRules []ComplianceRule `yaml:"compliance_rules,omitempty"`
}

// Registry holds gating policies. Defaults are registered at
// construction; additions publish before any check observes them.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	env      *cel.Env
}

// NewRegistry builds a registry seeded with the strict, standard and
// permissive defaults.
func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("scenario", cel.StringType),
		cel.Variable("rank", cel.IntType),
		cel.Variable("product_key", cel.StringType),
		cel.Variable("customer_code", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: build cel env: %w", err)
	}

	r := &Registry{policies: map[string]*Policy{}, env: env}
	defaults := []Policy{
		{Name: "strict", MinScore: 80, MinCoverage: 0.7, RequireApproval: true},
		{Name: "standard", MinScore: 60, MinCoverage: 0.5},
		{Name: "permissive", MinScore: 40, MinCoverage: 0.3},
	}
	for _, p := range defaults {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles a policy's compliance rules and publishes it.
func (r *Registry) Register(p Policy) error {
	for i := range p.ComplianceRules {
		rule := &p.ComplianceRules[i]
		ast, issues := r.env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("audit: compile rule %s: %w", rule.Name, issues.Err())
		}
		prg, err := r.env.Program(ast)
		if err != nil {
			return fmt.Errorf("audit: program rule %s: %w", rule.Name, err)
		}
		rule.program = prg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name] = &p
	return nil
}

// LoadFile registers policies from a YAML file, overriding same-named
// defaults.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("audit: read policy file: %w", err)
	}
	var doc struct {
		Policies []Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("audit: parse policy file: %w", err)
	}
	for _, p := range doc.Policies {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns a registered policy by name.
func (r *Registry) Policy(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Check gates one recommendation against a named policy. Policy
// violations come back as issues, never as errors.
func (r *Registry) Check(policyName string, item schema.RecoItem) (bool, []string, error) {
	p, ok := r.Policy(policyName)
	if !ok {
		return false, nil, fmt.Errorf("audit: unknown policy %q", policyName)
	}

	var issues []string
	if item.Score.FinalScore < p.MinScore {
		issues = append(issues, fmt.Sprintf("Score %g below minimum %g", item.Score.FinalScore, p.MinScore))
	}
	for _, rule := range p.ComplianceRules {
		out, _, err := rule.program.Eval(map[string]any{
			"score":         item.Score.FinalScore,
			"scenario":      string(item.Scenario),
			"rank":          item.Rank,
			"product_key":   item.ProductKey,
			"customer_code": item.CustomerCode,
		})
		if err != nil {
			issues = append(issues, rule.Name)
			continue
		}
		if passed, ok := out.Value().(bool); !ok || !passed {
			issues = append(issues, rule.Name)
		}
	}
	return len(issues) == 0, issues, nil
}

// BatchGateResult summarizes gating a whole slate.
type BatchGateResult struct {
	Policy   string              `json:"policy"`
	Total    int                 `json:"total"`
	Passed   int                 `json:"passed"`
	Failed   int                 `json:"failed"`
	PassRate float64             `json:"pass_rate"`
	Issues   map[string][]string `json:"issues,omitempty"` // audit key -> issues
}

// CheckBatch gates a list of recommendations and reports totals.
func (r *Registry) CheckBatch(policyName string, items []schema.RecoItem) (*BatchGateResult, error) {
	result := &BatchGateResult{Policy: policyName, Total: len(items), Issues: map[string][]string{}}
	for _, item := range items {
		passed, issues, err := r.Check(policyName, item)
		if err != nil {
			return nil, err
		}
		if passed {
			result.Passed++
		} else {
			result.Failed++
			key := fmt.Sprintf("%s/%s/%d", item.CustomerCode, item.ProductKey, item.Rank)
			result.Issues[key] = issues
		}
	}
	if result.Total > 0 {
		result.PassRate = float64(result.Passed) / float64(result.Total)
	}
	return result, nil
}
