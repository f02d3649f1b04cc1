package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const decisionQuery = "data.sitekeeper.login_risk.decision"

// DefaultRegoPolicy reproduces ThresholdPolicy in Rego. Custom modules must keep the package
// name and expose a decision object with level, requires_verification and block.
const DefaultRegoPolicy = `package sitekeeper.login_risk

default level = "low"

level = "critical" if {
	input.score >= input.thresholds.critical
}

level = "high" if {
	input.score >= input.thresholds.high
	input.score < input.thresholds.critical
}

level = "medium" if {
	input.score >= input.thresholds.medium
	input.score < input.thresholds.high
}

default requires_verification = false

requires_verification if level == "high"

requires_verification if level == "critical"

default block = false

block if level == "critical"

decision := {
	"level": level,
	"requires_verification": requires_verification,
	"block": block,
}
`

// OPAEvaluator decides login risk with a Rego module. Evaluation failures fall back to thresholds.
type OPAEvaluator struct {
	query    rego.PreparedEvalQuery
	fallback *ThresholdPolicy
}

// NewOPAEvaluator compiles module (DefaultRegoPolicy when empty) and prepares the decision query.
func NewOPAEvaluator(ctx context.Context, module string, t Thresholds) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	q, err := prepare(ctx, module)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{query: q, fallback: NewThresholdPolicy(t)}, nil
}

// LoadPolicyFile reads a Rego module from path. An empty path yields DefaultRegoPolicy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultRegoPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read risk policy: %w", err)
	}
	return string(b), nil
}

func prepare(ctx context.Context, module string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"login_risk.rego": module})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile risk policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("prepare risk policy: %w", err)
	}
	return q, nil
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := prepare(ctx, DefaultRegoPolicy)
	if err != nil {
		return err
	}
	if _, err := evalDecision(ctx, q, RiskInput{Score: 0}, DefaultThresholds()); err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	return nil
}

// Decide evaluates the prepared module. It never returns an error: failures are logged and the
// threshold decision is used.
func (e *OPAEvaluator) Decide(ctx context.Context, in RiskInput) (RiskDecision, error) {
	d, err := evalDecision(ctx, e.query, in, e.fallback.Thresholds)
	if err != nil {
		log.Printf("policy: risk evaluation failed: %v, using thresholds", err)
		return e.fallback.decide(in.Score), nil
	}
	return d, nil
}

func evalDecision(ctx context.Context, q rego.PreparedEvalQuery, in RiskInput, t Thresholds) (RiskDecision, error) {
	factors := in.Factors
	if factors == nil {
		factors = []string{}
	}
	input := map[string]interface{}{
		"user_id": in.UserID,
		"score":   in.Score,
		"factors": factors,
		"thresholds": map[string]interface{}{
			"medium":   t.Medium,
			"high":     t.High,
			"critical": t.Critical,
		},
	}
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return RiskDecision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return RiskDecision{}, fmt.Errorf("policy query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return RiskDecision{}, fmt.Errorf("decision is %T, want object", rs[0].Expressions[0].Value)
	}
	levelStr, _ := obj["level"].(string)
	level := RiskLevel(levelStr)
	if !level.Valid() {
		return RiskDecision{}, fmt.Errorf("unknown risk level %q", levelStr)
	}
	verify, _ := obj["requires_verification"].(bool)
	block, _ := obj["block"].(bool)
	return RiskDecision{Level: level, RequiresVerification: verify, Block: block}, nil
}
