package application

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// AdmissionRules 编译并执行商品上配置的 CEL 准入规则，例如:
//
//	quantity <= 2 && !user_id.startsWith("bot-")
//
// 编译结果按表达式缓存，热路径上只做求值。
type AdmissionRules struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewAdmissionRules() (*AdmissionRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("quantity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &AdmissionRules{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile 校验并缓存表达式；空表达式表示不设规则
func (r *AdmissionRules) Compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}
	r.mu.RLock()
	prg, ok := r.programs[expr]
	r.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := r.env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile admission rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build admission rule %q: %w", expr, err)
	}

	r.mu.Lock()
	r.programs[expr] = prg
	r.mu.Unlock()
	return prg, nil
}

// Allow 对一次请求求值；没有规则时总是放行
func (r *AdmissionRules) Allow(expr, userID, productID string, quantity int64) (bool, error) {
	prg, err := r.Compile(expr)
	if err != nil || prg == nil {
		return err == nil, err
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"user_id":    userID,
		"product_id": productID,
		"quantity":   quantity,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate admission rule: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("admission rule returned %T", out.Value())
	}
	return allowed, nil
}
