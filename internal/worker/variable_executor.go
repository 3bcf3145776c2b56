package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
)

// VariableExecutor выполняет узел VARIABLE_UTILITY.
//
// Params узла — присваивания "имя → значение". Строковые значения
// рендерятся шаблонами, результат возвращается как переменные run.
// HTTP-запрос не выполняется.
type VariableExecutor struct{}

// Execute рендерит присваивания.
func (e *VariableExecutor) Execute(_ context.Context, a *dispatch.Assignment) (*Output, error) {
	tctx := engine.NewContext(a.GlobalVars, a.WorkflowVars, a.Macros)

	names := make([]string, 0, len(a.Execution.Params))
	for name := range a.Execution.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]domain.Variable, 0, len(names))
	input := make(map[string]any, len(names))
	for _, name := range names {
		value, err := engine.RenderValue(a.Execution.Params[name], tctx)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		// следующие присваивания видят предыдущие
		tctx.SetVar(name, value)
		vars = append(vars, domain.Variable{Name: name, Value: value})
		input[name] = value
	}

	return &Output{
		Result: &domain.ExecutionResult{Variables: vars},
		Input:  input,
	}, nil
}
