package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/Relay/internal/domain"
)

// Context — данные, доступные шаблону команды на стороне worker'а.
//
//   - {{ .Globals.api_host }}
//   - {{ .Vars.token }}
//   - {{ .Macros.response.last.body }}, {{ .Macros.response.login.status_code }}
type Context struct {
	// Globals — глобальные переменные.
	Globals map[string]string `json:"globals"`

	// Vars — переменные, накопленные в run (последнее значение имени побеждает).
	Vars map[string]any `json:"vars"`

	// Macros — HTTP-ответы предыдущих узлов: response.<node> и response.last.
	Macros map[string]any `json:"macros"`

	// Params — параметры самого узла.
	Params map[string]any `json:"params"`
}

// NewContext собирает контекст рендеринга из назначения worker'а.
func NewContext(globals map[string]string, vars []domain.Variable, macros map[string]any) *Context {
	ctx := &Context{
		Globals: globals,
		Vars:    make(map[string]any, len(vars)),
		Macros:  macros,
		Params:  make(map[string]any),
	}
	if ctx.Globals == nil {
		ctx.Globals = make(map[string]string)
	}
	if ctx.Macros == nil {
		ctx.Macros = make(map[string]any)
	}
	for _, v := range vars {
		ctx.Vars[v.Name] = v.Value
	}
	return ctx
}

// SetVar записывает переменную в контекст.
func (c *Context) SetVar(name string, value any) {
	c.Vars[name] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
// Строки без "{{" возвращаются без разбора.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderValue рендерит произвольное значение, рекурсивно обходя map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderCommand рендерит URL, заголовки и тело HTTP-команды.
func RenderCommand(cmd domain.HTTPCommand, ctx *Context) (domain.HTTPCommand, error) {
	out := cmd

	var err error
	if out.URL, err = Render(cmd.URL, ctx); err != nil {
		return out, fmt.Errorf("url: %w", err)
	}
	if out.Body, err = Render(cmd.Body, ctx); err != nil {
		return out, fmt.Errorf("body: %w", err)
	}

	if len(cmd.Headers) > 0 {
		out.Headers = make(map[string]string, len(cmd.Headers))
		for k, v := range cmd.Headers {
			rendered, err := Render(v, ctx)
			if err != nil {
				return out, fmt.Errorf("header %s: %w", k, err)
			}
			out.Headers[k] = rendered
		}
	}
	return out, nil
}
