package worker

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/shaiso/Relay/internal/domain"
)

// Extract извлекает переменные из ответа по task.Extract.
//
// Пути:
//   - status_code — HTTP-код
//   - header.<Name> — заголовок ответа
//   - body — тело целиком
//   - body.<a>.<0>.<b> — поле JSON-тела (неотрицательные числа — индексы массивов)
//   - $... — JSONPath по JSON-телу; несколько совпадений дают массив
//
// Ненайденные и некорректные пути пропускаются. Порядок — по имени переменной.
func Extract(paths map[string]string, result *domain.ExecutionResult) []domain.Variable {
	if len(paths) == 0 || result == nil {
		return nil
	}

	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		parsed any
		tried  bool
		valid  bool
	)
	body := func() (any, bool) {
		if !tried {
			tried = true
			valid = json.Unmarshal([]byte(result.Body), &parsed) == nil
		}
		return parsed, valid
	}

	var vars []domain.Variable
	for _, name := range names {
		path := strings.TrimSpace(paths[name])

		var (
			value any
			found bool
		)
		switch {
		case path == "status_code":
			value, found = result.StatusCode, true
		case path == "body":
			value, found = result.Body, true
		case strings.HasPrefix(path, "header."):
			value, found = lookupHeader(result.Headers, strings.TrimPrefix(path, "header."))
		case strings.HasPrefix(path, "body."), strings.HasPrefix(path, "$"):
			expr, ok := compilePath(path)
			if !ok {
				continue
			}
			if doc, ok := body(); ok {
				value, found = lookupJSON(doc, expr)
			}
		}
		if found {
			vars = append(vars, domain.Variable{Name: name, Value: value})
		}
	}
	return vars
}

// compilePath приводит путь к jp.Expr: "$..." разбирается как JSONPath,
// "body.a.0.b" строится по сегментам.
func compilePath(path string) (jp.Expr, bool) {
	if strings.HasPrefix(path, "$") {
		expr, err := jp.ParseString(path)
		if err != nil {
			return nil, false
		}
		return expr, true
	}

	expr := jp.R()
	for _, seg := range strings.Split(strings.TrimPrefix(path, "body."), ".") {
		if seg == "" {
			return nil, false
		}
		if i, err := strconv.Atoi(seg); err == nil {
			if i < 0 {
				return nil, false
			}
			expr = expr.N(i)
			continue
		}
		expr = expr.C(seg)
	}
	return expr, true
}

func lookupJSON(doc any, expr jp.Expr) (any, bool) {
	matches := expr.Get(doc)
	switch len(matches) {
	case 0:
		return nil, false
	case 1:
		return matches[0], true
	default:
		return matches, true
	}
}

func lookupHeader(headers map[string]string, name string) (any, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
