// Package evaluation превращает отчёт worker'а в финальный статус execution.
//
// Порядок оценки:
//  1. транспортная ошибка → FAILED
//  2. HTTP-код по таблице task (первое совпадение), затем по системным
//     умолчаниям; код вне обоих шаблонов → FAILED
//  3. sanity checks по телу ответа; провал проверки с severity ERROR → FAILED
//  4. FAILED заменяется на failureStatusOverride узла, если он задан
//
// Пакет не обращается к БД: системные умолчания приходят снимком
// domain.StatusDefaults.
package evaluation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shaiso/Relay/internal/domain"
)

// Input — всё, что нужно для оценки одного отчёта.
type Input struct {
	// Task — определение task (для системной task таблиц нет).
	Task *domain.Task

	// Report — отчёт worker'а.
	Report domain.Report

	// Defaults — снимок системных шаблонов кодов.
	Defaults domain.StatusDefaults

	// Override — failureStatusOverride узла (пусто для standalone).
	Override domain.Status
}

// Outcome — результат оценки.
type Outcome struct {
	Status domain.Status
	Reason string
	Checks []domain.CheckOutcome
}

// Evaluate вычисляет финальный статус по отчёту worker'а.
func Evaluate(in Input) Outcome {
	out := evaluate(in)

	if out.Status == domain.StatusFailed && in.Override.IsSoftFailure() {
		out.Status = in.Override
	}
	return out
}

func evaluate(in Input) Outcome {
	if in.Task == nil {
		in.Task = &domain.Task{}
	}
	if in.Report.Error != "" {
		return Outcome{Status: domain.StatusFailed, Reason: in.Report.Error}
	}

	result := in.Report.Result
	if !result.HasResponse() {
		if in.Task.IsSystem() {
			return Outcome{Status: domain.StatusSuccess}
		}
		return Outcome{Status: domain.StatusFailed, Reason: "worker reported no HTTP status code"}
	}

	out := statusFromCode(in.Task, in.Defaults, result.StatusCode)

	var failed []string
	for _, check := range in.Task.SanityChecks {
		outcome := runCheck(check, result.Body)
		out.Checks = append(out.Checks, outcome)
		if !outcome.Passed && !outcome.Error && severity(check) == domain.SeverityError {
			failed = append(failed, outcome.Message)
		}
	}
	if len(failed) > 0 {
		out.Status = domain.StatusFailed
		out.Reason = joinReasons(out.Reason, strings.Join(failed, "; "))
	}
	return out
}

// statusFromCode применяет таблицу task, затем системные умолчания.
func statusFromCode(task *domain.Task, defaults domain.StatusDefaults, code int) Outcome {
	for _, m := range task.StatusMappings {
		if !m.Status.IsTerminal() {
			continue
		}
		ok, err := MatchCode(m.Pattern, code)
		if err != nil || !ok {
			continue
		}
		out := Outcome{Status: m.Status}
		if m.Status != domain.StatusSuccess {
			out.Reason = fmt.Sprintf("HTTP %d mapped to %s by pattern %q", code, m.Status, m.Pattern)
		}
		return out
	}

	builtin := domain.DefaultStatusDefaults()
	success := patternOr(defaults.SuccessCodes, builtin.SuccessCodes)
	failure := patternOr(defaults.FailureCodes, builtin.FailureCodes)

	switch {
	case success.Match(code):
		return Outcome{Status: domain.StatusSuccess}
	case failure.Match(code):
		return Outcome{Status: domain.StatusFailed, Reason: fmt.Sprintf("HTTP %d is a failure code", code)}
	default:
		return Outcome{Status: domain.StatusFailed, Reason: fmt.Sprintf("HTTP %d is not a success code", code)}
	}
}

// patternOr разбирает шаблон, при ошибке откатывается на fallback.
func patternOr(pattern, fallback string) CodePattern {
	if p, err := ParsePattern(pattern); err == nil {
		return p
	}
	p, _ := ParsePattern(fallback)
	return p
}

// runCheck выполняет одну sanity check. Невалидный regex не прерывает
// оценку, а фиксируется как ошибка проверки.
func runCheck(check domain.SanityCheck, body string) domain.CheckOutcome {
	outcome := domain.CheckOutcome{Name: check.Name, Severity: severity(check)}

	re, err := regexp.Compile(check.Pattern)
	if err != nil {
		outcome.Error = true
		outcome.Message = fmt.Sprintf("check %q: invalid pattern: %v", check.Name, err)
		return outcome
	}

	found := re.MatchString(body)
	switch check.Mode {
	case domain.CheckMustContain, "":
		outcome.Passed = found
		if !found {
			outcome.Message = fmt.Sprintf("check %q: body does not contain /%s/", check.Name, check.Pattern)
		}
	case domain.CheckMustNotContain:
		outcome.Passed = !found
		if found {
			outcome.Message = fmt.Sprintf("check %q: body contains /%s/", check.Name, check.Pattern)
		}
	default:
		outcome.Error = true
		outcome.Message = fmt.Sprintf("check %q: unknown mode %s", check.Name, check.Mode)
	}
	return outcome
}

func severity(check domain.SanityCheck) domain.Severity {
	if check.Severity == "" {
		return domain.SeverityError
	}
	return check.Severity
}

func joinReasons(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
