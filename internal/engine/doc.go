// Package engine отвечает за структуру workflow.
//
// Включает:
//   - parser.go   — нормализация nodes/edges из JSON (массив, строка, map) и валидация
//   - dag.go      — строгий типизированный граф: стартовые узлы, предшественники, рёбра
//   - template.go — рендеринг Go templates для команд worker'а ({{ .Globals.x }})
//
// Оркестратор работает только с Graph: разные кодировки
// определения не выходят за пределы этого пакета.
package engine
