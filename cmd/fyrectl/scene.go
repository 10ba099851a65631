package main

import (
	"errors"
	"fmt"
	"fyre-go/fyre"
	"math"
	"os"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"
)

// defaultScene is the classic de Jong demo image with a drifting initial
// condition.
const defaultScene = `
params:
  size: 400x300
  exposure: 0.030000
  zoom: 0.8
  gamma: 1.010000
  a: 4.394958
  b: 1.028872
  c: 1.698752
  d: 3.954149
  xoffset: 0.308333
  yoffset: 0.058333
  emphasize_transient: 1
  transient_iterations: 3
  initial_conditions: circular_uniform
  initial_xscale: 0.824000
  initial_yscale: 0.018000
animate:
  initial_xoffset: t * 1.5
  initial_yoffset: sin(t) * 0.1
`

// sceneFile keeps both sections as nodes so that mapping order, which is
// the order parameters are sent in, survives decoding.
type sceneFile struct {
	Params  yaml.Node `yaml:"params"`
	Animate yaml.Node `yaml:"animate"`
}

type animation struct {
	name   string
	source string
	expr   *govaluate.EvaluableExpression
}

type scene struct {
	params   fyre.Params
	animated []animation
}

var expressionFunctions = map[string]govaluate.ExpressionFunction{
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"abs":  unary(math.Abs),
	"sqrt": unary(math.Sqrt),
	"exp":  unary(math.Exp),
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", args[0])
		}
		return fn(v), nil
	}
}

func loadScene(path string) (*scene, error) {
	if path == "" {
		return parseScene([]byte(defaultScene))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	sc, err := parseScene(data)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	return sc, nil
}

func parseScene(data []byte) (*scene, error) {
	var raw sceneFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	sc := &scene{}
	err := eachScalar(&raw.Params, "params", func(name, value string) error {
		sc.params = sc.params.Set(name, value)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachScalar(&raw.Animate, "animate", func(name, source string) error {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(source, expressionFunctions)
		if err != nil {
			return fmt.Errorf("animate %s: %w", name, err)
		}
		sc.animated = append(sc.animated, animation{name: name, source: source, expr: expr})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func eachScalar(node *yaml.Node, section string, fn func(key, value string) error) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: line %d: expected a mapping", section, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s.%s: line %d: expected a single value", section, key.Value, value.Line)
		}
		if err := fn(key.Value, value.Value); err != nil {
			return err
		}
	}
	return nil
}

// frame evaluates every animated parameter at time t.
func (sc *scene) frame(t float64) (fyre.Params, error) {
	params := make(fyre.Params, 0, len(sc.animated))
	for _, a := range sc.animated {
		result, err := a.expr.Evaluate(map[string]any{"t": t})
		if err != nil {
			return nil, fmt.Errorf("animate %s (%s): %w", a.name, a.source, err)
		}
		v, ok := result.(float64)
		if !ok {
			return nil, fmt.Errorf("animate %s (%s): result %v is not a number", a.name, a.source, result)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("animate " + a.name + ": result is not finite")
		}
		params = params.Set(a.name, v)
	}
	return params, nil
}
