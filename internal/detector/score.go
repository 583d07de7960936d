// internal/detector/score.go
package detector

import (
	"fmt"
	"math"

	"github.com/SyedDaiam9101/firewatch/internal/inference"
)

// Threshold is the confidence above which fire is reported.
const Threshold = 0.5

// Class labels reported by the ml API variant.
const (
	LabelFire    = "Fire"
	LabelNeutral = "Neutral"
)

// Activation is applied to the raw model outputs before reading the score.
type Activation string

const (
	ActivationNone    Activation = "none"
	ActivationSigmoid Activation = "sigmoid"
	ActivationSoftmax Activation = "softmax"
)

// ParseActivation returns the Activation named s.
func ParseActivation(s string) (Activation, error) {
	switch Activation(s) {
	case ActivationNone, ActivationSigmoid, ActivationSoftmax:
		return Activation(s), nil
	case "":
		return ActivationNone, nil
	}
	return "", fmt.Errorf("unknown activation %q", s)
}

// Score converts raw model outputs into a fire confidence. A single output is
// a sigmoid head and is used directly; with several outputs the one at
// fireIndex is the fire class. Softmax only applies across two or more scores.
func Score(outputs []float32, fireIndex int, act Activation) (float64, error) {
	if len(outputs) == 0 {
		return 0, fmt.Errorf("%w: model returned no scores", inference.ErrInference)
	}

	values := make([]float64, len(outputs))
	for i, v := range outputs {
		values[i] = float64(v)
	}

	switch act {
	case ActivationSigmoid:
		for i, v := range values {
			values[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationSoftmax:
		if len(values) > 1 {
			softmax(values)
		}
	}

	var conf float64
	if len(values) == 1 {
		conf = values[0]
	} else {
		if fireIndex < 0 || fireIndex >= len(values) {
			return 0, fmt.Errorf("%w: fire index %d out of range for %d scores",
				inference.ErrInference, fireIndex, len(values))
		}
		conf = values[fireIndex]
	}

	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return 0, fmt.Errorf("%w: confidence %v outside [0,1]; check the activation setting",
			inference.ErrInference, conf)
	}
	return conf, nil
}

// checkFireIndex rejects a fire index the model's output cannot satisfy.
// Single-score models and models with a dynamic output width pass.
func checkFireIndex(scores, fireIndex int) error {
	if scores > 1 && (fireIndex < 0 || fireIndex >= scores) {
		return fmt.Errorf("fire_index %d out of range for a model with %d scores", fireIndex, scores)
	}
	return nil
}

// Decide reports whether conf indicates fire.
func Decide(conf float64) bool {
	return conf > Threshold
}

// Label returns the class name for a decision.
func Label(fire bool) string {
	if fire {
		return LabelFire
	}
	return LabelNeutral
}

func softmax(v []float64) {
	hi := v[0]
	for _, x := range v[1:] {
		if x > hi {
			hi = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - hi)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
