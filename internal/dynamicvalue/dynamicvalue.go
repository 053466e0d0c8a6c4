// Package dynamicvalue generates values for workflow-scoped variables
// declared in a workflow's init stage.
package dynamicvalue

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/flowsmith/flowctl/internal/clock"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

const (
	defaultNumberMin  int64 = 1
	defaultNumberMax  int64 = 100
	defaultTextLength       = 16
	textAlphabet            = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	layoutDateTime = time.RFC3339
	layoutDate     = "2006-01-02"
	layoutTime     = "15:04:05"
)

// Generate produces the stringified value for one DynamicVariableSpec.
func Generate(spec workflowdoc.DynamicVariableSpec, clk clock.Clock) (string, error) {
	switch strings.ToLower(spec.Type) {
	case "fixed":
		return spec.Value, nil
	case "number":
		return generateNumber(spec)
	case "text":
		return generateText(spec)
	case "guid":
		return uuid.NewString(), nil
	case "ulid":
		return ulid.Make().String(), nil
	case "datetime":
		return generateTemporal(spec, clk, layoutDateTime)
	case "date":
		return generateTemporal(spec, clk, layoutDate)
	case "time":
		return generateTemporal(spec, clk, layoutTime)
	case "sequence":
		return generateSequence(spec)
	default:
		return "", flowerrors.Wrap(fmt.Errorf("unknown dynamic value type %q", spec.Type), "invalid init-stage variable")
	}
}

func generateNumber(spec workflowdoc.DynamicVariableSpec) (string, error) {
	min, max := defaultNumberMin, defaultNumberMax
	if spec.Min != nil {
		min = *spec.Min
	}
	if spec.Max != nil {
		max = *spec.Max
	}
	if min > max {
		min, max = max, min
	}

	// span is computed in big.Int so max == math.MaxInt64 cannot overflow.
	span := new(big.Int).Sub(big.NewInt(max), big.NewInt(min))
	span.Add(span, big.NewInt(1))

	var value int64
	if span.Sign() <= 0 {
		value = min
	} else {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return "", err
		}
		value = min + n.Int64()
	}

	s := fmt.Sprintf("%d", value)
	if spec.Pad > 0 {
		s = padNumeric(value, spec.Pad)
	}
	return s, nil
}

func padNumeric(value int64, width int) string {
	neg := value < 0
	if neg {
		value = -value
	}
	s := fmt.Sprintf("%0*d", width, value)
	if neg {
		return "-" + s
	}
	return s
}

func generateText(spec workflowdoc.DynamicVariableSpec) (string, error) {
	length := spec.Length
	if length <= 0 {
		length = defaultTextLength
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(textAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = textAlphabet[n.Int64()]
	}
	return string(out), nil
}

func generateTemporal(spec workflowdoc.DynamicVariableSpec, clk clock.Clock, layout string) (string, error) {
	var from, to time.Time
	var err error

	haveFrom := spec.From != ""
	haveTo := spec.To != ""

	if haveFrom {
		from, err = time.Parse(layout, spec.From)
		if err != nil {
			return "", fmt.Errorf("invalid 'from' value %q: %w", spec.From, err)
		}
	}
	if haveTo {
		to, err = time.Parse(layout, spec.To)
		if err != nil {
			return "", fmt.Errorf("invalid 'to' value %q: %w", spec.To, err)
		}
	}

	switch {
	case haveFrom && haveTo:
		// use as-is
	case haveFrom && !haveTo:
		to = from.AddDate(0, 1, 0)
	case !haveFrom && haveTo:
		from = to.AddDate(0, -1, 0)
	default:
		now := clk.UtcNow()
		from = now.AddDate(0, -1, 0)
		to = now.AddDate(0, 1, 0)
	}

	if from.After(to) {
		from, to = to, from
	}

	span := to.Sub(from)
	if span <= 0 {
		return from.Format(layout), nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return "", err
	}
	result := from.Add(time.Duration(n.Int64()))
	return result.Format(layout), nil
}

func generateSequence(spec workflowdoc.DynamicVariableSpec) (string, error) {
	start := int64(0)
	if spec.Start != nil {
		start = *spec.Start
	}
	step := int64(1)
	if spec.Step != nil {
		step = *spec.Step
	}
	index := spec.Index
	if index == 0 {
		index = 1
	}
	value := start + (index-1)*step
	if spec.Pad > 0 {
		return padNumeric(value, spec.Pad), nil
	}
	return fmt.Sprintf("%d", value), nil
}
