// Package templating resolves "{{ token }}" placeholders against a
// TemplateContext snapshot. See the doc comment of resolveValue for the
// token grammar and the full list of roots.
package templating

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
)

var tokenPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// Resolve substitutes every "{{ token }}" occurrence in s, failing with
// TemplateResolutionFailed the first time a referenced datum is absent or
// the token grammar is malformed.
func Resolve(s string, tc execctx.TemplateContext) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		raw := tokenPattern.FindStringSubmatch(match)[1]
		content := strings.TrimSpace(raw)
		value, found, err := resolveValue(content, tc)
		if err != nil {
			firstErr = flowerrors.ErrTemplateResolutionFailed(content, err.Error())
			return match
		}
		if !found {
			firstErr = flowerrors.ErrTemplateResolutionFailed(content, "referenced value is absent")
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveToken resolves a single bare token's content (without the
// surrounding "{{ }}") leniently for the run-if evaluator: a missing datum
// or malformed lookup yields isNull=true instead of an error, matching
// "absent data yields null, not failure".
func ResolveToken(content string, tc execctx.TemplateContext) (value string, isNull bool) {
	v, found, err := resolveValue(strings.TrimSpace(content), tc)
	if err != nil || !found {
		return "", true
	}
	return v, false
}

// resolveValue parses and resolves one token's content per the grammar:
//
//	token := root (":" name)? ("." segment)*
//	root   := input | global | context | env | system | endpoint | workflow
//	        | stage | response | "stage:json(" inner ")"
//	inner  := stage-name "." "output" "." key
//
// ":" and "." are interchangeable separators except inside stage:json(...).
func resolveValue(content string, tc execctx.TemplateContext) (string, bool, error) {
	if strings.HasPrefix(content, "stage:json(") {
		return resolveStageJSON(content, tc)
	}

	normalized := strings.ReplaceAll(content, ":", ".")
	segments := splitNonEmpty(normalized, '.')
	if len(segments) == 0 {
		return "", false, fmt.Errorf("empty token")
	}

	root := segments[0]
	rest := segments[1:]

	switch root {
	case "input":
		return lookupString(tc.Inputs, rest)
	case "global":
		return lookupString(tc.Globals, rest)
	case "context":
		return lookupString(tc.Context, rest)
	case "env":
		return resolveEnv(rest, tc)
	case "system":
		return resolveSystem(rest, tc)
	case "endpoint":
		return resolveStageOutputMap(tc.EndpointOutputs, rest)
	case "workflow":
		return resolveStageOutputMap(tc.WorkflowOutputs, rest)
	case "stage":
		return resolveStageRoot(rest, tc)
	case "response":
		return resolveResponse(rest, tc)
	default:
		return "", false, fmt.Errorf("unknown template root %q", root)
	}
}

func splitNonEmpty(s string, sep byte) []string {
	parts := strings.Split(s, string(sep))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lookupString(m map[string]string, path []string) (string, bool, error) {
	if len(path) != 1 {
		return "", false, fmt.Errorf("expected a single name segment, got %d", len(path))
	}
	v, ok := m[path[0]]
	return v, ok, nil
}

func resolveEnv(path []string, tc execctx.TemplateContext) (string, bool, error) {
	if len(path) != 1 {
		return "", false, fmt.Errorf("expected env.<name>")
	}
	name := path[0]
	if v, ok := tc.EnvVariables[name]; ok {
		return v, true, nil
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, true, nil
	}
	return "", false, nil
}

func resolveSystem(path []string, tc execctx.TemplateContext) (string, bool, error) {
	if len(path) != 2 {
		return "", false, fmt.Errorf("expected system.<datetime|date|time>.<now|utcnow>")
	}
	if tc.Clock == nil {
		return "", false, fmt.Errorf("no clock bound to this template context")
	}
	var when string
	switch path[1] {
	case "now":
		switch path[0] {
		case "datetime":
			when = tc.Clock.Now().Format("2006-01-02T15:04:05-07:00")
		case "date":
			when = tc.Clock.Now().Format("2006-01-02")
		case "time":
			when = tc.Clock.Now().Format("15:04:05")
		default:
			return "", false, fmt.Errorf("unknown system unit %q", path[0])
		}
	case "utcnow":
		switch path[0] {
		case "datetime":
			when = tc.Clock.UtcNow().Format("2006-01-02T15:04:05Z")
		case "date":
			when = tc.Clock.UtcNow().Format("2006-01-02")
		case "time":
			when = tc.Clock.UtcNow().Format("15:04:05")
		default:
			return "", false, fmt.Errorf("unknown system unit %q", path[0])
		}
	default:
		return "", false, fmt.Errorf("unknown system instant %q", path[1])
	}
	return when, true, nil
}

func resolveStageOutputMap(m map[string]map[string]string, path []string) (string, bool, error) {
	if len(path) != 3 || path[1] != "output" {
		return "", false, fmt.Errorf("expected <stage>.output.<key>")
	}
	stageOut, ok := m[path[0]]
	if !ok {
		return "", false, nil
	}
	v, ok := stageOut[path[2]]
	return v, ok, nil
}

func resolveStageRoot(path []string, tc execctx.TemplateContext) (string, bool, error) {
	if len(path) < 2 {
		return "", false, fmt.Errorf("expected stage.<stage>.(output|workflow)...")
	}
	stageName := path[0]

	if path[1] == "workflow" {
		if len(path) < 4 {
			return "", false, fmt.Errorf("expected stage.<stage>.workflow.(output.<key>|result.<status|message>)")
		}
		switch path[2] {
		case "output":
			key := strings.Join(path[3:], ".")
			out, ok := tc.WorkflowOutputs[stageName]
			if !ok {
				return "", false, nil
			}
			v, ok := out[key]
			return v, ok, nil
		case "result":
			result, ok := tc.WorkflowResults[stageName]
			if !ok {
				return "", false, nil
			}
			switch path[3] {
			case "status":
				return string(result.Status), true, nil
			case "message":
				return result.Message, true, nil
			default:
				return "", false, fmt.Errorf("unknown workflow result field %q", path[3])
			}
		default:
			return "", false, fmt.Errorf("unknown stage.workflow field %q", path[2])
		}
	}

	if path[1] != "output" || len(path) != 3 {
		return "", false, fmt.Errorf("expected stage.<stage>.output.<key>")
	}
	key := path[2]

	// Ambiguous form: the stage named here may have been an Endpoint or a
	// nested Workflow stage. Try workflowResults (for status/message keys),
	// then workflowOutputs, then endpointOutputs, in that order.
	if result, ok := tc.WorkflowResults[stageName]; ok {
		switch key {
		case "status":
			return string(result.Status), true, nil
		case "message":
			return result.Message, true, nil
		}
	}
	if out, ok := tc.WorkflowOutputs[stageName]; ok {
		if v, ok := out[key]; ok {
			return v, true, nil
		}
	}
	if out, ok := tc.EndpointOutputs[stageName]; ok {
		if v, ok := out[key]; ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func resolveResponse(path []string, tc execctx.TemplateContext) (string, bool, error) {
	if tc.Response == nil {
		return "", false, fmt.Errorf("no response bound to this template context")
	}
	if len(path) == 0 {
		return "", false, fmt.Errorf("expected response.<field>")
	}
	switch path[0] {
	case "status":
		return strconv.Itoa(tc.Response.StatusCode), true, nil
	case "body":
		// body is a reserved path terminator: it always returns the raw
		// body string, never a JSON field traversal, even if the parsed
		// body has a top-level "body" key.
		return tc.Response.Body, true, nil
	case "headers":
		if len(path) != 2 {
			return "", false, fmt.Errorf("expected response.headers.<name>")
		}
		v, ok := tc.Response.Headers[path[1]]
		return v, ok, nil
	default:
		if tc.Response.ParsedJSON == nil {
			return "", false, nil
		}
		r, ok := walkJSON(gjson.Parse(tc.Response.Body), path)
		if !ok {
			return "", false, nil
		}
		return stringifyResult(r), true, nil
	}
}

func resolveStageJSON(content string, tc execctx.TemplateContext) (string, bool, error) {
	closeIdx := strings.Index(content, ")")
	if closeIdx < 0 {
		return "", false, fmt.Errorf("unterminated stage:json(...) token")
	}
	inner := content[len("stage:json(") : closeIdx]
	after := strings.TrimPrefix(content[closeIdx+1:], ".")

	innerSegs := splitNonEmpty(inner, '.')
	if len(innerSegs) != 3 || innerSegs[1] != "output" {
		return "", false, fmt.Errorf("expected stage:json(<stage>.output.<key>)")
	}
	stageOut, ok := tc.EndpointOutputs[innerSegs[0]]
	if !ok {
		return "", false, nil
	}
	raw, ok := stageOut[innerSegs[2]]
	if !ok {
		return "", false, nil
	}

	if !gjson.Valid(raw) {
		return "", false, fmt.Errorf("stage:json output is not valid JSON")
	}
	parsed := gjson.Parse(raw)

	if after == "" {
		return stringifyResult(parsed), true, nil
	}
	pathSegs := splitNonEmpty(after, '.')
	r, ok := walkJSON(parsed, pathSegs)
	if !ok {
		return "", false, nil
	}
	return stringifyResult(r), true, nil
}

// walkJSON traverses keyed objects by key and arrays by integer index,
// matching the response-token grammar; no JSONPath/JMESPath superset. It
// resolves one segment at a time against gjson's parsed Map()/Array()
// accessors rather than building a gjson path-query string, so a key
// containing characters gjson's own path syntax treats specially (`*`,
// `#`, `|`) is still matched literally.
func walkJSON(v gjson.Result, path []string) (gjson.Result, bool) {
	cur := v
	for _, seg := range path {
		switch {
		case cur.IsObject():
			next, ok := cur.Map()[seg]
			if !ok {
				return gjson.Result{}, false
			}
			cur = next
		case cur.IsArray():
			idx, err := strconv.Atoi(seg)
			arr := cur.Array()
			if err != nil || idx < 0 || idx >= len(arr) {
				return gjson.Result{}, false
			}
			cur = arr[idx]
		default:
			return gjson.Result{}, false
		}
	}
	return cur, true
}

// stringifyResult serializes a gjson leaf per the scalar rules: strings
// pass through, numbers/booleans use their canonical text form, null
// becomes empty, and objects/arrays embed as compact JSON text.
func stringifyResult(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return r.String()
	case gjson.True, gjson.False, gjson.Number:
		return r.String()
	default:
		return r.Raw
	}
}
