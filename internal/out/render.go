package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/vaultflow/internal/config"
	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if env.Error != nil {
		line := fmt.Sprintf("error[%s]: %s", env.Error.Type, env.Error.Message)
		if env.Error.Step != "" {
			line += " (at " + env.Error.Step + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	} else if err := renderPlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintln(w, "warning: "+warning); err != nil {
			return err
		}
	}
	return nil
}

// Progress writes one line per step change of a running flow. It is meant
// for stderr while stdout carries the final envelope.
func Progress(w io.Writer) flow.Sink {
	var last flow.Step
	return flow.SinkFunc(func(s flow.State) {
		if s.Step == last {
			return
		}
		last = s.Step
		line := fmt.Sprintf("[%s] %s", s.Kind, stepLabel(s.Step))
		if s.TxHash != "" && s.Step != flow.StepComplete {
			line += " tx=" + s.TxHash
		}
		if s.Failed() {
			line = fmt.Sprintf("[%s] failed at %s: %s", s.Kind, stepLabel(s.Failure.FailedAt), s.Failure.Message)
		}
		_, _ = fmt.Fprintln(w, line)
	})
}

func stepLabel(step flow.Step) string {
	switch step {
	case flow.StepCheckingVault:
		return "checking vault"
	case flow.StepDeployingVault:
		return "deploying vault"
	case flow.StepRegisteringVault:
		return "registering vault"
	case flow.StepSwitchingChain:
		return "switching network"
	case flow.StepApprovingUSDC:
		return "approving USDC"
	case flow.StepDepositing:
		return "depositing"
	case flow.StepUnwinding:
		return "requesting unwind"
	case flow.StepPollingBalance:
		return "waiting for unwound funds"
	case flow.StepWithdrawing:
		return "withdrawing"
	case flow.StepConfirming:
		return "waiting for confirmation"
	case flow.StepComplete:
		return "complete"
	default:
		return strings.ReplaceAll(string(step), "_", " ")
	}
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			item := normalizeValue(v.Index(i).Interface())
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
