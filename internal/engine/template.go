package engine

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// expandInstanceName expands class.Instance — a text/template string with
// the sprig function set available, the same combination the teacher's
// controllers/template/helpers package uses for its generic-spec templates
// — against env, deriving the instance name a matched start event creates
// (spec.md §4.6 step 2, "expand class.instance template against that env").
//
// A class with no Instance template is not multiplexed and always expands
// to the empty instance name.
func (e *Engine) expandInstanceName(class *JobClass, env Env) string {
	if class.Instance == "" {
		return ""
	}

	tmpl, err := template.New(class.Name).Funcs(sprig.TxtFuncMap()).Parse(class.Instance)
	if err != nil {
		e.Log.V(0).Info("instance template parse failed, using literal", "class", class.Name, "error", err.Error())
		return class.Instance
	}

	data := make(map[string]string, len(env))
	for _, kv := range env {
		key, value := Split(kv)
		data[key] = value
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		e.Log.V(0).Info("instance template expansion failed, using literal", "class", class.Name, "error", err.Error())
		return class.Instance
	}

	return out.String()
}
