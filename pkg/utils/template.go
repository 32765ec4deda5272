package utils

import (
	"sort"
	"strings"
)

// RenderTemplate substitutes {{key}} placeholders. Unknown placeholders are left intact
// so a missing variable is visible in the output rather than silently blanked.
func RenderTemplate(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*4)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k], "{{ "+k+" }}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
