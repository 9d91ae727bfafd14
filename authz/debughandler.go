package authz

import (
	"net/http"
	"slices"
	"strings"

	"github.com/dpup/permissible/perm"
)

// DebugHandler renders the registered policies and method rules.
func (a *Authorizer) DebugHandler(resp http.ResponseWriter, req *http.Request) {
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var b strings.Builder
	b.WriteString("Authz Configuration\n")
	b.WriteString("===================\n\n\n")

	b.WriteString("Policies\n")
	b.WriteString("--------\n\n")
	for _, typ := range a.resolver.Types() {
		p, _ := a.resolver.Policy(typ)
		b.WriteString("  " + typ + "\n")
		writeMap(&b, "global", p.Global, false)
		writeMap(&b, "object", p.Object, true)
		b.WriteString("\n")
	}

	b.WriteString("\n\nRules\n")
	b.WriteString("-----\n\n")
	methods := make([]string, 0, len(a.rules))
	for m := range a.rules {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	padding := 0
	for _, m := range methods {
		padding = max(padding, len(m))
	}
	for _, m := range methods {
		rule := a.rules[m]
		b.WriteString("  " + pad(m, padding) + "  " + string(rule.Action) + " " + rule.Type + "\n")
	}

	resp.Write([]byte(b.String()))
}

func writeMap(b *strings.Builder, name string, m perm.PermissionMap, isTail bool) {
	b.WriteString("  " + branch(isTail) + name + "\n")
	prefix := "  " + getPrefix(isTail)

	actions := make([]string, 0, len(m))
	for action := range m {
		actions = append(actions, string(action))
	}
	slices.Sort(actions)
	for i, action := range actions {
		defs := m[perm.Action(action)]
		line := "deny"
		if len(defs) > 0 {
			parts := make([]string, len(defs))
			for j, d := range defs {
				parts[j] = d.String()
			}
			line = strings.Join(parts, " & ")
		}
		b.WriteString(prefix + branch(i == len(actions)-1) + pad(action, 16) + line + "\n")
	}
}

func branch(isTail bool) string {
	if isTail {
		return "└── "
	}
	return "├── "
}

func getPrefix(isTail bool) string {
	if isTail {
		return "    "
	}
	return "│   "
}

func pad(str string, n int) string {
	for i := n - len(str); i > 0; i-- {
		str += " "
	}
	return str
}
