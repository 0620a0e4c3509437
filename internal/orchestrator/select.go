package orchestrator

import (
	"strings"

	"github.com/dohr-michael/foreman/internal/agent"
)

// AgentRoute sends task types containing Match to Agent.
type AgentRoute struct {
	Match string
	Agent string
}

// DefaultAgentRoutes is checked in order; the first substring match wins.
var DefaultAgentRoutes = []AgentRoute{
	{"invoice", "invoice_agent"},
	{"payment", "invoice_agent"},
	{"email", "email_agent"},
	{"reminder", "email_agent"},
	{"expense", "accounting_agent"},
	{"reconcile", "accounting_agent"},
	{"report", "accounting_agent"},
	{"financial", "accounting_agent"},
	{"data", "data_agent"},
	{"query", "data_agent"},
	{"customer", "data_agent"},
}

// Assignment groups the tasks bound for one agent.
type Assignment struct {
	Agent        string         `json:"agent"`
	Tasks        []*agent.Task  `json:"tasks"`
	Priority     agent.Priority `json:"priority"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// AgentFor returns the agent for a task type, or "" when no route matches.
func AgentFor(routes []AgentRoute, taskType string) string {
	t := strings.ToLower(taskType)
	for _, r := range routes {
		if strings.Contains(t, r.Match) {
			return r.Agent
		}
	}
	return ""
}

// SelectAgents groups tasks by agent, in order of first appearance. A group's
// priority is the highest of its tasks; its dependencies are the union of
// theirs. Tasks with no route are grouped under the empty agent name.
func SelectAgents(routes []AgentRoute, tasks []*agent.Task) []Assignment {
	var out []Assignment
	index := map[string]int{}
	deps := map[string]map[string]bool{}

	for _, t := range tasks {
		name := AgentFor(routes, t.Type)
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			deps[name] = map[string]bool{}
			out = append(out, Assignment{Agent: name, Priority: t.Priority})
		}
		a := &out[i]
		a.Tasks = append(a.Tasks, t)
		if t.Priority.Rank() > a.Priority.Rank() {
			a.Priority = t.Priority
		}
		for _, d := range t.Dependencies {
			if !deps[name][d] {
				deps[name][d] = true
				a.Dependencies = append(a.Dependencies, d)
			}
		}
	}
	return out
}
