package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Cases checks cross-case consistency of a generated definition set:
// unique ids and orders, dependency references that resolve, no
// dependency cycles, and endpoint references that exist in the model.
// Per-case shape is already covered by TestCaseDefinition.Validate; this
// guards the relationships between cases.
func Cases(model domain.SpecModel, cases []domain.TestCaseDefinition) error {
	verr := &ValidationError{}

	byID := make(map[string]domain.TestCaseDefinition, len(cases))
	for _, c := range cases {
		if _, ok := byID[c.ID]; ok {
			verr.Add(fmt.Sprintf("duplicate case id %s", c.ID))
			continue
		}
		byID[c.ID] = c
	}

	checkUniqueOrders(cases, verr)
	checkEndpointRefs(model, cases, verr)
	checkDependencyRefs(byID, cases, verr)
	if cycle := findCycle(cases); len(cycle) > 0 {
		verr.Add("dependency cycle: " + strings.Join(cycle, " -> "))
	}
	return verr.OrNil()
}

func checkUniqueOrders(cases []domain.TestCaseDefinition, verr *ValidationError) {
	seen := make(map[int]struct{}, len(cases))
	duplicates := make(map[int]struct{})
	for _, c := range cases {
		if _, ok := seen[c.Order]; ok {
			duplicates[c.Order] = struct{}{}
		}
		seen[c.Order] = struct{}{}
	}
	if len(duplicates) == 0 {
		return
	}
	orders := make([]int, 0, len(duplicates))
	for order := range duplicates {
		orders = append(orders, order)
	}
	sort.Ints(orders)
	parts := make([]string, 0, len(orders))
	for _, order := range orders {
		parts = append(parts, fmt.Sprintf("%d", order))
	}
	verr.Add("duplicate case orders: " + strings.Join(parts, ", "))
}

func checkEndpointRefs(model domain.SpecModel, cases []domain.TestCaseDefinition, verr *ValidationError) {
	for _, c := range cases {
		if _, ok := model.Lookup(c.Endpoint); !ok {
			verr.Add(fmt.Sprintf("case %s references unknown endpoint %s", c.ID, c.Endpoint))
		}
	}
}

func checkDependencyRefs(byID map[string]domain.TestCaseDefinition, cases []domain.TestCaseDefinition, verr *ValidationError) {
	for _, c := range cases {
		for _, dep := range c.DependsOn {
			if _, ok := byID[dep]; !ok {
				verr.Add(fmt.Sprintf("case %s depends on non-existent %s", c.ID, dep))
			}
		}
		if c.UseResponseFrom != "" {
			if _, ok := byID[c.UseResponseFrom]; !ok {
				verr.Add(fmt.Sprintf("case %s uses response from non-existent %s", c.ID, c.UseResponseFrom))
			}
		}
	}
}

// findCycle runs a DFS over the dependency graph and returns the first
// cycle found as a case id path, or nil.
func findCycle(cases []domain.TestCaseDefinition) []string {
	graph := make(map[string][]string, len(cases))
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		deps := append([]string{}, c.DependsOn...)
		if c.UseResponseFrom != "" {
			deps = append(deps, c.UseResponseFrom)
		}
		graph[c.ID] = deps
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	visited := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if cycle := dfsCycle(id, graph, visited, nil); cycle != nil {
			return cycle
		}
	}
	return nil
}

func dfsCycle(node string, graph map[string][]string, visited map[string]struct{}, path []string) []string {
	for i, seen := range path {
		if seen == node {
			return append(append([]string{}, path[i:]...), node)
		}
	}
	if _, ok := visited[node]; ok {
		return nil
	}
	path = append(path, node)
	for _, dep := range graph[node] {
		if cycle := dfsCycle(dep, graph, visited, path); cycle != nil {
			return cycle
		}
	}
	visited[node] = struct{}{}
	return nil
}
