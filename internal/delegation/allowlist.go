// Package delegation decides which worker identities a requester may delegate to.
package delegation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Wildcard permits delegation to any agent.
const Wildcard = "*"

// AllowList is the set of agents a requester may delegate to.
type AllowList struct {
	Wildcard bool
	Allowed  map[string]bool
}

// NewAllowList builds an allow-list from agent IDs. A "*" entry sets Wildcard.
func NewAllowList(agents ...string) AllowList {
	al := AllowList{Allowed: make(map[string]bool, len(agents))}
	for _, a := range agents {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == Wildcard {
			al.Wildcard = true
			continue
		}
		al.Allowed[a] = true
	}
	return al
}

// Permits reports whether requester may delegate to agentID.
// A requester may always delegate to its own identity.
func (al AllowList) Permits(requester, agentID string) bool {
	if agentID == requester || al.Wildcard {
		return true
	}
	return al.Allowed[agentID]
}

// Names returns the allowed agent IDs sorted, with "*" first when set.
func (al AllowList) Names() []string {
	names := make([]string, 0, len(al.Allowed)+1)
	if al.Wildcard {
		names = append(names, Wildcard)
	}
	rest := make([]string, 0, len(al.Allowed))
	for a := range al.Allowed {
		rest = append(rest, a)
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Resolver looks up the allow-list configured for a requester identity.
type Resolver interface {
	ResolveAllowedAgents(ctx context.Context, requester string) (AllowList, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, requester string) (AllowList, error)

// ResolveAllowedAgents calls f.
func (f ResolverFunc) ResolveAllowedAgents(ctx context.Context, requester string) (AllowList, error) {
	return f(ctx, requester)
}

// StaticResolver maps requester identities to fixed allow-lists.
// Requesters without an entry get Default.
type StaticResolver struct {
	mu         sync.RWMutex
	requesters map[string]AllowList
	defaults   AllowList
}

// NewStaticResolver creates a resolver that returns defaults for every requester.
func NewStaticResolver(defaults ...string) *StaticResolver {
	return &StaticResolver{
		requesters: make(map[string]AllowList),
		defaults:   NewAllowList(defaults...),
	}
}

// Set replaces the allow-list for one requester.
func (r *StaticResolver) Set(requester string, agents ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requesters[requester] = NewAllowList(agents...)
}

// ResolveAllowedAgents implements Resolver.
func (r *StaticResolver) ResolveAllowedAgents(_ context.Context, requester string) (AllowList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if al, ok := r.requesters[requester]; ok {
		return al, nil
	}
	return r.defaults, nil
}

// policyFile is the on-disk layout of a delegation policy.
type policyFile struct {
	Default    []string            `yaml:"default"`
	Requesters map[string][]string `yaml:"requesters"`
}

// LoadPolicyFile reads a YAML delegation policy into a StaticResolver.
//
//	default: [researcher]
//	requesters:
//	  main: ["*"]
//	  intern: [researcher, summarizer]
func LoadPolicyFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read delegation policy: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse delegation policy %s: %w", path, err)
	}

	r := NewStaticResolver(pf.Default...)
	for requester, agents := range pf.Requesters {
		r.Set(requester, agents...)
	}
	return r, nil
}
