package resolve

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"goprof/internal/registry"
)

const (
	groupPrefix     = "group:"
	acceptorsPrefix = "acceptors:"
)

// Lookup is the subset of the registry the resolver reads.
type Lookup interface {
	Alive(id registry.ProcID) bool
	Whereis(name string) (registry.ProcID, bool)
	Members(group string) []registry.ProcID
	Pool(pool string) (string, bool)
}

// Resolver maps specs onto live task handles.
type Resolver struct {
	reg Lookup
}

// New returns a resolver over reg.
func New(reg Lookup) *Resolver {
	return &Resolver{reg: reg}
}

// ResolveString parses and resolves input in one step.
func (r *Resolver) ResolveString(input string) ([]registry.ProcID, Spec, error) {
	spec, err := Parse(input)
	if err != nil {
		return nil, Spec{}, err
	}
	return r.Resolve(spec), spec, nil
}

// Resolve returns the deduplicated live handles named by spec in first-seen
// order. Tokens that resolve to nothing are logged and dropped.
func (r *Resolver) Resolve(spec Spec) []registry.ProcID {
	seen := make(map[registry.ProcID]struct{})
	var out []registry.ProcID
	for _, tok := range spec.Tokens() {
		ids := r.token(tok)
		if len(ids) == 0 {
			log.WithField("token", tok).Warn("target does not resolve to a live process, dropped")
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (r *Resolver) token(tok string) []registry.ProcID {
	tok = strings.TrimSpace(tok)
	switch {
	case tok == "":
		return nil
	case strings.HasPrefix(tok, "#"):
		return r.handle(tok[1:])
	case strings.HasPrefix(tok, groupPrefix):
		return r.reg.Members(strings.TrimPrefix(tok, groupPrefix))
	case strings.HasPrefix(tok, acceptorsPrefix):
		group, ok := r.reg.Pool(strings.TrimPrefix(tok, acceptorsPrefix))
		if !ok {
			return nil
		}
		return r.reg.Members(group)
	}
	if ids := r.handle(tok); len(ids) > 0 {
		return ids
	}
	if id, ok := r.reg.Whereis(tok); ok {
		return []registry.ProcID{id}
	}
	return r.reg.Members(tok)
}

func (r *Resolver) handle(raw string) []registry.ProcID {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return nil
	}
	id := registry.ProcID(n)
	if !r.reg.Alive(id) {
		return nil
	}
	return []registry.ProcID{id}
}
