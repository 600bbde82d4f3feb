package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goprof/internal/registry"
)

type fakeLookup struct {
	alive  map[registry.ProcID]bool
	names  map[string]registry.ProcID
	groups map[string][]registry.ProcID
	pools  map[string]string
}

func (f *fakeLookup) Alive(id registry.ProcID) bool { return f.alive[id] }

func (f *fakeLookup) Whereis(name string) (registry.ProcID, bool) {
	id, ok := f.names[name]
	return id, ok
}

func (f *fakeLookup) Members(group string) []registry.ProcID { return f.groups[group] }

func (f *fakeLookup) Pool(pool string) (string, bool) {
	g, ok := f.pools[pool]
	return g, ok
}

func newFake() *fakeLookup {
	return &fakeLookup{
		alive:  map[registry.ProcID]bool{1: true, 2: true, 3: true, 4: true, 7: true},
		names:  map[string]registry.ProcID{"db": 1, "web": 2},
		groups: map[string][]registry.ProcID{"web": {3, 4}, "http.acceptors": {7}, "workers": {3, 4}},
		pools:  map[string]string{"http": "http.acceptors"},
	}
}

func TestParseNested(t *testing.T) {
	spec, err := Parse("[#1, db, {group:workers, [acceptors:http]}]")
	require.NoError(t, err)
	assert.False(t, spec.IsLeaf())
	assert.Equal(t, []string{"#1", "db", "group:workers", "acceptors:http"}, spec.Tokens())
	assert.Equal(t, "[#1, db, {group:workers, [acceptors:http]}]", spec.String())
}

func TestParseBareSequenceIsList(t *testing.T) {
	spec, err := Parse("db, web")
	require.NoError(t, err)
	assert.Len(t, spec.Items, 2)
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "[db", "db]", "{a b}", "[,]"} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestResolveOrderNameBeforeGroup(t *testing.T) {
	r := New(newFake())
	ids, _, err := r.ResolveString("web")
	require.NoError(t, err)
	assert.Equal(t, []registry.ProcID{2}, ids)
}

func TestResolveGroupFallbackAndPool(t *testing.T) {
	r := New(newFake())
	ids, _, err := r.ResolveString("[workers, acceptors:http, group:web]")
	require.NoError(t, err)
	assert.Equal(t, []registry.ProcID{3, 4, 7}, ids)
}

func TestResolveHandleLiteralFirst(t *testing.T) {
	f := newFake()
	f.names["3"] = 1
	r := New(f)
	ids, _, err := r.ResolveString("{3, #1}")
	require.NoError(t, err)
	assert.Equal(t, []registry.ProcID{3, 1}, ids)
}

func TestResolveDropsUnknownTokens(t *testing.T) {
	r := New(newFake())
	ids, spec, err := r.ResolveString("[#99, missing, acceptors:none, db]")
	require.NoError(t, err)
	assert.Equal(t, []registry.ProcID{1}, ids)
	assert.Len(t, spec.Tokens(), 4)
}

func TestResolveAgainstRegistry(t *testing.T) {
	reg := registry.New()
	r := New(reg)
	ids, _, err := r.ResolveString("nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
