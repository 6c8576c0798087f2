package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveString_NoReferences(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}

	assert.Equal(t, "no vars", ResolveString("no vars", data))
	assert.Equal(t, "", ResolveString("", data))
}

func TestResolveString_SimplePath(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": 5},
	}

	assert.Equal(t, "5", ResolveString("${a.b}", data))
}

func TestResolveString_JSONDecodedNumbers(t *testing.T) {
	// Context values that arrive via JSON decode to float64.
	data := map[string]any{
		"a": map[string]any{"b": float64(5)},
	}

	assert.Equal(t, "5", ResolveString("${a.b}", data))
}

func TestResolveString_UnresolvedStaysVerbatim(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": 5},
	}

	assert.Equal(t, "${a.c}", ResolveString("${a.c}", data))
	assert.Equal(t, "${missing}", ResolveString("${missing}", data))
	assert.Equal(t, "${a.b.c}", ResolveString("${a.b.c}", data), "non-map intermediate")
}

func TestResolveString_NilValueStaysVerbatim(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": nil},
		"n": nil,
	}

	assert.Equal(t, "${a.b}", ResolveString("${a.b}", data))
	assert.Equal(t, "${n.x}", ResolveString("${n.x}", data))
}

func TestResolveString_MultipleReferences(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name": "Alice",
			"tier": "pro",
		},
	}

	result := ResolveString("Hello ${user.name}, your tier is ${user.tier}.", data)
	assert.Equal(t, "Hello Alice, your tier is pro.", result)
}

func TestResolveString_MixedResolvedAndUnresolved(t *testing.T) {
	data := map[string]any{
		"order": map[string]any{"id": "ord-9"},
	}

	result := ResolveString("order=${order.id} status=${order.status}", data)
	assert.Equal(t, "order=ord-9 status=${order.status}", result)
}

func TestResolveString_CompositeValuesEmbedAsJSON(t *testing.T) {
	data := map[string]any{
		"cart": map[string]any{
			"items": []any{"pen", "ink"},
			"meta":  map[string]any{"count": 2},
		},
	}

	assert.Equal(t, `items: ["pen","ink"]`, ResolveString("items: ${cart.items}", data))
	assert.Equal(t, `meta: {"count":2}`, ResolveString("meta: ${cart.meta}", data))
}

func TestResolveString_MalformedReferences(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}

	// Unterminated reference keeps the tail untouched.
	assert.Equal(t, "prefix ${a.b", ResolveString("prefix ${a.b", data))
	// Empty or dangling-dot paths never resolve.
	assert.Equal(t, "${}", ResolveString("${}", data))
	assert.Equal(t, "${a.}", ResolveString("${a.}", data))
}

func TestResolveString_SubstitutionIsNotRescanned(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": "${a.b}"},
	}

	// A value containing reference syntax is embedded as-is.
	assert.Equal(t, "${a.b}", ResolveString("${a.b}", data))
}

func TestResolve_NonStringPassthrough(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}

	input := map[string]any{"url": "${a.b}"}
	assert.Equal(t, input, Resolve(input, data), "structured inputs are not rewritten")

	assert.Equal(t, 42, Resolve(42, data))
	assert.Equal(t, true, Resolve(true, data))
	assert.Nil(t, Resolve(nil, data))
}

func TestResolve_StringInput(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": 5}}

	assert.Equal(t, "5", Resolve("${a.b}", data))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
	assert.Equal(t, `[1,2]`, Stringify([]any{1, 2}))
}
