package optable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		class  Class
		symbol string
		mock   string
	}{
		{Equality, "===", "__triple_equal__"},
		{Equality, "==", "__double_equal__"},
		{Binary, "+", "__plus__"},
		{Unary, "+", "__unary_plus__"},
		{Unary, "typeof", "__typeof__"},
		{Update, "++", "__increment__"},
		{Logical, "&&", "__logical_and__"},
		{MemberGet, ".", "__get__"},
		{MemberCall, "()", "__call_method__"},
		{Named, "eval", "__eval__"},
		{Named, "Boolean", "__boolean__"},
		{Test, "?:", "__truthy__"},
		{Test, "switch", "__unwrap__"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.class.String()+" "+tt.symbol, func(t *testing.T) {
			e, err := Lookup(tt.class, tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.mock, e.Mock)
			assert.Equal(t, tt.class, e.Class)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup(Binary, "===")
	require.Error(t, err)

	var unknown *UnknownOperatorError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, Binary, unknown.Class)
	assert.Equal(t, "===", unknown.Symbol)
	assert.Contains(t, err.Error(), `binary operator "==="`)

	assert.Panics(t, func() { MustLookup(Unary, "void") })
}

func TestComparisonsAreEqualityClass(t *testing.T) {
	for _, sym := range []string{"==", "===", "!=", "!==", "<", ">", "<=", ">=", "instanceof", "in", "!"} {
		assert.True(t, Has(Equality, sym), sym)
		assert.False(t, Has(Binary, sym), sym)
	}
}

func TestTestEntriesLeadTable(t *testing.T) {
	all := Entries()
	tests := ByClass(Test)
	require.NotEmpty(t, tests)
	for i, e := range tests {
		assert.Equal(t, e, all[i])
	}
}

func TestMemberCallPrecedesMemberGet(t *testing.T) {
	pos := map[Class]int{}
	for i, e := range Entries() {
		if _, ok := pos[e.Class]; !ok {
			pos[e.Class] = i
		}
	}
	assert.Less(t, pos[MemberCall], pos[MemberGet])
}

func TestAugmentedOperator(t *testing.T) {
	e, ok := AugmentedOperator("+=")
	require.True(t, ok)
	assert.Equal(t, "__plus__", e.Mock)

	e, ok = AugmentedOperator(">>>=")
	require.True(t, ok)
	assert.Equal(t, "__unsigned_shift_right__", e.Mock)

	_, ok = AugmentedOperator("&&=")
	assert.False(t, ok)
	_, ok = AugmentedOperator("=")
	assert.False(t, ok)
}

func TestMockNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, name := range MockNames() {
		assert.False(t, seen[name], "duplicate mock name %s", name)
		seen[name] = true
	}
}
