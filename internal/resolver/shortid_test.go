package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveServiceID(t *testing.T) {
	ids := []string{
		"aaaaaaaa-1111-2222-3333-444444444444",
		"aaaaaa99-1111-2222-3333-444444444444",
		"bbbbbbbb-1111-2222-3333-444444444444",
	}

	t.Run("full id resolves by membership", func(t *testing.T) {
		got, err := ResolveServiceID(ids, ids[2])
		require.NoError(t, err)
		assert.Equal(t, ids[2], got)
	})

	t.Run("unknown full id", func(t *testing.T) {
		_, err := ResolveServiceID(ids, "cccccccc-1111-2222-3333-444444444444")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("unique prefix", func(t *testing.T) {
		got, err := ResolveServiceID(ids, "bbbbbb")
		require.NoError(t, err)
		assert.Equal(t, ids[2], got)
	})

	t.Run("longer prefix disambiguates", func(t *testing.T) {
		got, err := ResolveServiceID(ids, "aaaaaa99")
		require.NoError(t, err)
		assert.Equal(t, ids[1], got)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveServiceID(ids, "aaa")
		require.Error(t, err)
		assert.False(t, IsNotFoundError(err))
		assert.False(t, IsAmbiguousError(err))
		assert.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := ResolveServiceID(ids, "aaaaaa")
		require.Error(t, err)
		require.True(t, IsAmbiguousError(err))
		ambig := err.(*AmbiguousError)
		assert.Equal(t, "aaaaaa", ambig.Prefix)
		assert.Len(t, ambig.Matches, 2)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveServiceID(ids, "dddddd")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("empty candidate set", func(t *testing.T) {
		_, err := ResolveServiceID(nil, "aaaaaa")
		assert.True(t, IsNotFoundError(err))
	})
}

func TestFormatAmbiguousError(t *testing.T) {
	t.Run("lists matches with guidance", func(t *testing.T) {
		err := &AmbiguousError{Prefix: "ab12cd", Matches: []string{"ab12cd-1", "ab12cd-2"}}
		msg := FormatAmbiguousError(err)
		assert.Contains(t, msg, "'ab12cd' matches 2 services")
		assert.Contains(t, msg, "ab12cd-1")
		assert.Contains(t, msg, "ab12cd-2")
		assert.Contains(t, msg, "longer prefix")
	})

	t.Run("caps the listing at ten", func(t *testing.T) {
		matches := make([]string, 12)
		for i := range matches {
			matches[i] = fmt.Sprintf("id-%02d", i)
		}
		msg := FormatAmbiguousError(&AmbiguousError{Prefix: "id", Matches: matches})
		assert.Contains(t, msg, "id-09")
		assert.NotContains(t, msg, "id-10")
		assert.Contains(t, msg, "...and 2 more")
	})
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFoundError(&NotFoundError{Prefix: "x"}))
	assert.False(t, IsNotFoundError(fmt.Errorf("other")))
	assert.True(t, IsAmbiguousError(&AmbiguousError{}))
	assert.False(t, IsAmbiguousError(&NotFoundError{}))
}
