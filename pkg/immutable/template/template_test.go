package template_test

import (
	"errors"
	"testing"

	"github.com/jamesainslie/immutable/pkg/immutable/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReplacesEveryOccurrence(t *testing.T) {
	tpl := template.New("loader", "if (h !== 'INJECT_HASH') fail('INJECT_HASH'); allow(INJECT_SOURCES)")

	out, err := tpl.Resolve(template.Values{
		template.Hash:    "abc",
		template.Sources: "'sha256-x'",
	})
	require.NoError(t, err)

	assert.Equal(t, "if (h !== 'abc') fail('abc'); allow('sha256-x')", out.String())
	assert.Equal(t, "loader", out.Name())
	assert.Contains(t, tpl.String(), "INJECT_HASH", "original is not mutated")
}

func TestResolveDoesNotSubstituteTwice(t *testing.T) {
	tpl := template.New("loader", "INJECT_SOURCES|INJECT_HASH")

	out, err := tpl.Resolve(template.Values{
		template.Sources: "INJECT_HASH",
		template.Hash:    "real",
	})
	require.NoError(t, err)

	assert.Equal(t, "INJECT_HASH|real", out.String())
}

func TestResolveMissingSlotIsInvariantError(t *testing.T) {
	tpl := template.New("service_worker.latest.js", "self.addEventListener('install', () => {})")

	_, err := tpl.Resolve(template.Values{template.Files: "[]"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, template.ErrMissingPlaceholder))

	var inv *template.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, template.Files, inv.Slot)
	assert.Equal(t, "service_worker.latest.js", inv.Template)
}

func TestTwoSequencedPasses(t *testing.T) {
	page := template.New("index.html", "<script>verify('INJECT_HASH')</script>")

	dummy, err := page.Resolve(template.Values{template.Hash: "DUMMY_HASH"})
	require.NoError(t, err)
	final, err := page.Resolve(template.Values{template.Hash: "0123"})
	require.NoError(t, err)

	assert.Equal(t, "<script>verify('DUMMY_HASH')</script>", dummy.String())
	assert.Equal(t, "<script>verify('0123')</script>", final.String())
}

func TestResolveOptionalSkipsAbsentSlots(t *testing.T) {
	tpl := template.New("loader", "m=INJECT_SOURCES")

	out := tpl.ResolveOptional(template.Values{
		template.Sources:  "s",
		template.Manifest: "data:",
	})
	assert.Equal(t, "m=s", out.String())
	assert.False(t, out.Has(template.Sources))
}
