package linker

import (
	"testing"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultScript(t *testing.T) {
	script, err := ParseScript(DefaultScript)
	require.NoError(t, err)

	assert.Equal(t, "_start", script.Entry)
	require.Len(t, script.Placements, 3)
	assert.Equal(t, belf.SectionText, script.Placements[0].Type)
	assert.Equal(t, belf.SectionData, script.Placements[1].Type)
	assert.Equal(t, belf.SectionBSS, script.Placements[2].Type)
	for _, p := range script.Placements {
		assert.False(t, p.Physical)
		assert.False(t, p.HasAddress)
	}
}

func TestParseScriptWithExplicitAddressesAndTags(t *testing.T) {
	source := `
// load .text at a fixed physical address, pack .data virtually after it
ENTRY(main)
SECTIONS(
	@P;
	.text = 0x8000;
	@V;
	.data;
	.bss;
)
`
	script, err := ParseScript(source)
	require.NoError(t, err)

	assert.Equal(t, "main", script.Entry)
	require.Len(t, script.Placements, 3)

	assert.True(t, script.Placements[0].Physical)
	assert.True(t, script.Placements[0].HasAddress)
	assert.EqualValues(t, 0x8000, script.Placements[0].Address)

	assert.False(t, script.Placements[1].Physical)
	assert.False(t, script.Placements[1].HasAddress)
}

func TestParseScriptRejectsGarbage(t *testing.T) {
	_, err := ParseScript("ENTRY(main) SECTIONS( .rodata; )")
	require.ErrorIs(t, err, ErrScriptParse)
}

func TestParseScriptAcceptsBinaryAndDecimalAddresses(t *testing.T) {
	script, err := ParseScript("ENTRY(main) SECTIONS( .text = 0b1010; .data = 256; )")
	require.NoError(t, err)
	assert.EqualValues(t, 0b1010, script.Placements[0].Address)
	assert.EqualValues(t, 256, script.Placements[1].Address)
}
