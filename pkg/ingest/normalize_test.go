package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Jean Dupont", NormalizeText("  Jean   Dupont  "))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestNormalizeEmail(t *testing.T) {
	e, err := NormalizeEmail(" Jean.Dupont @ Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "jean.dupont@example.com", e)

	e, err = NormalizeEmail("")
	require.NoError(t, err)
	assert.Equal(t, "", e)

	_, err = NormalizeEmail("not-an-email")
	assert.Error(t, err)
}

func TestNormalizeDate(t *testing.T) {
	d, err := NormalizeDate("2025-06-15")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", d)

	d, err = NormalizeDate("15/06/2025")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", d)

	_, err = NormalizeDate("06-15-2025")
	assert.Error(t, err)
}

func TestNormalizeDecimal(t *testing.T) {
	v, err := NormalizeDecimal("1 234,50")
	require.NoError(t, err)
	assert.InDelta(t, 1234.50, v, 1e-9)

	v, err = NormalizeDecimal("89.90")
	require.NoError(t, err)
	assert.InDelta(t, 89.90, v, 1e-9)

	_, err = NormalizeDecimal("abc")
	assert.Error(t, err)
}

func TestNormalizeLabelStripsDiacritics(t *testing.T) {
	assert.Equal(t, "cotes-du-rhone rouge 2021", NormalizeLabel("  Côtes-du-Rhône   Rouge 2021 "))
	assert.Equal(t, NormalizeLabel("Gewürztraminer"), NormalizeLabel("Gewurztraminer"))
}

func TestNormalizeColumn(t *testing.T) {
	assert.Equal(t, "code_client", NormalizeColumn(" Code Client "))
	assert.Equal(t, "date_commande", NormalizeColumn("Date-Commandé"))
}

func TestRowHashStableUnderKeyOrder(t *testing.T) {
	a, err := RowHash(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	b, err := RowHash(map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := RowHash(map[string]string{"a": "1", "b": "3"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
