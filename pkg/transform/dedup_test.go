package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicateByEmail(t *testing.T) {
	rows := []map[string]string{
		{"customer_code": "C001", "email": "a@example.com", "first_name": "", "city": "Lyon"},
		{"customer_code": "C002", "email": "a@example.com", "first_name": "Alice", "city": "Paris"},
		{"customer_code": "C003", "email": "b@example.com"},
	}
	out := Deduplicate(rows)
	require.Len(t, out, 2)

	merged := out[0]
	assert.Equal(t, "C001,C002", merged.CustomerCode)
	assert.True(t, merged.CodesMerged)
	assert.Equal(t, 2, merged.DuplicateCount)
	// First non-empty value wins per field.
	assert.Equal(t, "Alice", merged.FirstName)
	assert.Equal(t, "Lyon", merged.City)

	assert.Equal(t, "C003", out[1].CustomerCode)
	assert.False(t, out[1].CodesMerged)
}

func TestDeduplicateByPhoneAfterEmail(t *testing.T) {
	rows := []map[string]string{
		{"customer_code": "C001", "email": "a@example.com", "phone": "0600000001"},
		{"customer_code": "C002", "email": "a@example.com", "phone": "0600000002"},
		{"customer_code": "C003", "phone": "0600000002"},
		{"customer_code": "C004", "phone": "0600000002"},
	}
	out := Deduplicate(rows)
	require.Len(t, out, 2)

	// C002 was claimed by the email group, so the phone group is C003+C004.
	assert.Equal(t, "C001,C002", out[0].CustomerCode)
	assert.Equal(t, "C003,C004", out[1].CustomerCode)
	assert.Equal(t, 2, out[1].DuplicateCount)
}

func TestDeduplicateSingletonsPassThrough(t *testing.T) {
	rows := []map[string]string{
		{"customer_code": "C001"},
		{"customer_code": "C002", "email": "x@example.com"},
	}
	out := Deduplicate(rows)
	require.Len(t, out, 2)
	for _, c := range out {
		assert.False(t, c.CodesMerged)
		assert.Zero(t, c.DuplicateCount)
		assert.True(t, c.Contactable)
	}
}
