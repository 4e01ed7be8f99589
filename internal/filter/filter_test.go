package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
		want    map[string]string
	}{
		{name: "empty", raw: "", want: map[string]string{}},
		{name: "single equals", raw: "K1=V1", want: map[string]string{"K1": "V1"}},
		{name: "mixed delimiters", raw: "K1=V1,K2:V2", want: map[string]string{"K1": "V1", "K2": "V2"}},
		{name: "blank segments skipped", raw: ",K1=V1,,K2=V2,", want: map[string]string{"K1": "V1", "K2": "V2"}},
		{name: "lowercase keys and values are canonicalized", raw: "k1=v1", want: map[string]string{"K1": "V1"}},
		{name: "missing delimiter is an error", raw: "bad", wantErr: true},
		{name: "empty value is an error", raw: "K1=", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, err := Parse(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, label.AsMap())
		})
	}
}

func TestDefaultFilterOut(t *testing.T) {
	d := Default{}

	t.Run("no required attributes never drops", func(t *testing.T) {
		drop, err := d.FilterOut("", false, nil)
		require.NoError(t, err)
		assert.False(t, drop)
	})

	t.Run("absent label drops when attributes are required", func(t *testing.T) {
		drop, err := d.FilterOut("", false, []Attribute{{Key: "CLASSIFICATION", Value: "SECRET"}})
		require.NoError(t, err)
		assert.True(t, drop)
	})

	t.Run("matching attribute keeps", func(t *testing.T) {
		drop, err := d.FilterOut("classification=secret", true, []Attribute{{Key: "CLASSIFICATION", Value: "SECRET"}})
		require.NoError(t, err)
		assert.False(t, drop)
	})

	t.Run("mismatched attribute drops", func(t *testing.T) {
		drop, err := d.FilterOut("classification=unclassified", true, []Attribute{{Key: "CLASSIFICATION", Value: "SECRET"}})
		require.NoError(t, err)
		assert.True(t, drop)
	})

	t.Run("required attribute absent from label is permissive", func(t *testing.T) {
		drop, err := d.FilterOut("OTHER=X", true, []Attribute{{Key: "CLASSIFICATION", Value: "SECRET"}})
		require.NoError(t, err)
		assert.False(t, drop)
	})
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("missing")
	assert.False(t, ok)

	custom := Default{}
	r.Register("custom", custom)
	got, ok := r.Resolve("custom")
	require.True(t, ok)
	assert.Equal(t, custom, got)
}
