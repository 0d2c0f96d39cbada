package canonical

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysAndStripsWhitespace(t *testing.T) {
	in := map[string]interface{}{
		"zeta":  1,
		"alpha": "x",
		"mid":   map[string]interface{}{"b": 2, "a": 1},
	}

	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","mid":{"a":1,"b":2},"zeta":1}`, string(out))
}

func TestMarshal_Deterministic(t *testing.T) {
	type payload struct {
		Title       string  `json:"title"`
		Probability float64 `json:"probability"`
		Volume      float64 `json:"volume"`
	}
	p := payload{Title: "Red Sea shipping halt", Probability: 0.62, Volume: 500000}

	first, err := Marshal(p)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Marshal(p)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestMarshal_FloatShortestRoundTrip(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.62, "0.62"},
		{0.1, "0.1"},
		{1.0, "1"},
		{500000, "500000"},
		{0.0000001, "1e-7"},
		{1e21, "1e+21"},
		{0, "0"},
	}
	for _, tc := range cases {
		out, err := Marshal(map[string]interface{}{"v": tc.in})
		require.NoError(t, err)
		assert.Equal(t, `{"v":`+tc.want+`}`, string(out), "float %v", tc.in)
	}
}

func TestFormatFloat_RoundTrips(t *testing.T) {
	values := []float64{0.62, 0.4, 0.7, 1.0 / 3.0, 0.1 + 0.2, 1e-9, 123456.789}
	for _, f := range values {
		s := FormatFloat(f)
		back, err := strconv.ParseFloat(s, 64)
		require.NoError(t, err)
		assert.Equal(t, f, back, "format %q must round-trip", s)
	}
}

func TestHashTruncated_Length(t *testing.T) {
	h, err := HashTruncated(map[string]interface{}{"event_id": "pm-1"}, 16)
	require.NoError(t, err)
	assert.Len(t, h, 16)

	full, err := Hash(map[string]interface{}{"event_id": "pm-1"})
	require.NoError(t, err)
	assert.Len(t, full, 64)
	assert.Equal(t, full[:16], h)
}

func TestMarshal_NumbersInsideMetadataStayIntegers(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"count": int64(7), "ratio": 0.5})
	require.NoError(t, err)
	assert.Equal(t, `{"count":7,"ratio":0.5}`, string(out))
}
