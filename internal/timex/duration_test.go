package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "string minutes", input: `"5m"`, want: 5 * time.Minute},
		{name: "string compound", input: `"1m30s"`, want: 90 * time.Second},
		{name: "integer nanoseconds", input: `1000000000`, want: time.Second},
		{name: "bad string", input: `"soon"`, wantErr: true},
		{name: "wrong type", input: `true`, wantErr: true},
		{name: "broken json", input: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration{Duration: 90 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))
}
