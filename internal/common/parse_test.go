package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBlockNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{input: "19000000", want: 19_000_000},
		{input: " 42\n", want: 42},
		{input: "0x121eac0", want: 19_000_000},
		{input: "0X1A", want: 26},
		{input: "0", want: 0},
		{input: "", wantErr: true},
		{input: "0x", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "12abc", wantErr: true},
		{input: "0xzz", wantErr: true},
		{input: "18446744073709551616", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBlockNumber(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestToLowerWithTrim(t *testing.T) {
	require.Equal(t, "erc20", ToLowerWithTrim("  ERC20 "))
	require.Equal(t, "group", ToLowerWithTrim("group"))
	require.Empty(t, ToLowerWithTrim(" \t"))
}
