package iprange

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"8.8.8.8", "8.8.8.8", true},
		{"cip-8.8.4.4", "8.8.4.4", true},
		{"  1.2.3.4\t", "1.2.3.4", true},
		{"010.001.0.255", "10.1.0.255", true},
		{"0.0.0.0", "0.0.0.0", true},
		{"255.255.255.255", "255.255.255.255", true},
		{"1.2.3", "", false},
		{"1.2.3.4.5", "", false},
		{"1.2.3.256", "", false},
		{"1.2.3.-1", "", false},
		{"1.2.+3.4", "", false},
		{"1..2.3", "", false},
		{"a.b.c.d", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAddress(tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrParse))
				var pe *ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.in, pe.Token)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.String())
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "1.2.3.4", "192.168.100.145", "255.255.255.255"} {
		a := MustParseAddress(s)
		assert.Equal(t, s, a.String())
		assert.Equal(t, s, a.Addr().String())
	}
	assert.Equal(t, Address(0xC0A80101), MustParseAddress("192.168.1.1"))
	assert.Equal(t, "192.168.1", MustParseAddress("192.168.1.77").Prefix24())
}

func TestExcludePolicy(t *testing.T) {
	assert.True(t, NetworkBroadcast.Excluded(MustParseAddress("1.2.3.0")))
	assert.True(t, NetworkBroadcast.Excluded(MustParseAddress("1.2.3.255")))
	assert.False(t, NetworkBroadcast.Excluded(MustParseAddress("1.2.3.1")))

	assert.True(t, GatewayBroadcast.Excluded(MustParseAddress("1.2.3.1")))
	assert.True(t, GatewayBroadcast.Excluded(MustParseAddress("1.2.3.255")))
	assert.False(t, GatewayBroadcast.Excluded(MustParseAddress("1.2.3.0")))

	assert.Equal(t, []uint8{0, 255}, NetworkBroadcast.Suffixes())
	assert.Empty(t, ExcludePolicy{}.Suffixes())
}

func TestIsPrivate(t *testing.T) {
	private := []string{
		"10.0.0.1", "10.255.255.254",
		"172.16.0.1", "172.31.255.254",
		"192.168.1.10",
		"127.0.0.1",
		"169.254.10.10",
		"100.64.0.1", "100.127.255.254",
	}
	public := []string{
		"8.8.8.8", "172.15.255.254", "172.32.0.1", "192.169.0.1",
		"169.253.0.1", "100.63.255.254", "100.128.0.1", "11.0.0.1",
	}
	for _, s := range private {
		assert.True(t, IsPrivate(MustParseAddress(s)), s)
	}
	for _, s := range public {
		assert.False(t, IsPrivate(MustParseAddress(s)), s)
	}
}

func TestFilterPrivate(t *testing.T) {
	in := []Address{
		MustParseAddress("8.8.8.8"),
		MustParseAddress("10.0.0.1"),
		MustParseAddress("1.1.1.1"),
		MustParseAddress("172.16.0.1"),
	}
	got := FilterPrivate(in)
	assert.Equal(t, []Address{MustParseAddress("8.8.8.8"), MustParseAddress("1.1.1.1")}, got)
}

func TestNormalize(t *testing.T) {
	addrs, bad := Normalize([]string{"cip-1.1.1.1", "junk", "2.2.2.2", "3.3.3"})
	assert.Equal(t, []Address{MustParseAddress("1.1.1.1"), MustParseAddress("2.2.2.2")}, addrs)
	require.Len(t, bad, 2)
	assert.Equal(t, "junk", bad[0].Token)
	assert.Equal(t, "3.3.3", bad[1].Token)
}
