package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const windowsIPConfig = `
Windows IP Configuration


Ethernet adapter Ethernet:

   Connection-specific DNS Suffix  . : lan
   Link-local IPv6 Address . . . . . : fe80::1c2d:3e4f:5a6b:7c8d%12
   IPv4 Address. . . . . . . . . . . : 192.168.1.23
   Subnet Mask . . . . . . . . . . . : 255.255.255.0
   Default Gateway . . . . . . . . . : fe80::1%12
                                       192.168.1.1

Wireless LAN adapter Wi-Fi:

   Media State . . . . . . . . . . . : Media disconnected
   Connection-specific DNS Suffix  . :
`

const windowsNoGatewayFirst = "Ethernet adapter vEthernet (WSL):\r\n\r\n" +
	"   IPv4 Address. . . . . . . . . . . : 172.24.16.1\r\n" +
	"   Default Gateway . . . . . . . . . :\r\n" +
	"\r\n" +
	"Ethernet adapter Ethernet:\r\n\r\n" +
	"   IPv4 Address. . . . . . . . . . . : 10.10.0.42\r\n" +
	"   Default Gateway . . . . . . . . . : 10.10.0.1\r\n"

const linuxIPRoute = "default via 192.168.0.254 dev wlp2s0 proto dhcp src 192.168.0.17 metric 600\n"

const darwinRouteGet = `   route to: default
destination: default
       mask: default
    gateway: 10.0.1.1
  interface: en0
      flags: <UP,GATEWAY,DONE,STATIC,PRCLONING>
`

func TestParseDefaultGateway(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
		found bool
	}{
		"same line": {
			input: "Default Gateway . . . . . . . . . : 10.0.0.1",
			want:  "10.0.0.1",
			found: true,
		},
		"next line": {
			input: "Default Gateway . . . . . . . . . :\n10.0.0.1\n",
			want:  "10.0.0.1",
			found: true,
		},
		"ipv6 then ipv4 on next line": {
			input: windowsIPConfig,
			want:  "192.168.1.1",
			found: true,
		},
		"empty marker abandoned for later adapter": {
			input: windowsNoGatewayFirst,
			want:  "10.10.0.1",
			found: true,
		},
		"linux via": {
			input: linuxIPRoute,
			want:  "192.168.0.254",
			found: true,
		},
		"bsd gateway label": {
			input: darwinRouteGet,
			want:  "10.0.1.1",
			found: true,
		},
		"no marker": {
			input: "IPv4 Address. . . . . . . . . . . : 192.168.1.23\nSubnet Mask . . . : 255.255.255.0\n",
		},
		"marker without address": {
			input: "Default Gateway . . . . . . . . . :\n\nSubnet Mask\n",
		},
		"empty": {
			input: "",
		},
		"only ipv6 gateway": {
			input: "Default Gateway . . . . . . . . . : fe80::1%12\n",
		},
		"invalid octets": {
			input: "Default Gateway . . . : 300.1.1.1\n",
		},
		"invalid utf-8 before via": {
			input: strings.Repeat("\xff", 8) + " via",
		},
		"invalid utf-8 before via with address": {
			input: strings.Repeat("\xff", 8) + " via 192.168.0.1 dev eth0\n",
			want:  "192.168.0.1",
			found: true,
		},
		"oem codepage adapter name before default gateway": {
			input: "LAN-Verbindung \x84\x84\x84\x84\x84\x84 Default Gateway . . : 10.0.0.1\n",
			want:  "10.0.0.1",
			found: true,
		},
		"dotted capital i before gateway label": {
			input: "İİİİ gateway: 10.0.1.1\n",
			want:  "10.0.1.1",
			found: true,
		},
		"multi-byte text before default gateway on next line": {
			input: "Passerelle par défaut İ Default Gateway . . :\n   172.16.0.1\n",
			want:  "172.16.0.1",
			found: true,
		},
		"invalid utf-8 as whole output": {
			input: "\xff\xfe\xfd\n\x84\x84",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseDefaultGateway(tc.input)
			require.Equal(t, tc.found, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseLookaheadIsSingleLine(t *testing.T) {
	input := "Default Gateway . . . :\n   (none)\n   192.168.1.1\n"
	_, ok := ParseDefaultGateway(input)
	require.False(t, ok, "address two lines below the marker must not be picked up")
}

func TestParseLookaheadSkipsMarkerLine(t *testing.T) {
	input := "Default Gateway . . . :\nDefault Gateway . . . : 172.16.0.1\n"
	got, ok := ParseDefaultGateway(input)
	require.True(t, ok)
	require.Equal(t, "172.16.0.1", got)
}

func TestParseFirstMatchWins(t *testing.T) {
	input := "Default Gateway . . . : 10.0.0.1\nDefault Gateway . . . : 10.0.0.2\n"
	got, ok := ParseDefaultGateway(input)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", got)
}

func TestMarkerRequiresWordBoundary(t *testing.T) {
	_, ok := ParseDefaultGateway("aviation 10.0.0.1\n")
	require.False(t, ok)
}

func TestStrategiesUseOwnMarkers(t *testing.T) {
	win, ok := StrategyFor("windows")
	require.True(t, ok)
	_, found := win.Parse(linuxIPRoute)
	require.False(t, found)

	linux, ok := StrategyFor("linux")
	require.True(t, ok)
	addr, found := linux.Parse(linuxIPRoute)
	require.True(t, found)
	require.Equal(t, "192.168.0.254", addr)

	darwin, ok := StrategyFor("darwin")
	require.True(t, ok)
	name, args := darwin.Command()
	require.Equal(t, "route", name)
	require.Equal(t, []string{"-n", "get", "default"}, args)
}
