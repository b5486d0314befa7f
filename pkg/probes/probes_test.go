/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package probes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettrawl/nettrawl/pkg/validate"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"tcp_synscan", "icmp_echo", "udp", "dns", "ipv6_udp"} {
		m, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, m.Name())
	}

	_, err := Lookup("no_such_module")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestNames_Sorted(t *testing.T) {
	names := Names()
	require.NotEmpty(t, names)

	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestSourcePort_InWindow(t *testing.T) {
	var v [validate.Words]uint32

	v[1] = 12345

	for probe := 0; probe < 8; probe++ {
		port := SourcePort(32768, 1000, v, probe)
		assert.GreaterOrEqual(t, port, uint16(32768))
		assert.Less(t, port, uint16(32768+1000))
	}
}

func TestCheckSourcePort(t *testing.T) {
	const (
		first    = uint16(32768)
		last     = uint16(33767)
		numPorts = 1000
	)

	var v [validate.Words]uint32

	v[1] = 0xdeadbeef

	tests := []struct {
		name    string
		streams int
	}{
		{"one stream", 1},
		{"three streams", 3},
		// v[1] puts the window at offset 559; 442 streams run to offset 0.
		{"window wraps", 442},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for probe := 0; probe < tt.streams; probe++ {
				port := SourcePort(first, numPorts, v, probe)
				assert.True(t, CheckSourcePort(port, first, last, numPorts, tt.streams, v),
					"port picked by SourcePort must validate (probe %d)", probe)
			}

			// A port outside the expected stream window must fail.
			outside := SourcePort(first, numPorts, v, tt.streams+5)
			assert.False(t, CheckSourcePort(outside, first, last, numPorts, tt.streams, v))
		})
	}

	assert.False(t, CheckSourcePort(first-1, first, last, numPorts, 1, v), "below range")
	assert.False(t, CheckSourcePort(last+1, first, last, numPorts, 1, v), "above range")
}

func TestCheckSourcePort_WrapAround(t *testing.T) {
	// v[1] chosen so the stream window straddles the end of the port range.
	var v [validate.Words]uint32

	v[1] = 998 // offsets 998, 999, 0 with 3 streams over 1000 ports

	const (
		first    = uint16(40000)
		last     = uint16(40999)
		numPorts = 1000
	)

	for probe := 0; probe < 3; probe++ {
		port := SourcePort(first, numPorts, v, probe)
		assert.True(t, CheckSourcePort(port, first, last, numPorts, 3, v), "probe %d", probe)
	}

	assert.False(t, CheckSourcePort(first+500, first, last, numPorts, 3, v))
}

func TestChecksum(t *testing.T) {
	// RFC 1071 example bytes.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, uint16(0x220d), Checksum(data))

	// Odd length pads with a zero byte.
	odd := []byte{0x01}
	assert.Equal(t, ^uint16(0x0100), Checksum(odd))
}

func TestParseIPv4_Errors(t *testing.T) {
	_, err := ParseIPv4(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortIPv4Header)

	bad := make([]byte, 20)
	bad[0] = 0x60
	_, err = ParseIPv4(bad)
	assert.ErrorIs(t, err, ErrNotIPv4)

	badIHL := make([]byte, 20)
	badIHL[0] = 0x4f // ihl 15 -> 60 bytes, longer than slice
	_, err = ParseIPv4(badIHL)
	assert.ErrorIs(t, err, ErrBadIPv4HeaderLength)
}

func TestICMPUnreachString(t *testing.T) {
	assert.Equal(t, "port-unreach", ICMPUnreachString(3))
	assert.Equal(t, "network-unreach", ICMPUnreachString(0))
	assert.Equal(t, "unreach-code-99", ICMPUnreachString(99))
}
