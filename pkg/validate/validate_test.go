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

package validate

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGen_Deterministic(t *testing.T) {
	v, err := NewWithKey([16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	require.NoError(t, err)

	a := v.Gen(0x0a000001, 0xc0a80101, 443)
	b := v.Gen(0x0a000001, 0xc0a80101, 443)

	assert.Equal(t, a, b, "same inputs must give same words")
}

func TestGen_InputSensitivity(t *testing.T) {
	v, err := NewWithKey([16]byte{42})
	require.NoError(t, err)

	base := v.Gen(0x0a000001, 0xc0a80101, 443)

	tests := []struct {
		name  string
		saddr uint32
		daddr uint32
		dport uint16
	}{
		{"saddr differs", 0x0a000002, 0xc0a80101, 443},
		{"daddr differs", 0x0a000001, 0xc0a80102, 443},
		{"dport differs", 0x0a000001, 0xc0a80101, 444},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Gen(tt.saddr, tt.daddr, tt.dport)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestGen_KeySensitivity(t *testing.T) {
	v1, err := NewWithKey([16]byte{1})
	require.NoError(t, err)

	v2, err := NewWithKey([16]byte{2})
	require.NoError(t, err)

	assert.NotEqual(t,
		v1.Gen(0x0a000001, 0xc0a80101, 80),
		v2.Gen(0x0a000001, 0xc0a80101, 80))
}

func TestNew_RandomKeys(t *testing.T) {
	v1, err := New()
	require.NoError(t, err)

	v2, err := New()
	require.NoError(t, err)

	assert.NotEqual(t,
		v1.Gen(1, 2, 3),
		v2.Gen(1, 2, 3),
		"two fresh validators should practically never share a key")
}

func TestGenIPv6(t *testing.T) {
	v, err := NewWithKey([16]byte{7})
	require.NoError(t, err)

	src := netip.MustParseAddr("2001:db8::1")
	dst := netip.MustParseAddr("2001:db8::2")

	a := v.GenIPv6(src, dst, 53)
	b := v.GenIPv6(src, dst, 53)
	assert.Equal(t, a, b)

	c := v.GenIPv6(src, dst, 54)
	assert.NotEqual(t, a, c)
}

func BenchmarkGen(b *testing.B) {
	v, err := New()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = v.Gen(uint32(i), 0xc0a80101, 443)
	}
}
