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

package blocklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestNew_AllowMinusBlock(t *testing.T) {
	set, err := New([]string{"10.0.0.0/24"}, []string{"10.0.0.128/25"})
	require.NoError(t, err)

	assert.Equal(t, uint64(128), set.CountAllowed())
	assert.True(t, set.Allowed(addr(10, 0, 0, 0)))
	assert.True(t, set.Allowed(addr(10, 0, 0, 127)))
	assert.False(t, set.Allowed(addr(10, 0, 0, 128)))
	assert.False(t, set.Allowed(addr(10, 0, 0, 255)))
	assert.False(t, set.Allowed(addr(10, 0, 1, 0)))
}

func TestNew_DefaultAllowAll(t *testing.T) {
	set, err := New(nil, []string{"0.0.0.0/1"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1)<<31, set.CountAllowed())
	assert.False(t, set.Allowed(addr(10, 0, 0, 1)))
	assert.True(t, set.Allowed(addr(192, 168, 0, 1)))
}

func TestNew_EverythingBlocked(t *testing.T) {
	_, err := New([]string{"10.0.0.0/24"}, []string{"10.0.0.0/24"})
	assert.ErrorIs(t, err, ErrNoAddressesAllowed)
}

func TestNew_BadEntry(t *testing.T) {
	_, err := New([]string{"not-an-ip"}, nil)
	assert.ErrorIs(t, err, ErrNotIPv4)

	_, err = New([]string{"2001:db8::/64"}, nil)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestNew_BareAddressIsSlash32(t *testing.T) {
	set, err := New([]string{"192.0.2.1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), set.CountAllowed())
	assert.True(t, set.Allowed(addr(192, 0, 2, 1)))
}

func TestRank_OrdinalRoundTrip(t *testing.T) {
	set, err := New([]string{"10.0.0.0/30", "10.0.1.0/30"}, []string{"10.0.0.1/32"})
	require.NoError(t, err)

	// Allowed: 10.0.0.0, 10.0.0.2, 10.0.0.3, 10.0.1.0..3
	require.Equal(t, uint64(7), set.CountAllowed())

	want := []uint32{
		addr(10, 0, 0, 0),
		addr(10, 0, 0, 2),
		addr(10, 0, 0, 3),
		addr(10, 0, 1, 0),
		addr(10, 0, 1, 1),
		addr(10, 0, 1, 2),
		addr(10, 0, 1, 3),
	}

	for ord, wantAddr := range want {
		got, err := set.Rank(uint64(ord))
		require.NoError(t, err)
		assert.Equal(t, wantAddr, got, "ordinal %d", ord)

		back, ok := set.Ordinal(got)
		require.True(t, ok)
		assert.Equal(t, uint64(ord), back)
	}

	_, err = set.Rank(7)
	assert.ErrorIs(t, err, ErrOrdinalOutOfRange)

	_, ok := set.Ordinal(addr(10, 0, 0, 1))
	assert.False(t, ok, "blocked address has no ordinal")
}

func TestMerge_AdjacentAndOverlapping(t *testing.T) {
	set, err := New([]string{"10.0.0.0/25", "10.0.0.128/25", "10.0.0.64/26"}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(256), set.CountAllowed())
}

func TestNewFromFiles(t *testing.T) {
	dir := t.TempDir()

	allowPath := filepath.Join(dir, "allow.conf")
	require.NoError(t, os.WriteFile(allowPath, []byte(
		"# lab ranges\n10.0.0.0/24\n\n192.0.2.0/28 # docs net\n"), 0o600))

	blockPath := filepath.Join(dir, "block.conf")
	require.NoError(t, os.WriteFile(blockPath, []byte("10.0.0.0/25\n"), 0o600))

	set, err := NewFromFiles(allowPath, blockPath)
	require.NoError(t, err)

	assert.Equal(t, uint64(128+16), set.CountAllowed())
	assert.False(t, set.Allowed(addr(10, 0, 0, 1)))
	assert.True(t, set.Allowed(addr(10, 0, 0, 200)))
	assert.True(t, set.Allowed(addr(192, 0, 2, 5)))
}

func TestIPSet(t *testing.T) {
	s := NewIPSet()

	assert.False(t, s.Contains(addr(10, 0, 0, 1)))

	s.Add(addr(10, 0, 0, 1))
	s.Add(addr(10, 0, 0, 1))
	s.Add(addr(203, 0, 113, 9))

	assert.True(t, s.Contains(addr(10, 0, 0, 1)))
	assert.True(t, s.Contains(addr(203, 0, 113, 9)))
	assert.False(t, s.Contains(addr(10, 0, 0, 2)))
	assert.Equal(t, uint64(2), s.Len())
}

func TestLoadIPSet(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "ips.txt")
	require.NoError(t, os.WriteFile(path, []byte("192.0.2.1\n# comment\n192.0.2.7\n"), 0o600))

	s, err := LoadIPSet(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), s.Len())
	assert.True(t, s.Contains(addr(192, 0, 2, 7)))
}
