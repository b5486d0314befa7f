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

// Package validate derives per-probe validation words with a keyed PRF so
// responses can be checked without any per-probe state. The PRF is AES-128
// over a single block encoding of (saddr, daddr, dport); the four 32-bit
// output words are placed into protocol fields by the probe modules and
// recomputed on receive.
package validate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Words is the number of 32-bit validation words per probe.
const Words = 4

// Validator computes validation words under a process-wide key. It is
// immutable after construction and safe for concurrent use.
type Validator struct {
	block cipher.Block
}

// New creates a Validator keyed from the system CSPRNG.
func New() (*Validator, error) {
	var key [16]byte

	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("validate: key generation: %w", err)
	}

	return NewWithKey(key)
}

// NewWithKey creates a Validator with an explicit key. Tests use this to
// get deterministic words.
func NewWithKey(key [16]byte) (*Validator, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	return &Validator{block: block}, nil
}

// Gen computes the validation words for one IPv4 probe. saddr and daddr are
// host-order addresses; dport is the destination port.
func (v *Validator) Gen(saddr, daddr uint32, dport uint16) [Words]uint32 {
	var in, out [16]byte

	binary.BigEndian.PutUint32(in[0:4], saddr)
	binary.BigEndian.PutUint32(in[4:8], daddr)
	binary.BigEndian.PutUint16(in[8:10], dport)

	v.block.Encrypt(out[:], in[:])

	return split(out)
}

// GenIPv6 computes validation words for an IPv6 probe by folding both
// 128-bit addresses into the cipher block before keying in the port.
func (v *Validator) GenIPv6(saddr, daddr netip.Addr, dport uint16) [Words]uint32 {
	var in, out [16]byte

	s := saddr.As16()
	d := daddr.As16()

	for i := range in {
		in[i] = s[i] ^ d[i]
	}

	in[0] ^= byte(dport >> 8)
	in[1] ^= byte(dport)

	v.block.Encrypt(out[:], in[:])

	return split(out)
}

func split(out [16]byte) [Words]uint32 {
	return [Words]uint32{
		binary.BigEndian.Uint32(out[0:4]),
		binary.BigEndian.Uint32(out[4:8]),
		binary.BigEndian.Uint32(out[8:12]),
		binary.BigEndian.Uint32(out[12:16]),
	}
}
