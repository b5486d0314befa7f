//go:build !linux

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

package rawsock

// PacketSender is unavailable off Linux; dry-run mode still works
// everywhere.
type PacketSender struct{}

func NewPacketSender(_ string, _ int) (*PacketSender, error) {
	return nil, ErrUnsupportedOS
}

func (*PacketSender) SendBatch(_ *Batch, _ int) (int, error) {
	return 0, ErrUnsupportedOS
}

func (*PacketSender) Close() error { return nil }
