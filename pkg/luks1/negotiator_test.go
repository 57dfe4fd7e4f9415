// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import "testing"

func TestNegotiateSuiteValid(t *testing.T) {
	cases := []struct {
		cipher, mode string
	}{
		{"aes", "xts-plain64"},
		{"aes", "cbc-essiv:sha256"},
		{"aes", "cbc-plain"},
		{"aes", "cbc-plain64"},
		{"aes", "ecb"},
		{"aes", "plain"},
		{"aes", "xts-essiv:sha256"},
		{"aes", "lrw-plain"},
		{"aes", "pcbc-plain"},
		{"twofish", "xts-plain64"},
		{"serpent", "cbc-essiv:sha256"},
	}
	for _, tc := range cases {
		t.Run(tc.cipher+"-"+tc.mode, func(t *testing.T) {
			if _, err := NegotiateSuite(tc.cipher, tc.mode); err != nil {
				t.Errorf("NegotiateSuite(%q, %q) failed: %v", tc.cipher, tc.mode, err)
			}
		})
	}
}

func TestNegotiateSuiteInvalid(t *testing.T) {
	cases := []struct {
		cipher, mode string
	}{
		{"rot13", "ecb"},
		{"aes", "gcm-plain"},
		{"aes", "xts-plain64extra"},
		{"cast5", "xts-plain64"}, // 8-byte block cipher can't drive XTS
		{"cast5", "lrw-benbi"},   // 8-byte block cipher can't drive LRW
		{"aes", "lrw-benbi"},     // lrw and benbi is an unsupported combination
		{"aes", "cbc-essiv"},     // essiv with no hash parameter
		{"aes", "cbc-essiv:rot13"},
	}
	for _, tc := range cases {
		t.Run(tc.cipher+"-"+tc.mode, func(t *testing.T) {
			if _, err := NegotiateSuite(tc.cipher, tc.mode); err == nil {
				t.Errorf("NegotiateSuite(%q, %q) unexpectedly succeeded", tc.cipher, tc.mode)
			}
		})
	}
}

func TestBenbiShift(t *testing.T) {
	cases := map[int]uint{16: 5, 8: 6}
	for blockSize, want := range cases {
		if got := benbiShift(blockSize); got != want {
			t.Errorf("benbiShift(%d) = %d, want %d", blockSize, got, want)
		}
	}
}
