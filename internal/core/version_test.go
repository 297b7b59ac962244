package core

import "testing"

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "tagged release with v prefix",
			input: "v1.4.0",
			want:  "1.4.0",
		},
		{
			name:  "tagged release without v prefix",
			input: "1.4.0",
			want:  "1.4.0",
		},
		{
			name:  "devel with sha",
			input: "devel-ad721b3",
			want:  "devel-ad721b3",
		},
		{
			name:  "plain devel",
			input: "devel",
			want:  "devel",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatVersion(tt.input)
			if got != tt.want {
				t.Errorf("FormatVersion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsPseudoVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{
			name:  "pseudo-version without tag",
			input: "v0.0.0-20240101120000-abcdef123456",
			want:  true,
		},
		{
			name:  "pseudo-version with build metadata",
			input: "v0.0.0-20240101120000-abcdef123456+incompatible",
			want:  true,
		},
		{
			name:  "tagged release",
			input: "v1.4.0",
			want:  false,
		},
		{
			name:  "prerelease tag",
			input: "v1.4.0-beta.1",
			want:  false,
		},
		{
			name:  "hash too short",
			input: "v0.0.0-20240101120000-abcdef12",
			want:  false,
		},
		{
			name:  "hash with non-hex characters",
			input: "v0.0.0-20240101120000-abcdefz23456",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPseudoVersion(tt.input)
			if got != tt.want {
				t.Errorf("isPseudoVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
