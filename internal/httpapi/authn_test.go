package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer abc.def.ghi", "abc.def.ghi", false},
		{"  Bearer   spaced  ", "spaced", false},
		{"", "", true},
		{"Basic dXNlcjpwYXNz", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("extractBearerToken(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("extractBearerToken(%q): %v", tc.header, err)
		}
		if token != tc.token {
			t.Fatalf("extractBearerToken(%q) = %q, want %q", tc.header, token, tc.token)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/healthz", "/readyz", "/metrics", "/api/account/reset-password/init"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Fatalf("%s should be public", p)
		}
	}
	private := []string{"/api/account/status", "/api/admin/users", "/api/authenticate"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Fatalf("%s should require a token", p)
		}
	}
}
