package utils

import "testing"

func TestCleanURIPath(t *testing.T) {
	tests := []struct {
		input    string
		wantPath string
		wantArgs string
	}{
		{"/path", "/path", ""},
		{"/path?query=1", "/path", "query=1"},
		{"/path?q=1&b=2", "/path", "q=1&b=2"},
		{"/path#fragment", "/path", ""},
		{"/path?q=1#fragment", "/path", "q=1"},
		{"/path//double", "/path/double", ""},
		{"/path/../parent", "/parent", ""},
		{"/static/../../admin", "/admin", ""},
		{"./relative", "/relative", ""},
		{"/dir/", "/dir/", ""},
		{"//", "/", ""},
		{"?only=args", "/", "only=args"},
		{"", "/", ""},
	}
	for _, tt := range tests {
		gotPath, gotArgs := CleanURIPath(tt.input)
		if gotPath != tt.wantPath || gotArgs != tt.wantArgs {
			t.Errorf("CleanURIPath(%q) = %q, %q; want %q, %q", tt.input, gotPath, gotArgs, tt.wantPath, tt.wantArgs)
		}
	}
}
