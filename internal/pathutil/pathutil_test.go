package pathutil

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "notes/lab1.ipynb", want: "notes/lab1.ipynb"},
		{in: "/notes/", want: "notes"},
		{in: "notes//lab1", want: "notes/lab1"},
		{in: "my\\ dir/file", want: "my dir/file"},
		{in: "./notes", want: "notes"},
		{in: "/", want: ""},
		{in: "  .gitignore ", want: ".gitignore"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateRelative(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "plain file", path: "lab01.ipynb"},
		{name: "nested", path: "materials/sp17/lab"},
		{name: "wildcard", path: "labs/*"},
		{name: "dots in name", path: "a..b/c"},
		{name: "empty", path: "", wantErr: true},
		{name: "blank", path: "   ", wantErr: true},
		{name: "absolute", path: "/etc/passwd", wantErr: true},
		{name: "parent traversal", path: "notes/../../etc", wantErr: true},
		{name: "leading parent", path: "../x", wantErr: true},
		{name: "backslash traversal", path: "a\\..\\b", wantErr: true},
		{name: "nul byte", path: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelative(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelative(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"demo", "data8assets", "repo.name"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) unexpected error: %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "a/b", "a\\b"} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) expected error", name)
		}
	}
}

func TestEscapeSpaces(t *testing.T) {
	got := EscapeSpaces("Lab 01/My Notebook.ipynb")
	want := "Lab\\ 01/My\\ Notebook.ipynb"
	if got != want {
		t.Errorf("EscapeSpaces = %q, want %q", got, want)
	}
}

func TestLiteralPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "labs/lab01", want: "labs/lab01"},
		{in: "labs/*", want: "labs"},
		{in: "labs/*.ipynb", want: "labs"},
		{in: "labs/lab0?/x", want: "labs"},
		{in: "*", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := LiteralPrefix(tt.in); got != tt.want {
				t.Errorf("LiteralPrefix(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripWildcards(t *testing.T) {
	if got := StripWildcards("labs/lab01/*"); got != "labs/lab01/" {
		t.Errorf("StripWildcards = %q", got)
	}
}

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("/user/{username}/tree/{destination}", map[string]string{
		"username":    "alice",
		"destination": "demo/notes/lab1.ipynb",
	})
	want := "/user/alice/tree/demo/notes/lab1.ipynb"
	if got != want {
		t.Errorf("RenderTemplate = %q, want %q", got, want)
	}

	// Unknown placeholders are left untouched
	if got := RenderTemplate("{a}/{b}", map[string]string{"a": "x"}); got != "x/{b}" {
		t.Errorf("RenderTemplate with unknown key = %q", got)
	}
}

func TestEscapeURLPath(t *testing.T) {
	if got := EscapeURLPath("demo/My Notes/lab 1.ipynb"); got != "demo/My%20Notes/lab%201.ipynb" {
		t.Errorf("EscapeURLPath = %q", got)
	}
}
