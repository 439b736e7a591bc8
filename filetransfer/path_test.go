package filetransfer

import "testing"

func TestValidateRelativePathAccepts(t *testing.T) {
	for _, p := range []string{"a.txt", "docs/readme.md", "a/b/c.bin"} {
		if err := validateRelativePath(p); err != nil {
			t.Fatalf("validateRelativePath(%q) = %v, want nil", p, err)
		}
	}
}

func TestValidateRelativePathRejects(t *testing.T) {
	cases := []string{"", "/etc/passwd", "../escape.txt", "a/../../escape.txt", "a/./b.txt", "a/"}
	for _, p := range cases {
		if err := validateRelativePath(p); err == nil {
			t.Fatalf("validateRelativePath(%q) = nil, want error", p)
		}
	}
}

func TestSplitNameExt(t *testing.T) {
	cases := []struct {
		base     string
		wantName string
		wantExt  string
	}{
		{"readme.txt", "readme", ".txt"},
		{"archive.tar.gz", "archive.tar", ".gz"},
		{"noext", "noext", ""},
		{".bashrc", "", ".bashrc"},
	}
	for _, c := range cases {
		name, ext := splitNameExt(c.base)
		if name != c.wantName || ext != c.wantExt {
			t.Fatalf("splitNameExt(%q) = (%q, %q), want (%q, %q)", c.base, name, ext, c.wantName, c.wantExt)
		}
	}
}
