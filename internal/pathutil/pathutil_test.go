package pathutil

import (
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"null byte", "a\x00b", true},
		{"simple segment", "..", true},
		{"leading segment", "../foo", true},
		{"middle segment", "foo/../bar", true},
		{"valid relative", "provincias/provincias.zip", false},
		{"valid nested", "calles/02/calles.shp", false},
		{"single segment", "provincias.json", false},
		{"dots in name", "report..json", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilePath(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArchiveEntry(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"provincias.shp", false},
		{"dir/provincias.dbf", false},
		{"/etc/passwd", true},
		{"C:/Windows/x", true},
		{"../escape.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArchiveEntry(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArchiveEntry(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b", "a/b", false},
		{"/a/b", "a/b", false},
		{"a//b/./c", "a/b/c", false},
		{"a/../b", "", true},
	}
	for _, tt := range tests {
		got, err := Clean(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Clean(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripExt(t *testing.T) {
	if got := StripExt("calles/calles_02.zip"); got != "calles/calles_02" {
		t.Errorf("StripExt = %q", got)
	}
	if got := StripExt("noext"); got != "noext" {
		t.Errorf("StripExt = %q", got)
	}
}
