package driver

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{name: "google chrome", output: "Google Chrome 120.0.6099.109 \n", want: "120.0.6099.109"},
		{name: "chromium distro suffix", output: "Chromium 119.0.6045.159 built on Debian 12.2, running on Debian 12.2", want: "119.0.6045.159"},
		{name: "chromedriver", output: "ChromeDriver 120.0.6099.109 (3419140ab665596f21b385ce136419fde0924272-refs/branch-heads/6099@{#1483})", want: "120.0.6099.109"},
		{name: "two components", output: "Browser 12.3", want: "12.3"},
		{name: "no version", output: "command not found", wantErr: true},
		{name: "bare integer is not a version", output: "build 42", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMajorVersion(t *testing.T) {
	if m, err := MajorVersion("120.0.6099.109"); err != nil || m != 120 {
		t.Errorf("MajorVersion() = %d, %v", m, err)
	}
	if _, err := MajorVersion("stable"); err == nil {
		t.Error("expected error for non-numeric version")
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"120.0.6099.109", "120.0.6099.71", 1},
		{"120.0.6099.71", "120.0.6099.109", -1},
		{"120.0.1", "120.0.1", 0},
		{"120.0", "120.0.0.1", -1},
		{"121.0.0.0", "120.9.9999.9", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
