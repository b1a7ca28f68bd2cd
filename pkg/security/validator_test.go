package security

import (
	"strings"
	"testing"
)

func TestValidateScratchPath_PathTraversal(t *testing.T) {
	v := NewValidator("/var/tmp/pool-check", 0)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"pool.xml", false},
		{"run-1/pool.xml", false},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/../pool.xml", false},
		{"dir/../../etc/passwd", true},
		{"..", true},
		{"..pool.xml", false},
	}

	for _, tt := range tests {
		got, err := v.ValidateScratchPath(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path: %s", tt.path)
		}
		if !tt.shouldErr {
			if err != nil {
				t.Errorf("unexpected error for path %s: %v", tt.path, err)
			} else if !strings.HasPrefix(got, "/var/tmp/pool-check/") {
				t.Errorf("path %s resolved outside scratch dir: %s", tt.path, got)
			}
		}
	}
}

func TestValidatePoolName(t *testing.T) {
	v := NewValidator("/tmp", 0)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{"virt_test_pool_tmp", false},
		{"pool2", false},
		{"pool.v1-a+b", false},
		{"", true},
		{"../pool", true},
		{"--all", true},
		{"pool name", true},
	}

	for _, tt := range tests {
		err := v.ValidatePoolName(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for name %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for name %q: %v", tt.name, err)
		}
	}
}

func TestValidateDescriptorSize(t *testing.T) {
	v := NewValidator("/tmp", 100)

	if err := v.ValidateDescriptorSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateDescriptorSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}
}
