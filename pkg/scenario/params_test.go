package scenario

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/security"
)

func TestParams_Validate(t *testing.T) {
	v := security.NewValidator(t.TempDir(), 0)

	valid := DefaultParams()
	valid.DescriptorPath = "/tmp/pool.xml"

	tests := []struct {
		name    string
		modify  func(p *Params)
		wantErr bool
	}{
		{"valid", func(p *Params) {}, false},
		{"placeholder", func(p *Params) { p.DescriptorPath = PlaceholderPath }, true},
		{"empty path", func(p *Params) { p.DescriptorPath = "" }, true},
		{"bad pool name", func(p *Params) { p.PoolName = "../etc" }, true},
		{"option-like name", func(p *Params) { p.PoolName = "--all" }, true},
		{"unknown mutation", func(p *Params) { p.Mutation = "target" }, true},
		{"source without replacement", func(p *Params) { p.Mutation = descriptor.MutationDuplicateSource }, true},
		{"source with replacement", func(p *Params) {
			p.Mutation = descriptor.MutationDuplicateSource
			p.ReplacementName = "pool2"
		}, false},
		{"unbalanced quotes", func(p *Params) { p.ExtraFlags = `--build "x` }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			err := p.Validate(v)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParams_ExtraArgs(t *testing.T) {
	p := DefaultParams()
	p.ExtraFlags = `--build --source-host "my host"`

	got, err := p.ExtraArgs()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"--build", "--source-host", "my host"}, got); diff != "" {
		t.Errorf("ExtraArgs mismatch (-want +got):\n%s", diff)
	}

	p.ExtraFlags = "   "
	if got, err := p.ExtraArgs(); err != nil || got != nil {
		t.Errorf("blank flags should give no args, got %v, %v", got, err)
	}
}

func TestParams_CreatedName(t *testing.T) {
	p := DefaultParams()
	p.PoolName = "pool1"
	p.ReplacementName = "pool2"
	p.Mutation = "source"

	if got := p.CreatedName(); got != "pool1" {
		t.Errorf("without a pre-defined pool the name is unchanged, got %s", got)
	}

	p.PreDefinedPool = true
	if got := p.CreatedName(); got != "pool2" {
		t.Errorf("CreatedName = %s, want pool2", got)
	}
	if p.MutationKind() != descriptor.MutationDuplicateSource {
		t.Errorf("MutationKind = %s", p.MutationKind())
	}
}
