package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/virtqa/pool-create-check/pkg/backing"
	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/provision"
	"github.com/virtqa/pool-create-check/pkg/security"
	"github.com/virtqa/pool-create-check/pkg/storage"
	"github.com/virtqa/pool-create-check/pkg/virsh"
	"libvirt.org/go/libvirtxml"
)

type hostPool struct {
	uuid   string
	xml    string
	active bool
}

// fakeHost is an in-memory pool manager implementing Provisioner and Creator.
type fakeHost struct {
	pools map[string]*hostPool

	failOn   map[string]error
	panicOn  string
	reuseOld bool

	teardowns   int
	removed     []string
	destroyed   []string
	released    []*backing.Device
	createFiles []string
	createDocs  []string
	readonly    bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{pools: make(map[string]*hostPool), failOn: make(map[string]error)}
}

func (h *fakeHost) hook(op string) error {
	if h.panicOn == op {
		panic(op + " exploded")
	}
	return h.failOn[op]
}

func (h *fakeHost) Exists(ctx context.Context, name string) (bool, error) {
	if err := h.hook("exists"); err != nil {
		return false, err
	}
	_, ok := h.pools[name]
	return ok, nil
}

func (h *fakeHost) Provision(ctx context.Context, spec provision.Spec) (*provision.Pool, error) {
	if err := h.hook("provision"); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	format := ""
	if spec.SourceFormat != "" {
		format = fmt.Sprintf("\n    <format type='%s'/>", spec.SourceFormat)
	}
	doc := fmt.Sprintf(`<pool type='%s'>
  <name>%s</name>
  <uuid>%s</uuid>
  <source>
    <dir path='%s'/>%s
  </source>
  <target>
    <path>/var/tmp/%s</path>
  </target>
</pool>`, spec.Type, spec.Name, id, spec.SourcePath, format, spec.TargetPath)
	h.pools[spec.Name] = &hostPool{uuid: id, xml: doc, active: true}
	return &provision.Pool{Name: spec.Name, Type: spec.Type, TargetPath: spec.TargetPath}, nil
}

func (h *fakeHost) Dump(ctx context.Context, pool *provision.Pool) (string, error) {
	if err := h.hook("dump"); err != nil {
		return "", err
	}
	p, ok := h.pools[pool.Name]
	if !ok {
		return "", fmt.Errorf("pool %s not found", pool.Name)
	}
	return p.xml, nil
}

func (h *fakeHost) UUID(ctx context.Context, pool *provision.Pool) (string, error) {
	p, ok := h.pools[pool.Name]
	if !ok {
		return "", fmt.Errorf("pool %s not found", pool.Name)
	}
	return p.uuid, nil
}

func (h *fakeHost) Inspect(ctx context.Context, name string) (*virsh.PoolInfo, error) {
	p, ok := h.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %s not found", name)
	}
	state := "inactive"
	if p.active {
		state = "running"
	}
	return &virsh.PoolInfo{Name: name, UUID: p.uuid, State: state}, nil
}

func (h *fakeHost) DestroyTransient(ctx context.Context, name string) error {
	if err := h.hook("destroy"); err != nil {
		return err
	}
	h.destroyed = append(h.destroyed, name)
	delete(h.pools, name)
	return nil
}

func (h *fakeHost) RemovePool(ctx context.Context, name string) error {
	if err := h.hook("remove"); err != nil {
		return err
	}
	h.removed = append(h.removed, name)
	delete(h.pools, name)
	return nil
}

func (h *fakeHost) ProvisionDevice(ctx context.Context, name string) (*backing.Device, error) {
	return &backing.Device{Name: name, Path: "/dev/disk/by-path/" + name}, nil
}

func (h *fakeHost) ReleaseDevice(ctx context.Context, dev *backing.Device) error {
	if dev != nil {
		h.released = append(h.released, dev)
	}
	return nil
}

func (h *fakeHost) Teardown(ctx context.Context, pool *provision.Pool) error {
	h.teardowns++
	if pool == nil {
		return nil
	}
	if err := h.hook("teardown"); err != nil {
		return err
	}
	delete(h.pools, pool.Name)
	return nil
}

func (h *fakeHost) PoolCreate(ctx context.Context, file string, extra []string, readonly bool) (*virsh.Result, error) {
	if err := h.hook("create"); err != nil {
		return nil, err
	}
	h.createFiles = append(h.createFiles, file)
	h.readonly = readonly

	data, err := os.ReadFile(file)
	if err != nil {
		return &virsh.Result{ExitStatus: 1, Stderr: "error: Failed to open file"}, nil
	}
	h.createDocs = append(h.createDocs, string(data))
	if readonly {
		return &virsh.Result{ExitStatus: 1, Stderr: "error: operation forbidden: read only access prevents virStoragePoolCreateXML"}, nil
	}

	doc := &libvirtxml.StoragePool{}
	if err := doc.Unmarshal(string(data)); err != nil {
		return &virsh.Result{ExitStatus: 1, Stderr: "error: (pool_definition):1: parser error"}, nil
	}
	if _, ok := h.pools[doc.Name]; ok {
		return &virsh.Result{ExitStatus: 1, Stderr: fmt.Sprintf("error: pool '%s' already exists", doc.Name)}, nil
	}

	id := doc.UUID
	for _, p := range h.pools {
		if id != "" && p.uuid == id {
			return &virsh.Result{ExitStatus: 1, Stderr: fmt.Sprintf("error: pool uuid %s already in use", id)}, nil
		}
		if h.reuseOld {
			id = p.uuid
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	h.pools[doc.Name] = &hostPool{uuid: id, xml: string(data), active: true}
	return &virsh.Result{ExitStatus: 0}, nil
}

type recordingSink struct {
	checkpoints []string
	reports     []Verdict
	final       *State
}

func (s *recordingSink) Checkpoint(ctx context.Context, st *State) {
	s.checkpoints = append(s.checkpoints, st.Phase)
}

func (s *recordingSink) Report(ctx context.Context, st *State, v Verdict) {
	s.reports = append(s.reports, v)
	s.final = st
}

type harness struct {
	host    *fakeHost
	sink    *recordingSink
	scratch string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		host:    newFakeHost(),
		sink:    &recordingSink{},
		scratch: filepath.Join(t.TempDir(), "scratch"),
	}
}

func (h *harness) run(t *testing.T, p Params) Verdict {
	t.Helper()
	validator := security.NewValidator(h.scratch, 0)
	r := NewRunner("run-1", p, h.host, h.host, &storage.Fetcher{}, validator, h.sink)
	v := r.Run(context.Background(), Sequential{})

	if len(h.sink.reports) != 1 {
		t.Fatalf("expected exactly one report, got %d", len(h.sink.reports))
	}
	if h.host.teardowns != 1 {
		t.Fatalf("expected cleanup to run once, got %d", h.host.teardowns)
	}
	return v
}

func (h *harness) scratchFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func predefined(name string, kind descriptor.MutationKind) Params {
	p := DefaultParams()
	p.DescriptorPath = "pre-defined"
	p.PoolName = name
	p.PreDefinedPool = true
	p.Mutation = kind
	return p
}

func TestRun_MalformedExpectFailurePasses(t *testing.T) {
	h := newHarness(t)
	p := DefaultParams()
	p.DescriptorPath = MalformedSentinel
	p.ExpectFailure = true

	v := h.run(t, p)
	if v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if len(h.host.createFiles) != 1 || !strings.HasSuffix(h.host.createFiles[0], "run-1-invalid.xml") {
		t.Errorf("create should read the corrupted file, got %v", h.host.createFiles)
	}
	if h.host.createDocs[0] != descriptor.Corrupt() {
		t.Errorf("unexpected create input %q", h.host.createDocs[0])
	}
	if files := h.scratchFiles(t); len(files) != 0 {
		t.Errorf("scratch files left behind: %v", files)
	}
}

func TestRun_DuplicateSourceCreatesSecondPool(t *testing.T) {
	h := newHarness(t)
	p := predefined("pool1", descriptor.MutationDuplicateSource)
	p.ReplacementName = "pool2"

	v := h.run(t, p)
	if v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}

	derived := &libvirtxml.StoragePool{}
	if err := derived.Unmarshal(h.host.createDocs[0]); err != nil {
		t.Fatalf("derived descriptor does not parse: %v", err)
	}
	if derived.Name != "pool2" {
		t.Errorf("derived name = %s", derived.Name)
	}
	if derived.UUID != "" {
		t.Errorf("derived descriptor still has uuid %s", derived.UUID)
	}
	if derived.Source == nil || derived.Source.Dir == nil || derived.Source.Dir.Path != "/" {
		t.Errorf("source not preserved: %+v", derived.Source)
	}

	st := h.sink.final
	if st.CreatedName != "pool2" || st.NewUUID == "" || st.NewUUID == st.OldUUID {
		t.Errorf("unexpected created pool: name=%s new=%s old=%s", st.CreatedName, st.NewUUID, st.OldUUID)
	}
	if len(h.host.destroyed) != 0 {
		t.Errorf("original pool should stay up, destroyed %v", h.host.destroyed)
	}
	if len(h.host.pools) != 0 {
		t.Errorf("pools left behind: %v", h.host.pools)
	}
}

func TestRun_MutationNoneRecreatesPool(t *testing.T) {
	h := newHarness(t)
	v := h.run(t, predefined("pool1", descriptor.MutationNone))
	if v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if len(h.host.destroyed) != 1 || h.host.destroyed[0] != "pool1" {
		t.Errorf("original pool should be destroyed before creation, got %v", h.host.destroyed)
	}
	if strings.Contains(h.host.createDocs[0], "<uuid>") {
		t.Errorf("creation input still carries a uuid:\n%s", h.host.createDocs[0])
	}
	if len(h.host.pools) != 0 {
		t.Errorf("pools left behind: %v", h.host.pools)
	}
}

func TestRun_DuplicateName(t *testing.T) {
	t.Run("expect failure", func(t *testing.T) {
		h := newHarness(t)
		p := predefined("pool1", descriptor.MutationDuplicateName)
		p.ExpectFailure = true
		if v := h.run(t, p); v.Status != StatusPass {
			t.Fatalf("expected pass, got %s", v)
		}
	})

	t.Run("expect success", func(t *testing.T) {
		h := newHarness(t)
		v := h.run(t, predefined("pool1", descriptor.MutationDuplicateName))
		if v.Status != StatusFail {
			t.Fatalf("expected fail, got %s", v)
		}
		if !strings.Contains(v.Stderr, "already exists") {
			t.Errorf("stderr not carried: %q", v.Stderr)
		}
		if len(h.host.removed) != 0 {
			t.Errorf("the handle owns pool1, cleanup removed %v", h.host.removed)
		}
	})

	t.Run("duplicate uuid keeps the original up", func(t *testing.T) {
		h := newHarness(t)
		p := predefined("pool1", descriptor.MutationDuplicateUUID)
		p.ExpectFailure = true
		if v := h.run(t, p); v.Status != StatusPass {
			t.Fatalf("expected pass, got %s", v)
		}
		if len(h.host.destroyed) != 0 {
			t.Errorf("original pool should stay up, destroyed %v", h.host.destroyed)
		}
		if strings.Contains(h.host.createDocs[0], "<uuid>") {
			t.Errorf("creation input still carries a uuid:\n%s", h.host.createDocs[0])
		}
		if len(h.host.pools) != 0 {
			t.Errorf("pools left behind: %v", h.host.pools)
		}
	})
}

func TestRun_ReplacementFormat(t *testing.T) {
	h := newHarness(t)
	p := predefined("pool1", descriptor.MutationNone)
	p.PoolType = "fs"
	p.SourceFormat = "ext4"
	p.ReplacementFormat = "ext3"

	v := h.run(t, p)
	if v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}

	derived := &libvirtxml.StoragePool{}
	if err := derived.Unmarshal(h.host.createDocs[0]); err != nil {
		t.Fatalf("derived descriptor does not parse: %v", err)
	}
	if derived.Source == nil || derived.Source.Format == nil || derived.Source.Format.Type != "ext3" {
		t.Errorf("source format not replaced: %+v", derived.Source)
	}
	if derived.UUID != "" || strings.Contains(h.host.createDocs[0], "<uuid>") {
		t.Errorf("uuid must be stripped after the format rewrite:\n%s", h.host.createDocs[0])
	}
	if st := h.sink.final; st.NewUUID == "" || st.NewUUID == st.OldUUID {
		t.Errorf("expected a fresh uuid: new=%s old=%s", st.NewUUID, st.OldUUID)
	}
}

func TestRun_ExpectFailureButSucceeded(t *testing.T) {
	h := newHarness(t)
	p := predefined("pool1", descriptor.MutationNone)
	p.ExpectFailure = true

	v := h.run(t, p)
	if v.Status != StatusFail || v.Reason != "expected failure, got success" {
		t.Fatalf("unexpected verdict %s", v)
	}
}

func TestRun_Readonly(t *testing.T) {
	h := newHarness(t)
	p := predefined("pool1", descriptor.MutationNone)
	p.Readonly = true
	p.ExpectFailure = true

	if v := h.run(t, p); v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if !h.host.readonly {
		t.Error("readonly flag not passed to the creator")
	}
	if len(h.host.removed) != 0 {
		t.Errorf("nothing was created, cleanup removed %v", h.host.removed)
	}
}

func TestRun_StaleUUIDFails(t *testing.T) {
	h := newHarness(t)
	h.host.reuseOld = true
	p := predefined("pool1", descriptor.MutationDuplicateSource)
	p.ReplacementName = "pool2"

	v := h.run(t, p)
	if v.Status != StatusFail || !strings.Contains(v.Reason, "old uuid") {
		t.Fatalf("unexpected verdict %s", v)
	}
}

func TestRun_LocalDescriptor(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(t.TempDir(), "pool.xml")
	doc := "<pool type='dir'><name>localpool</name><target><path>/var/tmp/localpool</path></target></pool>"
	if err := os.WriteFile(src, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	p := DefaultParams()
	p.DescriptorPath = src
	p.PoolName = "localpool"

	v := h.run(t, p)
	if v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if h.sink.final.DescriptorSHA256 == "" {
		t.Error("checksum not recorded")
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("caller's descriptor was touched: %v", err)
	}
	if len(h.host.removed) != 1 || h.host.removed[0] != "localpool" {
		t.Errorf("created pool not removed, got %v", h.host.removed)
	}
	if files := h.scratchFiles(t); len(files) != 0 {
		t.Errorf("scratch files left behind: %v", files)
	}
}

func TestRun_PlaceholderIsSetupError(t *testing.T) {
	h := newHarness(t)
	v := h.run(t, DefaultParams())
	if v.Status != StatusError {
		t.Fatalf("expected error, got %s", v)
	}
	if len(h.host.createFiles) != 0 {
		t.Error("pool-create must not run on a setup error")
	}
}

func TestRun_PreexistingPoolIsNotDestroyed(t *testing.T) {
	h := newHarness(t)
	h.host.pools["pool1"] = &hostPool{uuid: uuid.NewString(), active: true}

	v := h.run(t, predefined("pool1", descriptor.MutationNone))
	if v.Status != StatusError {
		t.Fatalf("expected error, got %s", v)
	}
	if _, ok := h.host.pools["pool1"]; !ok {
		t.Error("pre-existing pool was removed")
	}
	if len(h.host.removed)+len(h.host.destroyed) != 0 {
		t.Errorf("foreign pool touched: removed=%v destroyed=%v", h.host.removed, h.host.destroyed)
	}
}

func TestRun_ForeignPoolSurvivesCreate(t *testing.T) {
	h := newHarness(t)
	h.host.pools["localpool"] = &hostPool{uuid: uuid.NewString(), active: true}
	src := filepath.Join(t.TempDir(), "pool.xml")
	if err := os.WriteFile(src, []byte("<pool type='dir'><name>localpool</name></pool>"), 0644); err != nil {
		t.Fatal(err)
	}

	p := DefaultParams()
	p.DescriptorPath = src
	p.PoolName = "localpool"
	p.ExpectFailure = true

	if v := h.run(t, p); v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if _, ok := h.host.pools["localpool"]; !ok {
		t.Error("pool that predates the run was removed")
	}
}

func TestRun_NoDiskLabelRewritesDevice(t *testing.T) {
	h := newHarness(t)
	p := predefined("pool1", descriptor.MutationNone)
	p.NoDiskLabel = true

	if v := h.run(t, p); v.Status != StatusPass {
		t.Fatalf("expected pass, got %s", v)
	}
	if !strings.Contains(h.host.createDocs[0], "/dev/disk/by-path/emulated-pool1-fresh") {
		t.Errorf("device path not rewritten:\n%s", h.host.createDocs[0])
	}
	if len(h.host.released) != 1 || h.host.released[0].Name != "emulated-pool1-fresh" {
		t.Errorf("device not released: %v", h.host.released)
	}
}

func TestRun_InjectedFailures(t *testing.T) {
	tests := []struct {
		op     string
		status Status
	}{
		{"exists", StatusError},
		{"provision", StatusError},
		{"dump", StatusError},
		{"destroy", StatusError},
		{"create", StatusError},
		{"teardown", StatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			h := newHarness(t)
			h.host.failOn[tt.op] = fmt.Errorf("%s failed", tt.op)

			v := h.run(t, predefined("pool1", descriptor.MutationNone))
			if v.Status != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, v)
			}
			if tt.op == "teardown" && len(v.Warnings) != 1 {
				t.Errorf("cleanup error should be a warning, got %v", v.Warnings)
			}
		})
	}
}

func TestRun_PanicStillCleansUp(t *testing.T) {
	h := newHarness(t)
	h.host.panicOn = "dump"

	v := h.run(t, predefined("pool1", descriptor.MutationNone))
	if v.Status != StatusError || !strings.Contains(v.Reason, "panic") {
		t.Fatalf("unexpected verdict %s", v)
	}
	if len(h.host.pools) != 0 {
		t.Errorf("provisioned pool leaked: %v", h.host.pools)
	}
}

func TestRun_CheckpointsEveryPhase(t *testing.T) {
	h := newHarness(t)
	h.run(t, predefined("pool1", descriptor.MutationNone))

	want := []string{PhaseInit, PhasePreProvision, PhaseMutate, PhaseCreate, PhaseClassify}
	if strings.Join(h.sink.checkpoints, ",") != strings.Join(want, ",") {
		t.Errorf("checkpoints = %v, want %v", h.sink.checkpoints, want)
	}
	if h.sink.final.Phase != PhaseDone {
		t.Errorf("final phase = %s", h.sink.final.Phase)
	}
}
