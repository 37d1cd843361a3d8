package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/omnitak/pluginhost/internal/host"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin/api"
	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	"github.com/omnitak/pluginhost/internal/plugin/version"
)

func newTestInstance(t *testing.T, m *Manifest, p Plugin, mutate ...func(*Environment)) *Instance {
	t.Helper()
	env := Environment{
		Platform:    "ios",
		HostVersion: version.MustParse("1.0.0"),
		Entries:     entriesFor(t, p),
	}
	for _, fn := range mutate {
		fn(&env)
	}
	inst, err := NewInstance(m, env)
	if err != nil {
		t.Fatalf("NewInstance() error = %v", err)
	}
	return inst
}

func TestInstanceLifecycle(t *testing.T) {
	h := host.New(host.Config{}, nil)
	p := &fakePlugin{}
	inst := newTestInstance(t, goManifest("com.example.wx"), p, func(e *Environment) {
		e.Providers = h.Providers()
	})

	if inst.State() != StateUnloaded {
		t.Fatalf("initial state = %v", inst.State())
	}
	if inst.Context() != nil {
		t.Error("context exists before Initialize")
	}

	steps := []struct {
		name string
		do   func() error
		want State
	}{
		{"validate", func() error { return inst.Validate(context.Background()) }, StateValidated},
		{"initialize", inst.Initialize, StateInitialized},
		{"activate", inst.Activate, StateActive},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if inst.State() != s.want {
			t.Fatalf("after %s state = %v, want %v", s.name, inst.State(), s.want)
		}
	}

	ctx := inst.Context()
	if ctx == nil || ctx != p.ctx {
		t.Fatal("plugin did not receive the instance context")
	}
	if ctx.PluginID() != "com.example.wx" || !ctx.Has(security.MapWrite) {
		t.Errorf("context = %s %v", ctx.PluginID(), ctx.Permissions())
	}
	if n, _ := h.Map.Counts(); n != 1 {
		t.Fatalf("layers on map = %d, want 1", n)
	}

	if err := inst.Deactivate(); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if inst.State() != StateDeactivated {
		t.Errorf("state = %v, want deactivated", inst.State())
	}
	if !ctx.Closed() {
		t.Error("context still open after Deactivate")
	}
	if n, _ := h.Map.Counts(); n != 0 {
		t.Errorf("layers left on map = %d", n)
	}
	if err := ctx.Map().AddLayer(api.Layer{ID: "late"}); perr.KindOf(err) != perr.KindRuntime {
		t.Errorf("AddLayer after Deactivate error = %v, want runtime", err)
	}

	want := []string{"initialize", "activate", "deactivate"}
	if got := p.Calls(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestInstanceValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest, *Environment)
		kind   perr.Kind
	}{
		{
			name:   "platform",
			mutate: func(_ *Manifest, e *Environment) { e.Platform = "android" },
			kind:   perr.KindPlatformNotSupported,
		},
		{
			name:   "bad permission",
			mutate: func(m *Manifest, _ *Environment) { m.Permissions = append(m.Permissions, "nuke.launch") },
			kind:   perr.KindInvalidManifest,
		},
		{
			name:   "host too old",
			mutate: func(m *Manifest, _ *Environment) { m.OmniTAKVersion = ">=2.0.0" },
			kind:   perr.KindPlatformNotSupported,
		},
		{
			name: "signature",
			mutate: func(_ *Manifest, e *Environment) {
				e.Verifier = security.VerifierFunc(func(context.Context, string, string) error {
					return errors.New("untrusted signer")
				})
			},
			kind: perr.KindSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := goManifest("com.example.wx")
			inst := newTestInstance(t, m, &fakePlugin{}, func(e *Environment) { tt.mutate(m, e) })

			err := inst.Validate(context.Background())
			if perr.KindOf(err) != tt.kind {
				t.Fatalf("Validate() error = %v, want %v", err, tt.kind)
			}
			if inst.State() != StateUnloaded {
				t.Errorf("state = %v, want unloaded", inst.State())
			}
			if inst.Err() == nil {
				t.Error("Err() not recorded")
			}
			if err := inst.Initialize(); perr.KindOf(err) != perr.KindRuntime {
				t.Errorf("Initialize() from unloaded = %v, want runtime", err)
			}
		})
	}
}

func TestInstanceVerifierSeesPackage(t *testing.T) {
	m := goManifest("com.example.wx")
	m.SetDir("/plugins/wx")

	var gotID, gotDir string
	inst := newTestInstance(t, m, &fakePlugin{}, func(e *Environment) {
		e.Verifier = security.VerifierFunc(func(_ context.Context, id, dir string) error {
			gotID, gotDir = id, dir
			return nil
		})
	})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotID != "com.example.wx" || gotDir != "/plugins/wx" {
		t.Errorf("verifier got (%q, %q)", gotID, gotDir)
	}
}

func TestInstanceInitializeFailure(t *testing.T) {
	tests := []struct {
		name   string
		plugin *fakePlugin
	}{
		{"error", &fakePlugin{initErr: errPlugin}},
		{"panic", &fakePlugin{panicIn: "initialize"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newTestInstance(t, goManifest("com.example.wx"), tt.plugin)
			if err := inst.Validate(context.Background()); err != nil {
				t.Fatal(err)
			}

			err := inst.Initialize()
			if !errors.Is(err, perr.ErrInitializationFailed) {
				t.Fatalf("Initialize() error = %v, want InitializationFailed", err)
			}
			if inst.State() != StateFailed {
				t.Errorf("state = %v, want failed", inst.State())
			}
			if inst.Err() != err {
				t.Errorf("Err() = %v", inst.Err())
			}
			if e, ok := perr.As(err); !ok || e.PluginID != "com.example.wx" {
				t.Errorf("error not attributed to plugin: %+v", e)
			}
			if tt.plugin.ctx == nil || !tt.plugin.ctx.Closed() {
				t.Error("context handed to a failed plugin is still open")
			}

			// Failed is terminal.
			if err := inst.Activate(); perr.KindOf(err) != perr.KindRuntime {
				t.Errorf("Activate() after failure = %v", err)
			}
			if err := inst.Deactivate(); perr.KindOf(err) != perr.KindRuntime {
				t.Errorf("Deactivate() after failure = %v", err)
			}
			if inst.State() != StateFailed {
				t.Errorf("state moved to %v", inst.State())
			}
		})
	}
}

func TestInstanceUnknownEntryFails(t *testing.T) {
	m := goManifest("com.example.wx")
	m.EntryPoints["ios"] = "Missing"
	inst := newTestInstance(t, m, &fakePlugin{})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := inst.Initialize()
	if !errors.Is(err, perr.ErrInitializationFailed) || !errors.Is(err, ErrNoEntryLoader) {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func TestInstanceActivateFailure(t *testing.T) {
	h := host.New(host.Config{}, nil)
	p := &fakePlugin{activateErr: errPlugin}
	inst := newTestInstance(t, goManifest("com.example.wx"), p, func(e *Environment) {
		e.Providers = h.Providers()
	})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(); err != nil {
		t.Fatal(err)
	}

	err := inst.Activate()
	if perr.KindOf(err) != perr.KindRuntime || !errors.Is(err, errPlugin) {
		t.Fatalf("Activate() error = %v, want runtime wrapping the plugin error", err)
	}
	if inst.State() != StateFailed {
		t.Errorf("state = %v, want failed", inst.State())
	}
	if !p.ctx.Closed() {
		t.Error("context not closed after activation failure")
	}
	want := []string{"initialize", "activate", "deactivate"}
	if got := p.Calls(); !equalStrings(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestInstanceDeactivateErrorStillTearsDown(t *testing.T) {
	p := &fakePlugin{deactivateErr: errPlugin}
	inst := newTestInstance(t, goManifest("com.example.wx"), p)
	for _, step := range []func() error{
		func() error { return inst.Validate(context.Background()) },
		inst.Initialize,
		inst.Activate,
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}

	err := inst.Deactivate()
	if !errors.Is(err, errPlugin) {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if inst.State() != StateDeactivated {
		t.Errorf("state = %v, want deactivated", inst.State())
	}
	if !p.ctx.Closed() {
		t.Error("context not closed")
	}
	if err := inst.Deactivate(); perr.KindOf(err) != perr.KindRuntime {
		t.Errorf("second Deactivate() = %v", err)
	}
}

func TestInstanceDependencyMissing(t *testing.T) {
	active := map[string]bool{}
	inst := newTestInstance(t, goManifest("com.example.wx", "com.example.base"), &fakePlugin{}, func(e *Environment) {
		e.DependencyActive = func(id string) bool { return active[id] }
	})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := inst.Initialize()
	if !errors.Is(err, perr.ErrDependencyMissing) {
		t.Fatalf("Initialize() error = %v, want DependencyMissing", err)
	}
	if !strings.Contains(err.Error(), "com.example.base") {
		t.Errorf("error %q does not name the dependency", err)
	}
	if inst.State() != StateValidated {
		t.Fatalf("state = %v, want validated", inst.State())
	}

	active["com.example.base"] = true
	if err := inst.Initialize(); err != nil {
		t.Fatalf("Initialize() after dependency loaded: %v", err)
	}
}

func TestInstanceSettingsReachContext(t *testing.T) {
	inst := newTestInstance(t, goManifest("com.example.wx"), &fakePlugin{}, func(e *Environment) {
		e.Settings = map[string]map[string]any{
			"com.example.wx":    {"units": "metric"},
			"com.example.other": {"units": "imperial"},
		}
	})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(); err != nil {
		t.Fatal(err)
	}
	if v, ok := inst.Context().Setting("units"); !ok || v != "metric" {
		t.Errorf("Setting(units) = %v, %v", v, ok)
	}
}

func TestInstanceIDsAreUnique(t *testing.T) {
	a := newTestInstance(t, goManifest("com.example.wx"), &fakePlugin{})
	b := newTestInstance(t, goManifest("com.example.wx"), &fakePlugin{})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids = %q, %q", a.ID(), b.ID())
	}
}

func TestNewInstanceNilManifest(t *testing.T) {
	if _, err := NewInstance(nil, Environment{}); !errors.Is(err, ErrNilManifest) {
		t.Errorf("error = %v, want ErrNilManifest", err)
	}
}

func TestInstanceRecordsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	inst := newTestInstance(t, goManifest("com.example.wx"), &fakePlugin{}, func(e *Environment) {
		e.Metrics = metrics.New(reg)
	})
	if err := inst.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(); err != nil {
		t.Fatal(err)
	}

	n, err := testutil.GatherAndCount(reg, "omnitak_plugin_transitions_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("transition series = %d, want 2 (validated, initialized)", n)
	}
}
