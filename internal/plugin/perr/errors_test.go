package perr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{InvalidManifest("invalid permission: %s", "nuke.launch"), "invalid manifest: invalid permission: nuke.launch"},
		{PlatformNotSupported("android"), "platform not supported: android"},
		{PermissionDenied("map.write"), "permission denied: map.write"},
		{SignatureInvalid("digest mismatch"), "signature invalid: digest mismatch"},
		{DependencyMissing("com.acme.base"), "dependency missing: com.acme.base"},
		{InitializationFailed(errors.New("boom")), "initialization failed: boom"},
		{Runtime("context closed"), "runtime error: context closed"},
		{WrapRuntime(errors.New("eof"), "transport"), "runtime error: transport: eof"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{InvalidManifest("x"), ErrInvalidManifest},
		{PlatformNotSupported("x"), ErrPlatformNotSupported},
		{PermissionDenied("cot.read"), ErrPermissionDenied},
		{SignatureInvalid("x"), ErrSignatureInvalid},
		{DependencyMissing("a.b"), ErrDependencyMissing},
		{InitializationFailed(nil), ErrInitializationFailed},
		{Runtime("x"), ErrRuntime},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
		}
		wrapped := fmt.Errorf("loading: %w", tt.err)
		if !errors.Is(wrapped, tt.sentinel) {
			t.Errorf("errors.Is(wrapped %v, %v) = false", tt.err, tt.sentinel)
		}
		if tt.sentinel != ErrRuntime && errors.Is(tt.err, ErrRuntime) {
			t.Errorf("%v should not match ErrRuntime", tt.err)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("lua: attempt to call nil")
	err := InitializationFailed(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(PermissionDenied("ui.create")); got != KindPermissionDenied {
		t.Errorf("KindOf = %v, want %v", got, KindPermissionDenied)
	}
	if got := KindOf(errors.New("plain")); got != KindRuntime {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindRuntime)
	}
	if got := KindOf(fmt.Errorf("x: %w", DependencyMissing("a.b"))); got != KindDependencyMissing {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, KindDependencyMissing)
	}
}

func TestAs(t *testing.T) {
	e, ok := As(fmt.Errorf("outer: %w", PermissionDenied("network.access")))
	if !ok {
		t.Fatal("As() ok = false")
	}
	if e.Permission != "network.access" {
		t.Errorf("Permission = %q, want %q", e.Permission, "network.access")
	}
}

func TestWithPlugin(t *testing.T) {
	err := Runtime("x").WithPlugin("com.acme.weather")
	if err.PluginID != "com.acme.weather" {
		t.Errorf("PluginID = %q", err.PluginID)
	}

	var nilErr *Error
	if nilErr.WithPlugin("a.b") != nil {
		t.Error("WithPlugin on nil receiver should return nil")
	}
}

func TestKindString(t *testing.T) {
	if Kind(99).String() != "unknown" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}
