package native_test

import (
	"errors"
	"testing"

	"github.com/seantiz/enginehost/internal/native"
	"github.com/seantiz/enginehost/internal/native/nativetest"
)

func fakeFactory() (native.Engine, error) {
	return nativetest.New(), nil
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := native.NewRegistry()

	reg.Register("sim", native.Capabilities{Name: "sim", MultiThreadedLoop: true}, fakeFactory)
	reg.Register("headless", native.Capabilities{Name: "headless"}, fakeFactory)

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d engines, want 2", len(list))
	}
	if list[0].Name != "headless" || list[1].Name != "sim" {
		t.Errorf("List() order = [%s %s], want [headless sim]", list[0].Name, list[1].Name)
	}
	if !list[1].Capabilities.MultiThreadedLoop {
		t.Error("sim capabilities lost")
	}
}

func TestRegistryResolveExplicit(t *testing.T) {
	reg := native.NewRegistry()
	reg.Register("headless", native.Capabilities{Name: "headless"}, fakeFactory)

	eng, err := reg.Resolve("headless")
	if err != nil {
		t.Fatalf("Resolve explicit: %v", err)
	}
	if eng.Capabilities().Name != "fake" {
		t.Errorf("resolved engine name = %q, want %q", eng.Capabilities().Name, "fake")
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := native.NewRegistry()

	_, err := reg.Resolve("chromium")
	if err == nil {
		t.Error("expected error for unregistered engine, got nil")
	}
}

func TestRegistryResolveAuto(t *testing.T) {
	reg := native.NewRegistry()
	calls := 0
	reg.Register(native.DefaultEngine, native.Capabilities{Name: native.DefaultEngine}, func() (native.Engine, error) {
		calls++
		return nativetest.New(), nil
	})

	for _, name := range []string{"", "auto"} {
		if _, err := reg.Resolve(name); err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
		}
	}
	if calls != 2 {
		t.Errorf("factory calls = %d, want 2", calls)
	}
}

func TestRegistryResolveFactoryError(t *testing.T) {
	reg := native.NewRegistry()
	boom := errors.New("no display")
	reg.Register("broken", native.Capabilities{}, func() (native.Engine, error) {
		return nil, boom
	})

	_, err := reg.Resolve("broken")
	if !errors.Is(err, boom) {
		t.Errorf("Resolve error = %v, want wrapping %v", err, boom)
	}
}
