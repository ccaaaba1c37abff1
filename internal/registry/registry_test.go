package registry

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/HerbHall/netcorrelate/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// testPlugin is a minimal plugin for testing.
type testPlugin struct {
	name    string
	initErr error
	routes  []plugin.Route

	inited  bool
	started bool
	stopped bool
}

func newTestPlugin(name string) *testPlugin {
	return &testPlugin{name: name}
}

func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return "1.0.0" }
func (p *testPlugin) Init(_ *viper.Viper, _ *zap.Logger) error {
	p.inited = true
	return p.initErr
}
func (p *testPlugin) Start(_ context.Context) error { p.started = true; return nil }
func (p *testPlugin) Stop() error                   { p.stopped = true; return nil }
func (p *testPlugin) Routes() []plugin.Route        { return p.routes }

func testConfig(enabled ...string) *viper.Viper {
	v := viper.New()
	for _, name := range enabled {
		v.Set("plugins."+name+".enabled", true)
	}
	return v
}

func TestRegister(t *testing.T) {
	reg := New(zap.NewNop())

	p := newTestPlugin("alpha")
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Duplicate registration should fail.
	if err := reg.Register(p); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
}

func TestRegisterEmptyName(t *testing.T) {
	reg := New(zap.NewNop())
	if err := reg.Register(newTestPlugin("")); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
}

func TestInitAll_SkipsDisabled(t *testing.T) {
	reg := New(zap.NewNop())
	a, b := newTestPlugin("a"), newTestPlugin("b")
	reg.Register(a)
	reg.Register(b)

	if err := reg.InitAll(testConfig("a")); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if !a.inited {
		t.Error("expected plugin 'a' to be initialized")
	}
	if b.inited {
		t.Error("expected plugin 'b' to be skipped")
	}
	if !reg.IsDisabled("b") {
		t.Error("expected plugin 'b' to be disabled")
	}
}

func TestInitAll_Failure(t *testing.T) {
	reg := New(zap.NewNop())
	p := newTestPlugin("a")
	p.initErr = errors.New("init failed")
	reg.Register(p)

	if err := reg.InitAll(testConfig("a")); err == nil {
		t.Fatal("InitAll() expected error, got nil")
	}
}

func TestStartAllStopAll(t *testing.T) {
	reg := New(zap.NewNop())
	a, b := newTestPlugin("a"), newTestPlugin("b")
	reg.Register(a)
	reg.Register(b)
	reg.InitAll(testConfig("a"))

	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !a.started {
		t.Error("expected plugin 'a' to be started")
	}
	if b.started {
		t.Error("disabled plugin 'b' was started")
	}

	reg.StopAll()
	if !a.stopped {
		t.Error("expected plugin 'a' to be stopped")
	}
	if b.stopped {
		t.Error("disabled plugin 'b' was stopped")
	}
}

func TestGet(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestPlugin("a"))

	if _, ok := reg.Get("a"); !ok {
		t.Error("Get('a') returned false, want true")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Error("Get('nonexistent') returned true, want false")
	}
}

func TestAllRoutes(t *testing.T) {
	reg := New(zap.NewNop())

	web := newTestPlugin("web")
	web.routes = []plugin.Route{{Method: http.MethodGet, Path: "/test"}}
	off := newTestPlugin("off")
	off.routes = []plugin.Route{{Method: http.MethodGet, Path: "/hidden"}}

	reg.Register(web)
	reg.Register(newTestPlugin("noroutes"))
	reg.Register(off)
	reg.InitAll(testConfig("web", "noroutes"))

	routes := reg.AllRoutes()
	if len(routes) != 1 {
		t.Fatalf("AllRoutes() returned %d plugin route sets, want 1", len(routes))
	}
	if _, ok := routes["web"]; !ok {
		t.Error("AllRoutes() missing 'web' routes")
	}
}

func TestAll_RegistrationOrder(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestPlugin("b"))
	reg.Register(newTestPlugin("a"))

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d plugins, want 2", len(all))
	}
	if all[0].Name() != "b" || all[1].Name() != "a" {
		t.Errorf("All() order = [%s %s], want [b a]", all[0].Name(), all[1].Name())
	}
}
