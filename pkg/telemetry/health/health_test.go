package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

// ============ Checker Tests ============

func TestNew(t *testing.T) {
	c := New(0)
	if c.checkTimeout != 2*time.Second {
		t.Errorf("default timeout = %v, want 2s", c.checkTimeout)
	}
	if len(c.ListChecks()) != 0 {
		t.Error("new checker should have no checks")
	}
}

func TestCheckLiveness(t *testing.T) {
	status := New(time.Second).CheckLiveness(context.Background())
	if status.Status != StatusOK {
		t.Errorf("Status = %q, want ok", status.Status)
	}
}

func TestCheckReadiness(t *testing.T) {
	failing := func(ctx context.Context) error { return errors.New("boom") }
	passing := func(ctx context.Context) error { return nil }

	tests := []struct {
		name  string
		setup func(c *Checker)
		want  string
	}{
		{
			name:  "no checks",
			setup: func(c *Checker) {},
			want:  StatusReady,
		},
		{
			name: "all healthy",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", true, passing)
				c.RegisterCheck("redis", false, passing)
			},
			want: StatusReady,
		},
		{
			name: "non-critical failure",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", true, passing)
				c.RegisterCheck("redis", false, failing)
			},
			want: StatusDegraded,
		},
		{
			name: "critical failure",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", true, failing)
				c.RegisterCheck("redis", false, failing)
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.setup(c)
			status := c.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("Status = %q, want %q", status.Status, tt.want)
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", true, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	status := c.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v, want timeout", result)
	}
}

func TestRegisterCheck_Replaces(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("a", true, func(ctx context.Context) error { return errors.New("x") })
	c.RegisterCheck("a", true, func(ctx context.Context) error { return nil })

	if got := c.ListChecks(); len(got) != 1 {
		t.Fatalf("ListChecks() = %v", got)
	}
	if s := c.CheckReadiness(context.Background()); s.Status != StatusReady {
		t.Errorf("Status = %q, want ready", s.Status)
	}
}

// ============ Component Check Tests ============

func TestPingCheck(t *testing.T) {
	if err := PingCheck(fakePinger{})(context.Background()); err != nil {
		t.Errorf("PingCheck() error = %v", err)
	}
	if err := PingCheck(fakePinger{err: errors.New("closed")})(context.Background()); err == nil {
		t.Error("expected error from failing pinger")
	}
}

func TestBackendsCheck(t *testing.T) {
	tests := []struct {
		total, available int
		wantErr          bool
	}{
		{0, 0, true},
		{2, 0, true},
		{2, 1, false},
	}
	for _, tt := range tests {
		check := BackendsCheck(func() (int, int) { return tt.total, tt.available })
		if err := check(context.Background()); (err != nil) != tt.wantErr {
			t.Errorf("BackendsCheck(%d, %d) error = %v, wantErr %v", tt.total, tt.available, err, tt.wantErr)
		}
	}
}

// ============ Handler Tests ============

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("storage", true, func(ctx context.Context) error { return errors.New("locked") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["storage"].Message != "locked" {
		t.Errorf("storage check = %+v", body.Checks["storage"])
	}
}

func TestLivenessHandler_Head(t *testing.T) {
	rec := httptest.NewRecorder()
	New(time.Second).LivenessHandler()(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Error("HEAD response has a body")
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(NewVersionInfo("1.2.3", "abc", "now"))(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}
