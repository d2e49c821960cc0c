package monitor

import (
	"testing"
	"time"

	"github.com/progfed/progfed/internal/registry"
)

func result(id string, status registry.Status) ProbeResult {
	return ProbeResult{
		ServerID:  id,
		Name:      "compliance",
		BaseURL:   "http://localhost:4003",
		Status:    status,
		LastProbe: time.Now().UTC(),
	}
}

func TestCacheUpdateAndGet(t *testing.T) {
	c := NewCache()

	c.Update(result("svc-1", registry.StatusHealthy))

	r, ok := c.Get("svc-1")
	if !ok {
		t.Fatal("expected cached result")
	}
	if r.Status != registry.StatusHealthy {
		t.Fatalf("expected healthy, got %v", r.Status)
	}
}

func TestCacheGetAll(t *testing.T) {
	c := NewCache()

	c.Update(result("svc-1", registry.StatusHealthy))
	c.Update(result("svc-2", registry.StatusUnhealthy))

	all := c.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 results, got %d", len(all))
	}
}

func TestCachePreviousStatus(t *testing.T) {
	c := NewCache()

	if s := c.PreviousStatus("untracked"); s != registry.StatusUnknown {
		t.Fatalf("expected unknown, got %v", s)
	}

	c.Update(result("svc-1", registry.StatusDegraded))

	if s := c.PreviousStatus("svc-1"); s != registry.StatusDegraded {
		t.Fatalf("expected degraded, got %v", s)
	}
}

func TestCacheUpdateOverwrites(t *testing.T) {
	c := NewCache()

	c.Update(result("svc-1", registry.StatusHealthy))
	c.Update(result("svc-1", registry.StatusUnhealthy))

	r, _ := c.Get("svc-1")
	if r.Status != registry.StatusUnhealthy {
		t.Fatalf("expected unhealthy after overwrite, got %v", r.Status)
	}
}

func TestCacheRemove(t *testing.T) {
	c := NewCache()

	c.Update(result("svc-1", registry.StatusHealthy))
	c.Remove("svc-1")

	if _, ok := c.Get("svc-1"); ok {
		t.Fatal("expected result removed")
	}
}
