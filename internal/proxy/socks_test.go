package proxy

import (
	"net/http"
	"testing"
	"time"
)

func TestNewClientDirect(t *testing.T) {
	c, err := NewClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient() returned error: %v", err)
	}
	if c.Transport != nil {
		t.Error("direct client must use the default transport")
	}
	if c.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %s", c.Timeout)
	}
}

func TestNewClientSocks(t *testing.T) {
	c, err := NewClient("127.0.0.1:1080", 0)
	if err != nil {
		t.Fatalf("NewClient() returned error: %v", err)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr.DialContext == nil {
		t.Fatalf("expected socks transport, got %T", c.Transport)
	}
}
