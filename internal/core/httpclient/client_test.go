package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewOutbound_Defaults(t *testing.T) {
	c := NewOutbound()
	if c.Timeout != 10*time.Second {
		t.Fatalf("timeout=%v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr.MaxIdleConnsPerHost != 16 {
		t.Fatalf("unexpected transport %#v", c.Transport)
	}
}

func TestNewOutbound_Options(t *testing.T) {
	c := NewOutbound(WithTimeout(2*time.Second), WithMaxIdleConnsPerHost(4), WithTimeout(0))
	if c.Timeout != 2*time.Second {
		t.Fatalf("timeout=%v want 2s", c.Timeout)
	}
	if tr := c.Transport.(*http.Transport); tr.MaxIdleConnsPerHost != 4 {
		t.Fatalf("max idle per host=%d", tr.MaxIdleConnsPerHost)
	}
}
