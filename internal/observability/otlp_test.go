package observability

import (
	"context"
	"testing"
)

func TestSetup_DefaultAgentHost(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		Environment: "test",
		ServiceName: "test-service",
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_UnreachableAgentDegradesGracefully(t *testing.T) {
	// Exporter creation succeeds even with no agent listening; spans fail to
	// export silently rather than failing startup.
	shutdown, err := Setup(context.Background(), Config{
		AgentHost:   "localhost:1",
		Environment: "test",
		ServiceName: "graceful-test",
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestDefaultAgentHost(t *testing.T) {
	if DefaultAgentHost != "localhost:4318" {
		t.Errorf("DefaultAgentHost = %q", DefaultAgentHost)
	}
}
