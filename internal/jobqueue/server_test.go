package jobqueue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"
)

func TestEmbeddedServer_StartStop(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "jobqueue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := EmbeddedServerConfig{
		Port:      14222,
		JetStream: true,
		DataDir:   filepath.Join(tempDir, "jetstream"),
	}

	server, err := NewEmbeddedServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if server.IsRunning() {
		t.Error("server should not be running before Start()")
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Shutdown()

	if !server.IsRunning() {
		t.Error("server should be running after Start()")
	}

	expectedURL := "nats://127.0.0.1:14222"
	if server.URL() != expectedURL {
		t.Errorf("expected URL %s, got %s", expectedURL, server.URL())
	}

	conn, err := nc.Connect(server.URL())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if !conn.IsConnected() {
		t.Error("connection should be established")
	}

	server.Shutdown()
	if server.IsRunning() {
		t.Error("server should not be running after Shutdown()")
	}
}

func TestEmbeddedServer_ConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      EmbeddedServerConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config with JetStream",
			config: EmbeddedServerConfig{Port: 14222, JetStream: true, DataDir: "/tmp/jobqueue-test"},
		},
		{
			name:   "valid config without JetStream",
			config: EmbeddedServerConfig{Port: 14222, JetStream: false},
		},
		{
			name:        "JetStream enabled without DataDir",
			config:      EmbeddedServerConfig{Port: 14222, JetStream: true, DataDir: ""},
			expectError: true,
			errorMsg:    "DataDir is required when JetStream is enabled",
		},
		{
			name:   "default port when not specified",
			config: EmbeddedServerConfig{Port: 0, JetStream: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewEmbeddedServer(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tt.errorMsg)
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("expected error %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.config.Port == 0 && server.config.Port != 4222 {
				t.Errorf("expected default port 4222, got %d", server.config.Port)
			}
		})
	}
}

func TestEmbeddedServer_DoubleStart(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "jobqueue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := EmbeddedServerConfig{
		Port:      14226,
		JetStream: true,
		DataDir:   filepath.Join(tempDir, "jetstream"),
	}

	server, err := NewEmbeddedServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Shutdown()

	if err := server.Start(); err == nil {
		t.Error("expected error when starting already running server")
	} else if err.Error() != "server already running" {
		t.Errorf("expected 'server already running', got: %v", err)
	}
}

func TestEmbeddedServer_PubSub(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "jobqueue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := EmbeddedServerConfig{
		Port:      14227,
		JetStream: true,
		DataDir:   filepath.Join(tempDir, "jetstream"),
	}

	server, err := NewEmbeddedServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Shutdown()

	conn, err := nc.Connect(server.URL())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	received := make(chan string, 1)
	sub, err := conn.Subscribe(SubjectEmbedChunks, func(msg *nc.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := conn.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	if err := conn.Publish(SubjectEmbedChunks, []byte("[1,2,3]")); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "[1,2,3]" {
			t.Errorf("expected job payload %q, got %q", "[1,2,3]", msg)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}
