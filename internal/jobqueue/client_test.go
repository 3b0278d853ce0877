package jobqueue

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func startTestServer(t *testing.T) (*server.Server, string) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create job queue server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("job queue server not ready")
	}

	return ns, ns.ClientURL()
}

func TestClient_PubSub(t *testing.T) {
	ns, url := startTestServer(t)
	defer ns.Shutdown()

	publisher, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	subscriber, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	var mu sync.Mutex
	var received []*Message

	_, err = subscriber.QueueSubscribe(SubjectEmbedChunks, "embedders", func(msg *Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := publisher.Publish(SubjectEmbedChunks, []byte("hello")); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if err := publisher.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	if received[0].Subject != SubjectEmbedChunks {
		t.Errorf("expected subject %s, got %s", SubjectEmbedChunks, received[0].Subject)
	}
	if string(received[0].Data) != "hello" {
		t.Errorf("expected data %q, got %q", "hello", received[0].Data)
	}
}

func TestClient_PublishJSON(t *testing.T) {
	ns, url := startTestServer(t)
	defer ns.Shutdown()

	client, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	type job struct {
		ChunkIDs []int64 `json:"chunk_ids"`
	}

	var mu sync.Mutex
	var gotJob job

	_, err = client.QueueSubscribe(SubjectEmbedChunks, "embedders", func(msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		json.Unmarshal(msg.Data, &gotJob)
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.PublishJSON(SubjectEmbedChunks, job{ChunkIDs: []int64{1, 2, 3}}); err != nil {
		t.Fatalf("Failed to publish JSON: %v", err)
	}
	client.Flush()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(gotJob.ChunkIDs) != 3 {
		t.Errorf("expected 3 chunk ids, got %d", len(gotJob.ChunkIDs))
	}
}

func TestClient_QueueSubscribeLoadBalances(t *testing.T) {
	ns, url := startTestServer(t)
	defer ns.Shutdown()

	publisher, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	worker1, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create worker1: %v", err)
	}
	defer worker1.Close()

	worker2, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create worker2: %v", err)
	}
	defer worker2.Close()

	var mu sync.Mutex
	count1, count2 := 0, 0

	if _, err := worker1.QueueSubscribe(SubjectEmbedChunks, "embedders", func(msg *Message) {
		mu.Lock()
		count1++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Failed to subscribe worker1: %v", err)
	}

	if _, err := worker2.QueueSubscribe(SubjectEmbedChunks, "embedders", func(msg *Message) {
		mu.Lock()
		count2++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Failed to subscribe worker2: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	const numJobs = 10
	for i := 0; i < numJobs; i++ {
		if err := publisher.Publish(SubjectEmbedChunks, []byte("job")); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}
	publisher.Flush()
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count1+count2 != numJobs {
		t.Errorf("expected %d total jobs delivered, got %d (worker1: %d, worker2: %d)",
			numJobs, count1+count2, count1, count2)
	}
}

func TestClient_IsConnected(t *testing.T) {
	ns, url := startTestServer(t)
	defer ns.Shutdown()

	client, err := NewClient(url)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if !client.IsConnected() {
		t.Error("client should be connected")
	}

	client.Close()
	_ = client.IsConnected()
}
