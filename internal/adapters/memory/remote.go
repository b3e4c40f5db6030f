package memory

import (
	"context"
	"sync"

	"github.com/paklog/wes-orchestration-engine/internal/ports"
)

// RemoteClient is a scripted remote-call adapter. Responses are queued per
// service/operation pair; with no script it answers success with an empty
// payload.
type RemoteClient struct {
	mu        sync.Mutex
	responses map[string][]stubResponse
	calls     []RemoteCallRecord
}

type stubResponse struct {
	output map[string]any
	err    error
}

type RemoteCallRecord struct {
	ServiceName string
	Operation   string
	Request     map[string]any
}

func NewRemoteClient() *RemoteClient {
	return &RemoteClient{responses: make(map[string][]stubResponse)}
}

func (c *RemoteClient) Call(_ context.Context, serviceName, operation string, request map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, RemoteCallRecord{
		ServiceName: serviceName,
		Operation:   operation,
		Request:     request,
	})

	key := serviceName + "/" + operation
	queue := c.responses[key]
	if len(queue) == 0 {
		return map[string]any{}, nil
	}

	next := queue[0]
	c.responses[key] = queue[1:]
	if next.err != nil {
		return nil, ports.NewRemoteError(serviceName, operation, next.err)
	}
	return next.output, nil
}

// Stub queues one scripted response.
func (c *RemoteClient) Stub(serviceName, operation string, output map[string]any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := serviceName + "/" + operation
	c.responses[key] = append(c.responses[key], stubResponse{output: output, err: err})
}

// StubErrors queues the same error n times.
func (c *RemoteClient) StubErrors(serviceName, operation string, err error, n int) {
	for i := 0; i < n; i++ {
		c.Stub(serviceName, operation, nil, err)
	}
}

func (c *RemoteClient) Calls() []RemoteCallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RemoteCallRecord(nil), c.calls...)
}

func (c *RemoteClient) CallsTo(serviceName, operation string) []RemoteCallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []RemoteCallRecord
	for _, call := range c.calls {
		if call.ServiceName == serviceName && call.Operation == operation {
			out = append(out, call)
		}
	}
	return out
}
