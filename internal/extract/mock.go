package extract

import (
	"context"
	"sync"
)

// MockClient is a test double for the vision provider. It replays queued
// responses, or a fixed response, and records every request it sees.
type MockClient struct {
	response  VisionResponse
	err       error
	queued    []VisionResponse
	Requests  []VisionRequest
	callCount int
	mu        sync.Mutex
}

// NewMockClient creates a mock vision client that reports no payments.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SetResponse fixes the response returned by every call.
func (m *MockClient) SetResponse(resp VisionResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = resp
}

// SetError makes every call fail with err.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// QueueResponse appends a response consumed by one future call. Queued
// responses take precedence over the fixed response.
func (m *MockClient) QueueResponse(resp VisionResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, resp)
}

// CallCount returns the number of calls made so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// ExtractPayments implements the Client interface.
func (m *MockClient) ExtractPayments(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	if err := ctx.Err(); err != nil {
		return VisionResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.Requests = append(m.Requests, req)

	if m.err != nil {
		return VisionResponse{}, m.err
	}
	if len(m.queued) > 0 {
		resp := m.queued[0]
		m.queued = m.queued[1:]
		return resp, nil
	}
	return m.response, nil
}
