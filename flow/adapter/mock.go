package adapter

import (
	"context"
	"sync"
)

// MockLLM is a test implementation of LLM.
//
// It returns scripted completions in order (repeating the last one when
// the script runs out), records every call, and supports error
// injection. Safe for concurrent use.
type MockLLM struct {
	// Responses is the sequence of completions to return.
	Responses []Completion

	// Err, if set, is returned instead of a completion.
	Err error

	// Calls records every Complete invocation.
	Calls []MockLLMCall

	mu        sync.Mutex
	callIndex int
}

// MockLLMCall records a single Complete invocation.
type MockLLMCall struct {
	Prompt string
	Opts   CompletionOptions
}

// Complete implements the LLM interface.
func (m *MockLLM) Complete(ctx context.Context, config map[string]any, prompt string, opts CompletionOptions) (Completion, error) {
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockLLMCall{Prompt: prompt, Opts: opts})
	if m.Err != nil {
		return Completion{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Completion{}, nil
	}
	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of recorded calls.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears the call history and response cursor.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// MockImage is a test implementation of Image.
type MockImage struct {
	Result GeneratedImage
	Err    error

	Calls []string // prompts

	mu sync.Mutex
}

// Generate implements the Image interface.
func (m *MockImage) Generate(ctx context.Context, config map[string]any, prompt string, opts ImageOptions) (GeneratedImage, error) {
	if ctx.Err() != nil {
		return GeneratedImage{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return GeneratedImage{}, m.Err
	}
	return m.Result, nil
}

// MockDB is a test implementation of DB.
type MockDB struct {
	Rows []Row
	Err  error

	Queries []string

	mu sync.Mutex
}

// Query implements the DB interface.
func (m *MockDB) Query(ctx context.Context, config map[string]any, query string, params []any, limit int) ([]Row, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	rows := m.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

// MockHTTP is a test implementation of HTTP.
type MockHTTP struct {
	Resp Response
	Err  error

	Requests []Request

	mu sync.Mutex
}

// Call implements the HTTP interface.
func (m *MockHTTP) Call(ctx context.Context, config map[string]any, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return Response{}, m.Err
	}
	return m.Resp, nil
}
