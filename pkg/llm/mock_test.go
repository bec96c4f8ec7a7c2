package llm

import (
	"context"
	"sync"
	"time"
)

// stubProvider is a scriptable in-memory provider for router tests.
type stubProvider struct {
	mu sync.Mutex

	providerType ProviderType
	status       Status

	initErr     error
	generateErr error
	content     string

	initCalls     int
	generateCalls int
	lastRequest   *Request
}

func newStubProvider(pt ProviderType) *stubProvider {
	return &stubProvider{
		providerType: pt,
		status:       StatusInitializing,
		content:      "Total Sales = SUM(Sales[Amount])",
	}
}

func (s *stubProvider) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	if s.initErr != nil {
		s.status = StatusError
		return s.initErr
	}
	s.status = StatusReady
	return nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusReady
}

func (s *stubProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCalls++
	s.lastRequest = req
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &Response{
		Content:   s.content,
		Model:     "stub-model",
		Provider:  s.providerType,
		Latency:   5 * time.Millisecond,
		RequestID: req.RequestID,
	}, nil
}

func (s *stubProvider) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusOffline
}

func (s *stubProvider) Type() ProviderType {
	return s.providerType
}

func (s *stubProvider) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// stubFactory records constructions so tests can prove the policy
// gate runs before any adapter is built.
type stubFactory struct {
	mu          sync.Mutex
	built       []ProviderType
	providers   map[ProviderType]*stubProvider
	constructed int
}

func newStubFactory() *stubFactory {
	return &stubFactory{providers: make(map[ProviderType]*stubProvider)}
}

func (f *stubFactory) build(cfg Config) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructed++
	f.built = append(f.built, cfg.Provider)
	p, ok := f.providers[cfg.Provider]
	if !ok {
		p = newStubProvider(cfg.Provider)
		f.providers[cfg.Provider] = p
	}
	return p, nil
}
