package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

type fakeSource struct {
	name  string
	urls  []string
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.urls, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDownloader serves body "img:<url>" unless a scripted error queue exists
// for the URL; queued errors are returned first, one per attempt.
type fakeDownloader struct {
	mu     sync.Mutex
	errs   map[string][]error
	always map[string]error
	calls  map[string]int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{errs: map[string][]error{}, always: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.always[url]; ok {
		return nil, err
	}
	if q := f.errs[url]; len(q) > 0 {
		f.errs[url] = q[1:]
		return nil, q[0]
	}
	return []byte("img:" + url), nil
}

func (f *fakeDownloader) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeDownloader) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeStructural rejects any buffer containing "busy".
type fakeStructural struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStructural) Validate(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return !strings.Contains(string(data), "busy")
}

type fakeSemantic struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, data []byte) (retrieval.Verdict, error)
}

func (f *fakeSemantic) Classify(_ context.Context, data []byte, _ string) (retrieval.Verdict, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, data)
}

func (f *fakeSemantic) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func approveAll(int, []byte) (retrieval.Verdict, error) {
	return retrieval.Verdict{
		Status:         retrieval.VerdictApproved,
		Brand:          "Vivobarefoot",
		CanonicalModel: "Primus Lite III",
		Keywords:       []string{"barefoot"},
	}, nil
}

var errModelDown = errors.New("vision model unavailable")

func failAll(int, []byte) (retrieval.Verdict, error) {
	return retrieval.Verdict{}, errModelDown
}

type fakeNormalizer struct {
	err error
}

func (f fakeNormalizer) Normalize(data []byte, v retrieval.Verdict) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("normalized:"+string(v.Status)+":"), data...), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []retrieval.Result
}

func (r *recordingNotifier) Notify(_ context.Context, res retrieval.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return errors.New("sink offline")
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func transientErr(msg string) error {
	return errors.Join(retrieval.ErrTransientNetwork, errors.New(msg))
}
