package pingback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/pingback/internal/logging"
)

// testService is a scripted stand-in for the hosted widget service.
type testService struct {
	t *testing.T

	mu                sync.Mutex
	configCalls       int
	submitCalls       int
	configStatus      int
	configBody        string
	submitStatus      int
	submitBody        string
	configGate        chan struct{}
	lastSubmitHeaders http.Header
	lastSubmitBody    []byte

	srv *httptest.Server
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	ts := &testService{
		t:            t,
		configStatus: http.StatusOK,
		submitStatus: http.StatusCreated,
		submitBody:   `{"id":"fb_1","status":"received"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/widgets/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/widgets/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		switch {
		case parts[1] == "config" && r.Method == http.MethodGet:
			ts.handleConfig(w, r, parts[0])
		case parts[1] == "feedback" && r.Method == http.MethodPost:
			ts.handleSubmit(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testService) handleConfig(w http.ResponseWriter, r *http.Request, widgetID string) {
	ts.mu.Lock()
	ts.configCalls++
	status := ts.configStatus
	body := ts.configBody
	gate := ts.configGate
	ts.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if body == "" {
		expiry := time.Now().Add(5 * time.Minute).Unix()
		body = fmt.Sprintf(`{
			"widget_id": %q,
			"name": "Test Widget",
			"labels": {"title": "Got feedback?"},
			"submission_token": "tok-test",
			"token_expires_at": %d
		}`, widgetID, expiry)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (ts *testService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	ts.mu.Lock()
	ts.submitCalls++
	ts.lastSubmitHeaders = r.Header.Clone()
	ts.lastSubmitBody = body
	status := ts.submitStatus
	resp := ts.submitBody
	ts.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, resp)
}

func (ts *testService) counts() (config, submit int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.configCalls, ts.submitCalls
}

func (ts *testService) submitBodyJSON() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return string(ts.lastSubmitBody)
}

// newTestWidget initializes a widget against the test service and waits for
// it to become ready. Destroys it on cleanup so widget IDs can be reused.
func newTestWidget(t *testing.T, ts *testService, widgetID string, adjust ...func(*Options)) *Widget {
	t.Helper()
	opts := Options{
		WidgetID: widgetID,
		BaseURL:  ts.srv.URL,
		Logger:   logging.NullLogger,
	}
	for _, fn := range adjust {
		fn(&opts)
	}
	w, err := Init(opts)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}
	return w
}

func TestInitRequiresWidgetID(t *testing.T) {
	_, err := Init(Options{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Init(empty) error = %v, want *ValidationError", err)
	}
}

func TestInitIdempotent(t *testing.T) {
	ts := newTestService(t)

	a := newTestWidget(t, ts, "wgt-idem")
	b, err := Init(Options{WidgetID: "wgt-idem", BaseURL: "http://ignored.invalid"})
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if a != b {
		t.Error("second Init returned a different instance")
	}

	got, ok := GetInstance("wgt-idem")
	if !ok || got != a {
		t.Errorf("GetInstance() = %v, %v; want original instance", got, ok)
	}
	if config, _ := ts.counts(); config != 1 {
		t.Errorf("config fetches = %d, want 1", config)
	}
}

func TestDestroyAllowsReinit(t *testing.T) {
	ts := newTestService(t)

	a := newTestWidget(t, ts, "wgt-reinit")
	a.Destroy()

	if _, ok := GetInstance("wgt-reinit"); ok {
		t.Fatal("destroyed widget still registered")
	}

	b := newTestWidget(t, ts, "wgt-reinit")
	if a == b {
		t.Error("re-Init after Destroy returned the destroyed instance")
	}
}

func TestInitializeReady(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate

	var readyPayload any
	var mu sync.Mutex

	w, err := Init(Options{WidgetID: "wgt-ready", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)
	w.On(TopicReady, func(e Event) {
		mu.Lock()
		readyPayload = e.Payload
		mu.Unlock()
	})
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}

	s := w.GetSnapshot()
	if !s.IsReady || s.Err != nil {
		t.Errorf("snapshot after ready = %+v", s)
	}
	remote := w.RemoteConfig()
	if remote == nil || remote.WidgetID != "wgt-ready" {
		t.Errorf("RemoteConfig() = %+v", remote)
	}

	mu.Lock()
	defer mu.Unlock()
	if cfg, ok := readyPayload.(*WidgetConfig); !ok || cfg.Name != "Test Widget" {
		t.Errorf("ready payload = %#v, want *WidgetConfig", readyPayload)
	}
}

func TestInitializeFailure(t *testing.T) {
	ts := newTestService(t)
	ts.configStatus = http.StatusInternalServerError
	ts.configBody = `{"detail": "config store down"}`
	gate := make(chan struct{})
	ts.configGate = gate

	errCh := make(chan error, 1)

	w, err := Init(Options{WidgetID: "wgt-fail", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)
	w.On(TopicError, func(e Event) {
		if err, ok := e.Payload.(error); ok {
			errCh <- err
		}
	})
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = w.WaitUntilReady(ctx)

	var serr *ServerError
	if !errors.As(err, &serr) || serr.Status != http.StatusInternalServerError {
		t.Fatalf("WaitUntilReady() error = %v, want 500 *ServerError", err)
	}
	if !strings.Contains(serr.Message, "config store down") {
		t.Errorf("error message = %q, want server detail", serr.Message)
	}

	s := w.GetSnapshot()
	if s.IsReady || s.Err == nil {
		t.Errorf("snapshot after failure = %+v", s)
	}

	select {
	case emitted := <-errCh:
		if !errors.As(emitted, &serr) {
			t.Errorf("error event payload = %v", emitted)
		}
	case <-time.After(2 * time.Second):
		t.Error("no error event emitted")
	}
}

func TestWaitUntilReadyContext(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate
	defer close(gate)

	w, err := Init(Options{WidgetID: "wgt-ctx", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.WaitUntilReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitUntilReady() error = %v, want deadline exceeded", err)
	}
}

func TestWaitUntilReadyAfterDestroy(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate
	defer close(gate)

	w, err := Init(Options{WidgetID: "wgt-wait-destroy", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	w.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitUntilReady(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("WaitUntilReady() error = %v, want ErrDestroyed", err)
	}
}

func TestSnapshotIdentity(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-snap")

	first := w.GetSnapshot()
	if first != w.GetSnapshot() {
		t.Error("snapshot pointer changed without a mutation")
	}

	w.Open()
	second := w.GetSnapshot()
	if second == first {
		t.Error("snapshot pointer unchanged after Open")
	}
	if first.IsOpen {
		t.Error("old snapshot mutated in place")
	}
	if !second.IsOpen {
		t.Error("new snapshot missing the open flag")
	}
}

func TestOpenRequiresReady(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate

	w, err := Init(Options{WidgetID: "wgt-gate", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)

	w.Open()
	if w.GetSnapshot().IsOpen {
		t.Error("Open before ready changed state")
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}

	w.Open()
	if !w.GetSnapshot().IsOpen {
		t.Error("Open after ready did not open")
	}
}

func TestOpenCloseToggleEvents(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-events")

	var mu sync.Mutex
	var got []Topic
	record := func(e Event) {
		mu.Lock()
		got = append(got, e.Topic)
		mu.Unlock()
	}
	w.On(TopicOpen, record)
	w.On(TopicClose, record)

	w.Open()
	w.Open() // already open: no second event
	w.Close()
	w.Close() // already closed
	w.Toggle()
	w.Toggle()

	want := []Topic{TopicOpen, TopicClose, TopicOpen, TopicClose}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOnceFiresOnce(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-once")

	var mu sync.Mutex
	calls := 0
	w.Once(TopicOpen, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	w.Open()
	w.Close()
	w.Open()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("once handler calls = %d, want 1", calls)
	}
}

func TestShowHide(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-vis")

	if !w.GetSnapshot().IsVisible {
		t.Fatal("widget not visible by default")
	}
	w.Hide()
	if w.GetSnapshot().IsVisible {
		t.Error("Hide did not clear visibility")
	}
	w.Show()
	if !w.GetSnapshot().IsVisible {
		t.Error("Show did not restore visibility")
	}
}

func TestSubscribe(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-sub")

	var mu sync.Mutex
	notified := 0
	unsub := w.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	w.Open()
	w.Close()

	mu.Lock()
	before := notified
	mu.Unlock()
	if before != 2 {
		t.Errorf("notifications = %d, want 2", before)
	}

	unsub()
	w.Open()

	mu.Lock()
	defer mu.Unlock()
	if notified != before {
		t.Errorf("notifications after unsubscribe = %d, want %d", notified, before)
	}
}

func TestSubmitNotReady(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate
	defer close(gate)

	w, err := Init(Options{WidgetID: "wgt-notready", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(w.Destroy)

	if _, err := w.Submit(context.Background(), Feedback{Message: "hi"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Submit before ready error = %v, want ErrNotReady", err)
	}
	if _, submits := ts.counts(); submits != 0 {
		t.Errorf("submit requests = %d, want 0", submits)
	}
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-valid")

	tests := []struct {
		name    string
		fb      Feedback
		wantErr error
	}{
		{"empty message", Feedback{}, ErrMessageRequired},
		{"whitespace message", Feedback{Message: "  \n\t "}, ErrMessageRequired},
		{"message over limit", Feedback{Message: strings.Repeat("x", MaxMessageLength+1)}, ErrMessageTooLong},
		{"bad sentiment", Feedback{Message: "ok", Sentiment: "thrilled"}, ErrInvalidSentiment},
		{
			"metadata value over limit",
			Feedback{Message: "ok", Metadata: map[string]string{"k": strings.Repeat("v", MaxMetadataValueLength+1)}},
			ErrMetadataValueTooLong,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.Submit(context.Background(), tt.fb); !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, submits := ts.counts(); submits != 0 {
		t.Errorf("submit requests = %d, want 0 for rejected input", submits)
	}

	// The limit itself is accepted.
	if _, err := w.Submit(context.Background(), Feedback{Message: strings.Repeat("x", MaxMessageLength)}); err != nil {
		t.Errorf("Submit(at limit) error = %v", err)
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-e2e", func(o *Options) {
		o.Config = Config{Page: "/pricing", Referrer: "https://example.com"}
	})

	w.Identify("user-1", map[string]any{
		"email": "traits@example.com",
		"plan":  "pro",
	})
	w.SetData(map[string]any{
		"email": "data@example.com",
		"seat":  "3",
	})

	var mu sync.Mutex
	var submitted any
	w.On(TopicSubmit, func(e Event) {
		mu.Lock()
		submitted = e.Payload
		mu.Unlock()
	})

	resp, err := w.Submit(context.Background(), Feedback{
		Message:   "love it",
		Sentiment: SentimentPositive,
		Metadata:  map[string]string{"page": "/override", "build": "42"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.ID != "fb_1" {
		t.Errorf("response ID = %q, want fb_1", resp.ID)
	}

	ts.mu.Lock()
	token := ts.lastSubmitHeaders.Get("X-Submission-Token")
	ts.mu.Unlock()
	if token != "tok-test" {
		t.Errorf("submission token header = %q, want tok-test", token)
	}

	body := ts.submitBodyJSON()
	checks := []struct {
		path string
		want string
	}{
		{"message", "love it"},
		{"sentiment", "positive"},
		{"metadata.page", "/override"},
		{"metadata.referrer", "https://example.com"},
		{"metadata.build", "42"},
		{"user.user_id", "user-1"},
		{"user.email", "data@example.com"},
		{"user.traits.plan", "pro"},
		{"user.data.seat", "3"},
	}
	for _, c := range checks {
		if got := gjson.Get(body, c.path).String(); got != c.want {
			t.Errorf("body %s = %q, want %q", c.path, got, c.want)
		}
	}
	if !gjson.Get(body, "metadata.userAgent").Exists() {
		t.Error("body missing default userAgent metadata")
	}
	if !gjson.Get(body, "client.sdk").Exists() {
		t.Error("body missing client.sdk stamp")
	}

	s := w.GetSnapshot()
	if s.IsSubmitting || s.Err != nil {
		t.Errorf("snapshot after submit = %+v", s)
	}
	mu.Lock()
	defer mu.Unlock()
	sub, ok := submitted.(*Submission)
	if !ok {
		t.Fatalf("submit event payload = %T, want *Submission", submitted)
	}
	if sub.Message != "love it" {
		t.Errorf("submit event payload message = %q", sub.Message)
	}
}

func TestSubmitFailureSetsError(t *testing.T) {
	ts := newTestService(t)
	ts.submitStatus = http.StatusInternalServerError
	ts.submitBody = `{"detail": "queue full"}`
	w := newTestWidget(t, ts, "wgt-subfail")

	var mu sync.Mutex
	errEvents := 0
	w.On(TopicError, func(Event) {
		mu.Lock()
		errEvents++
		mu.Unlock()
	})

	_, err := w.Submit(context.Background(), Feedback{Message: "hi"})
	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Submit() error = %v, want *ServerError", err)
	}

	s := w.GetSnapshot()
	if s.IsSubmitting {
		t.Error("submitting flag left set after failure")
	}
	if s.Err == nil {
		t.Error("snapshot error not recorded")
	}
	mu.Lock()
	defer mu.Unlock()
	if errEvents != 1 {
		t.Errorf("error events = %d, want 1", errEvents)
	}
}

func TestSubmitClearsPreviousError(t *testing.T) {
	ts := newTestService(t)
	ts.submitStatus = http.StatusInternalServerError
	ts.submitBody = `{"detail": "transient"}`
	w := newTestWidget(t, ts, "wgt-recover")

	if _, err := w.Submit(context.Background(), Feedback{Message: "first"}); err == nil {
		t.Fatal("expected first submit to fail")
	}

	ts.mu.Lock()
	ts.submitStatus = http.StatusCreated
	ts.submitBody = `{"id":"fb_2","status":"received"}`
	ts.mu.Unlock()

	if _, err := w.Submit(context.Background(), Feedback{Message: "second"}); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if s := w.GetSnapshot(); s.Err != nil {
		t.Errorf("snapshot error not cleared after success: %v", s.Err)
	}
}

func TestResetClearsIdentity(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-reset")

	w.Identify("user-9", map[string]any{"plan": "pro"})
	w.Reset()

	if _, err := w.Submit(context.Background(), Feedback{Message: "anon"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if gjson.Get(ts.submitBodyJSON(), "user").Exists() {
		t.Error("user block present after Reset")
	}
}

func TestSetConfigMerge(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-cfg", func(o *Options) {
		o.Config = Config{Page: "/home", Locale: "en"}
	})

	w.SetConfig(Config{Page: "/account"})

	got := w.GetConfig()
	if got.Page != "/account" {
		t.Errorf("Page = %q, want /account", got.Page)
	}
	if got.Locale != "en" {
		t.Errorf("Locale = %q, want en (unset fields keep prior values)", got.Locale)
	}
}

func TestDestroyedWidgetIsInert(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-inert")
	w.Open()
	w.Destroy()
	w.Destroy() // idempotent

	w.Open()
	w.Close()
	w.Show()
	w.Hide()
	w.Identify("ghost", nil)
	w.Reset()
	w.SetConfig(Config{Page: "/x"})

	if _, err := w.Submit(context.Background(), Feedback{Message: "hi"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Submit after Destroy error = %v, want ErrNotReady", err)
	}
	if s := w.GetSnapshot(); s.IsOpen || s.IsReady {
		t.Errorf("post-destroy snapshot = %+v, want reset state", s)
	}
}

func TestDestroyMidInitialization(t *testing.T) {
	ts := newTestService(t)
	gate := make(chan struct{})
	ts.configGate = gate

	w, err := Init(Options{WidgetID: "wgt-mid-destroy", BaseURL: ts.srv.URL, Logger: logging.NullLogger})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var mu sync.Mutex
	var fired []Topic
	record := func(e Event) {
		mu.Lock()
		fired = append(fired, e.Topic)
		mu.Unlock()
	}
	w.On(TopicReady, record)
	w.On(TopicError, record)
	w.On(TopicChange, record)

	// Wait for the config request to start, destroy while it is in
	// flight, then let it complete.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if calls, _ := ts.counts(); calls >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("config request never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Destroy()
	close(gate)

	// Give the initialization goroutine time to run to completion.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	events := len(fired)
	mu.Unlock()
	if events != 0 {
		t.Errorf("events after mid-flight Destroy = %v, want none", fired)
	}

	s := w.GetSnapshot()
	if s.IsReady || s.Err != nil || s.IsOpen {
		t.Errorf("snapshot after mid-flight Destroy = %+v, want defaults", s)
	}
	if w.RemoteConfig() != nil {
		t.Error("remote config recorded on a destroyed widget")
	}
}

func TestTokenReusedAcrossSubmits(t *testing.T) {
	ts := newTestService(t)
	w := newTestWidget(t, ts, "wgt-token")

	for i := 0; i < 3; i++ {
		if _, err := w.Submit(context.Background(), Feedback{Message: "again"}); err != nil {
			t.Fatalf("Submit #%d error = %v", i+1, err)
		}
	}
	config, submits := ts.counts()
	if config != 1 {
		t.Errorf("config fetches = %d, want 1 (token reused)", config)
	}
	if submits != 3 {
		t.Errorf("submit requests = %d, want 3", submits)
	}
}
