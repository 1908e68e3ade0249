package poller_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/homework-notifier/internal/messages"
	"github.com/ubuntu/homework-notifier/internal/metrics"
	"github.com/ubuntu/homework-notifier/internal/poller"
	"github.com/ubuntu/homework-notifier/internal/review"
	"github.com/ubuntu/homework-notifier/internal/testutils"
)

const (
	approvedA   = `Review status of submission "A" changed. The work has been reviewed: the reviewer liked everything. Hooray!`
	newA        = "new submission under review: A"
	newB        = "new submission under review: B"
	unreachable = "Global error: review API is unreachable"
)

func homeworks(records ...any) map[string]any {
	return map[string]any{"homeworks": records, "current_date": 1.0}
}

func hw(name, status string) map[string]any {
	return map[string]any{"homework_name": name, "status": status}
}

func TestCycle(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		responses []response

		wantMessages [][]string
		wantStates   map[string]review.Status
		wantGlobal   review.GlobalError
	}{
		"New submission is announced": {
			responses:    []response{{payload: homeworks(hw("A", "reviewing"))}},
			wantMessages: [][]string{{newA}},
			wantStates:   map[string]review.Status{"A": review.StatusReviewing},
		},
		"Status change is announced with its verdict": {
			responses: []response{
				{payload: homeworks(hw("A", "reviewing"))},
				{payload: homeworks(hw("A", "approved"))},
			},
			wantMessages: [][]string{{newA}, {approvedA}},
			wantStates:   map[string]review.Status{"A": review.StatusApproved},
		},
		"Unchanged batch is silent": {
			responses: []response{
				{payload: homeworks(hw("A", "reviewing"))},
				{payload: homeworks(hw("A", "reviewing"))},
			},
			wantMessages: [][]string{{newA}, nil},
			wantStates:   map[string]review.Status{"A": review.StatusReviewing},
		},
		"Unknown status is flagged": {
			responses: []response{{payload: homeworks(hw("A", "weird"))}},
			wantMessages: [][]string{{
				newA,
				"new status of submission A is undetermined!",
			}},
			wantStates: map[string]review.Status{"A": review.StatusUnknown},
		},
		"Malformed record is reported and not stored": {
			responses: []response{{payload: homeworks("oops", hw("B", "rejected"))}},
			wantMessages: [][]string{{
				"unknown submission with error: malformed homework record",
				newB,
			}},
			wantStates: map[string]review.Status{"B": review.StatusRejected},
		},
		"Same global error is reported once": {
			responses: []response{
				{err: review.Unreachable},
				{err: review.Unreachable},
			},
			wantMessages: [][]string{{unreachable}, nil},
			wantStates:   map[string]review.Status{},
			wantGlobal:   review.Unreachable,
		},
		"Different global error is reported again": {
			responses: []response{
				{err: review.Unreachable},
				{err: fmt.Errorf("%w: 500", review.StatusCode)},
			},
			wantMessages: [][]string{{unreachable}, {"Global error: review API returned an unexpected status code"}},
			wantStates:   map[string]review.Status{},
			wantGlobal:   review.StatusCode,
		},
		"Global error keeps states and recovery resumes diffing": {
			responses: []response{
				{payload: homeworks(hw("A", "reviewing"))},
				{payload: map[string]any{}},
				{payload: homeworks(hw("A", "approved"))},
			},
			wantMessages: [][]string{{newA}, {"Global error: empty response from review API"}, {approvedA}},
			wantStates:   map[string]review.Status{"A": review.StatusApproved},
		},
		"Shape errors are global errors": {
			responses:    []response{{payload: map[string]any{"homeworks": "none"}}},
			wantMessages: [][]string{{"Global error: unexpected homeworks type in review API response"}},
			wantStates:   map[string]review.Status{},
			wantGlobal:   review.WrongValueType,
		},
		"Unclassified fetch errors are unreachable": {
			responses:    []response{{err: errors.New("boom")}},
			wantMessages: [][]string{{unreachable}},
			wantStates:   map[string]review.Status{},
			wantGlobal:   review.Unreachable,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := &fakeFetcher{responses: tc.responses}
			s := &fakeSink{}
			p, err := poller.New(f, s, &fakeSwitch{enabled: true}, messages.New("en"), prometheus.NewRegistry())
			require.NoError(t, err, "Setup: could not create poller")

			for i, want := range tc.wantMessages {
				s.reset()
				require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")
				assert.Equal(t, want, s.sent(), "Unexpected messages for cycle %d", i)
			}

			got := p.Storage()
			assert.Equal(t, tc.wantGlobal, got.GlobalError, "Unexpected global error")
			statuses := make(map[string]review.Status, len(got.States))
			for name, st := range got.States {
				statuses[name] = st.Status
			}
			assert.Equal(t, tc.wantStates, statuses, "Unexpected stored statuses")
		})
	}
}

func TestCycleDelivery(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		deliver   bool
		disabled  bool
		sinkFails bool

		wantSent     []string
		wantFailures float64
	}{
		"Delivers messages":                  {deliver: true, wantSent: []string{newA, newB}},
		"Priming cycle only records":         {deliver: false},
		"Disabled delivery only logs":        {deliver: true, disabled: true},
		"Send failures are counted and skip": {deliver: true, sinkFails: true, wantFailures: 2},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := &fakeFetcher{responses: []response{{payload: homeworks(hw("A", "reviewing"), hw("B", "reviewing"))}}}
			s := &fakeSink{fail: tc.sinkFails}
			reg := prometheus.NewRegistry()
			p, err := poller.New(f, s, &fakeSwitch{enabled: !tc.disabled}, messages.New("en"), reg)
			require.NoError(t, err, "Setup: could not create poller")

			require.NoError(t, p.Cycle(t.Context(), tc.deliver), "Cycle should not fail")
			assert.Equal(t, tc.wantSent, s.sent(), "Unexpected delivered messages")
			assert.Len(t, p.Storage().States, 2, "Storage should advance whatever the delivery outcome")

			assert.InDelta(t, tc.wantFailures, testutil.ToFloat64(p.Metrics().DeliveryFailures), 0, "Unexpected delivery failures count")
		})
	}
}

func TestCycleMetrics(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: []response{
		{payload: homeworks(hw("A", "reviewing"), hw("B", "weird"))},
		{err: review.Unreachable},
	}}
	reg := prometheus.NewRegistry()
	p, err := poller.New(f, &fakeSink{}, &fakeSwitch{enabled: true}, messages.New("en"), reg)
	require.NoError(t, err, "Setup: could not create poller")

	require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")
	require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")

	m := p.Metrics()
	assert.Equal(t, 3, testutil.CollectAndCount(m.Notifications), "Only the produced notification kinds should have series")

	tests := map[string]struct {
		collector prometheus.Collector
		want      float64
	}{
		"Healthy cycles":      {collector: m.Cycles.WithLabelValues(metrics.ResultOK), want: 1},
		"Global error cycles": {collector: m.Cycles.WithLabelValues(metrics.ResultGlobalError), want: 1},
		"Global failures":     {collector: m.Notifications.WithLabelValues("global_failure"), want: 1},
		"New submissions":     {collector: m.Notifications.WithLabelValues("new_submission"), want: 2},
		"New undetermined":    {collector: m.Notifications.WithLabelValues("new_undetermined"), want: 1},
		"Tracked submissions": {collector: m.Tracked, want: 2},
		"Delivery failures":   {collector: m.DeliveryFailures},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tc.want, testutil.ToFloat64(tc.collector), 0, "Unexpected metric value")
		})
	}
}

func TestCycleLogs(t *testing.T) {
	t.Parallel()

	h := testutils.NewMockHandler()
	f := &fakeFetcher{responses: []response{
		{err: review.Unreachable},
		{payload: homeworks(hw("A", "reviewing"), map[string]any{"status": "approved"})},
	}}
	p, err := poller.New(f, &fakeSink{}, &fakeSwitch{enabled: true}, messages.New("en"), prometheus.NewRegistry(),
		poller.WithLogger(slog.New(h)))
	require.NoError(t, err, "Setup: could not create poller")

	require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")
	require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")

	var errs, warns []slog.Record
	cycles := make(map[string]bool)
	for _, r := range h.Records() {
		switch r.Level {
		case slog.LevelError:
			errs = append(errs, r)
		case slog.LevelWarn:
			warns = append(warns, r)
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "cycle" {
				cycles[a.Value.String()] = true
			}
			return true
		})
	}
	require.Len(t, errs, 1, "Only the global failure should be logged as an error")
	testutils.ExpectedRecord{Level: slog.LevelError, Message: "Could not get homework statuses"}.Compare(t, errs[0])
	require.Len(t, warns, 1, "Only the unnamed record should be logged as a warning")
	testutils.ExpectedRecord{Level: slog.LevelWarn, Message: review.MissingName.String()}.Compare(t, warns[0])
	var warnCycle string
	warns[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "cycle" {
			warnCycle = a.Value.String()
		}
		return true
	})
	assert.NotEmpty(t, warnCycle, "Record warnings should carry the cycle ID")
	assert.Len(t, cycles, 2, "Each cycle should log with its own ID")
	assert.Contains(t, h.Messages(slog.LevelInfo), "Message sent", "Delivered messages should be logged")
}

func TestCycleCanceledKeepsStorage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	f := &fakeFetcher{responses: []response{{payload: homeworks(hw("A", "reviewing"))}}, onFetch: cancel}
	s := &fakeSink{}
	p, err := poller.New(f, s, &fakeSwitch{enabled: true}, messages.New("en"), prometheus.NewRegistry())
	require.NoError(t, err, "Setup: could not create poller")

	err = p.Cycle(ctx, true)
	require.ErrorIs(t, err, context.Canceled, "Cycle should return the context error")
	assert.Empty(t, p.Storage().States, "Storage should not change on a canceled cycle")
	assert.Equal(t, review.Healthy, p.Storage().GlobalError, "A canceled fetch is not a global error")
	assert.Empty(t, s.sent(), "Nothing should be delivered on a canceled cycle")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		lastCycleAgo time.Duration
		runCycle     bool
		fetchErr     error

		wantErr bool
	}{
		"Healthy when just created":          {},
		"Healthy within a few intervals":     {lastCycleAgo: 2 * time.Minute},
		"Healthy again after a cycle":        {lastCycleAgo: time.Hour, runCycle: true},
		"Healthy after a global error cycle": {lastCycleAgo: time.Hour, runCycle: true, fetchErr: review.Unreachable},

		"Unhealthy when cycles stalled": {lastCycleAgo: time.Hour, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			resp := response{payload: homeworks(hw("A", "reviewing"))}
			if tc.fetchErr != nil {
				resp = response{err: tc.fetchErr}
			}
			f := &fakeFetcher{responses: []response{resp}}
			p, err := poller.New(f, &fakeSink{}, &fakeSwitch{enabled: true}, messages.New("en"), prometheus.NewRegistry(),
				poller.WithInterval(time.Minute))
			require.NoError(t, err, "Setup: could not create poller")

			if tc.lastCycleAgo > 0 {
				p.SetLastCycle(time.Now().Add(-tc.lastCycleAgo))
			}
			if tc.runCycle {
				require.NoError(t, p.Cycle(t.Context(), true), "Cycle should not fail")
			}

			err = p.Health()
			if tc.wantErr {
				require.Error(t, err, "Health should fail when no cycle completed for several intervals")
				return
			}
			require.NoError(t, err, "Health should succeed")
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		opts          []poller.Options
		registerTwice bool

		wantErr bool
	}{
		"Default options":  {},
		"Custom options":   {opts: []poller.Options{poller.WithInterval(time.Second), poller.WithFromDate(10), poller.WithNotifyOnStart(true)}},
		"Zero interval":    {opts: []poller.Options{poller.WithInterval(0)}, wantErr: true},
		"Negative date":    {opts: []poller.Options{poller.WithFromDate(-1)}, wantErr: true},
		"Metrics conflict": {registerTwice: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reg := prometheus.NewRegistry()
			if tc.registerTwice {
				_, err := poller.New(&fakeFetcher{}, &fakeSink{}, &fakeSwitch{}, messages.New("en"), reg)
				require.NoError(t, err, "Setup: could not create first poller")
			}

			p, err := poller.New(&fakeFetcher{}, &fakeSink{}, &fakeSwitch{}, messages.New("en"), reg, tc.opts...)
			if tc.wantErr {
				require.Error(t, err, "New should fail")
				return
			}
			require.NoError(t, err, "New should not fail")
			assert.Empty(t, p.Storage().States, "New poller should start with empty states")
			assert.Equal(t, review.Healthy, p.Storage().GlobalError, "New poller should start healthy")
		})
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		notifyOnStart bool
		watchErr      error

		wantFirst []string
		wantErr   bool
	}{
		"Primes then notifies changes":   {},
		"Notifies first cycle on demand": {notifyOnStart: true, wantFirst: []string{newA}},

		"Error when delivery watch fails": {watchErr: errors.New("no inotify"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := &fakeFetcher{responses: []response{
				{payload: homeworks(hw("A", "reviewing"))},
				{payload: homeworks(hw("A", "approved"))},
			}}
			s := &fakeSink{}
			sw := &fakeSwitch{enabled: true, watchErr: tc.watchErr}
			p, err := poller.New(f, s, sw, messages.New("en"), prometheus.NewRegistry(),
				poller.WithInterval(10*time.Millisecond), poller.WithNotifyOnStart(tc.notifyOnStart))
			require.NoError(t, err, "Setup: could not create poller")

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- p.Run(ctx) }()

			if tc.wantErr {
				select {
				case err := <-errCh:
					require.Error(t, err, "Run should fail")
					require.NotErrorIs(t, err, context.Canceled, "Run should fail before being canceled")
				case <-time.After(5 * time.Second):
					require.Fail(t, "Run did not return")
				}
				return
			}

			want := append(tc.wantFirst, approvedA)
			require.Eventually(t, func() bool { return len(s.sent()) >= len(want) }, 5*time.Second, 10*time.Millisecond,
				"Run should deliver the status change")
			sw.notify()
			cancel()

			select {
			case err := <-errCh:
				require.ErrorIs(t, err, context.Canceled, "Run should stop with the context error")
			case <-time.After(5 * time.Second):
				require.Fail(t, "Run did not stop after cancellation")
			}
			assert.Equal(t, want, s.sent(), "Run should deliver each change once")
		})
	}
}

func TestRunWithCanceledContext(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	p, err := poller.New(f, &fakeSink{}, &fakeSwitch{}, messages.New("en"), prometheus.NewRegistry())
	require.NoError(t, err, "Setup: could not create poller")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled, "Run should return immediately")
	assert.Zero(t, f.callCount(), "Run should not fetch with a canceled context")
}

type response struct {
	payload any
	err     error
}

// fakeFetcher replays responses, repeating the last one once exhausted.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     int
	onFetch   func()
}

func (f *fakeFetcher) Fetch(_ context.Context, _ int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch()
	}
	f.calls++
	if len(f.responses) == 0 {
		return homeworks(), nil
	}
	i := min(f.calls, len(f.responses)) - 1
	return f.responses[i].payload, f.responses[i].err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []string
	fail bool
}

func (s *fakeSink) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New("send failed")
	}
	s.msgs = append(s.msgs, text)
	return nil
}

func (s *fakeSink) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

type fakeSwitch struct {
	mu       sync.Mutex
	enabled  bool
	watchErr error
	changes  chan struct{}
}

func (s *fakeSwitch) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSwitch) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if s.watchErr != nil {
		return nil, nil, s.watchErr
	}

	s.mu.Lock()
	s.changes = make(chan struct{}, 1)
	changes := s.changes
	s.mu.Unlock()

	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(errs)
	}()
	return changes, errs, nil
}

func (s *fakeSwitch) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changes == nil {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
