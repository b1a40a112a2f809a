package ai

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
)

type mockModelClient struct {
	mock.Mock
	name string
}

func (m *mockModelClient) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockModelClient) Model() string {
	return m.name
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestGateway(local, cloud port.ModelClient, counter *CallCounter) *Gateway {
	return NewGateway(NewTwoTierRouter(local, cloud), zap.NewNop(),
		WithCallCounter(counter),
		WithSleeper(noSleep))
}

func TestGateway_RetriesRateLimitThenSucceeds(t *testing.T) {
	cloud := &mockModelClient{name: "cloud-model"}
	cloud.On("Complete", mock.Anything, mock.Anything).
		Return("", &port.StatusError{StatusCode: 429, Message: "slow down"}).Twice()
	cloud.On("Complete", mock.Anything, mock.Anything).
		Return(`{"ok": true}`, nil).Once()

	counter := NewCallCounter()
	gw := newTestGateway(&mockModelClient{name: "local-model"}, cloud, counter)

	text, err := gw.Invoke(context.Background(), Request{Tier: TierCloud, Prompt: "p", Operation: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, text)
	assert.Equal(t, int64(3), counter.Cloud())
	assert.Equal(t, int64(0), counter.Local())
	cloud.AssertNumberOfCalls(t, "Complete", 3)
}

func TestGateway_ErrorKinds(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantKind     ErrorKind
		wantAttempts int
		wantStatus   int
	}{
		{
			name:         "client error is not retried",
			err:          &port.StatusError{StatusCode: 401, Message: "bad key"},
			wantKind:     KindClientError,
			wantAttempts: 1,
			wantStatus:   401,
		},
		{
			name:         "rate limit exhausted",
			err:          &port.StatusError{StatusCode: 429},
			wantKind:     KindRateLimited,
			wantAttempts: 3,
			wantStatus:   429,
		},
		{
			name:         "server error exhausted",
			err:          &port.StatusError{StatusCode: 503},
			wantKind:     KindServerError,
			wantAttempts: 3,
			wantStatus:   503,
		},
		{
			name:         "network error exhausted",
			err:          errors.New("connection refused"),
			wantKind:     KindServerError,
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := &mockModelClient{name: "cloud-model"}
			cloud.On("Complete", mock.Anything, mock.Anything).Return("", tt.err)

			counter := NewCallCounter()
			gw := newTestGateway(nil, cloud, counter)

			_, err := gw.Invoke(context.Background(), Request{Tier: TierCloud, Prompt: "p"})
			require.Error(t, err)

			me, ok := AsModelError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, me.Kind)
			assert.Equal(t, tt.wantAttempts, me.Attempts)
			assert.Equal(t, tt.wantStatus, me.StatusCode)
			assert.Equal(t, "cloud-model", me.Model)
			assert.Equal(t, int64(tt.wantAttempts), counter.Cloud())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestGateway_CancelledParentIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	local := &mockModelClient{name: "local-model"}
	local.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	counter := NewCallCounter()
	gw := newTestGateway(local, nil, counter)

	_, err := gw.Invoke(ctx, Request{Tier: TierLocal, Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCancelled))
	local.AssertNumberOfCalls(t, "Complete", 1)
	assert.Equal(t, int64(1), counter.Local())
}

func TestGateway_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cloud := &mockModelClient{name: "cloud-model"}
	counter := NewCallCounter()
	gw := newTestGateway(nil, cloud, counter)

	_, err := gw.Invoke(ctx, Request{Tier: TierCloud})
	assert.True(t, IsKind(err, KindCancelled))
	assert.Equal(t, int64(0), counter.Cloud())
	cloud.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestGateway_PerCallTimeoutIsRetried(t *testing.T) {
	cloud := &mockModelClient{name: "cloud-model"}
	cloud.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return("", context.DeadlineExceeded).Once()
	cloud.On("Complete", mock.Anything, mock.Anything).Return("done", nil).Once()

	gw := newTestGateway(nil, cloud, NewCallCounter())

	text, err := gw.Invoke(context.Background(), Request{Tier: TierCloud, Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestGateway_PassesRequestFields(t *testing.T) {
	cloud := &mockModelClient{name: "cloud-model"}
	want := port.CompletionRequest{SystemPrompt: "sys", Prompt: "user", MaxTokens: 42, Temperature: 0.3}
	cloud.On("Complete", mock.Anything, want).Return("ok", nil)

	gw := newTestGateway(nil, cloud, NewCallCounter())
	_, err := gw.Invoke(context.Background(), Request{
		Tier:         TierCloud,
		SystemPrompt: "sys",
		Prompt:       "user",
		MaxTokens:    42,
		Temperature:  0.3,
	})
	require.NoError(t, err)
	cloud.AssertExpectations(t)
}

func TestGateway_NoRoute(t *testing.T) {
	gw := newTestGateway(nil, nil, NewCallCounter())

	_, err := gw.Invoke(context.Background(), Request{Tier: TierLocal})
	assert.True(t, IsKind(err, KindClientError))
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestCloudOnlyRouter(t *testing.T) {
	cloud := &mockModelClient{name: "cloud-model"}
	router := NewCloudOnlyRouter(cloud)

	for _, tier := range []Tier{TierLocal, TierCloud} {
		client, err := router.Route(tier)
		require.NoError(t, err)
		assert.Equal(t, "cloud-model", client.Model())
	}
}

func TestGateway_CloudOnlyRouterCountsCloud(t *testing.T) {
	cloud := &mockModelClient{name: "cloud-model"}
	cloud.On("Complete", mock.Anything, mock.Anything).Return(`{"actionable": true}`, nil).Once()

	counter := NewCallCounter()
	gw := NewGateway(NewCloudOnlyRouter(cloud), zap.NewNop(),
		WithCallCounter(counter),
		WithSleeper(noSleep))

	_, err := gw.Invoke(context.Background(), Request{Tier: TierLocal, Prompt: "p", Operation: "classify"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Cloud())
	assert.Equal(t, int64(0), counter.Local())
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt, nil), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_DelayWithJitter(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = true
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		d := p.Delay(2, rnd)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}
