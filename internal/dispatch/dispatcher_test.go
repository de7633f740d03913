package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/dispatch"
	"github.com/stopro/ai-taskqueue/internal/models"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
	"github.com/stopro/ai-taskqueue/internal/tasks"
	"github.com/stopro/ai-taskqueue/internal/worker"
)

type env struct {
	mr  *miniredis.Miniredis
	rdb *redis.Client
	cfg *config.Config
	d   *dispatch.Dispatcher
	rt  *worker.Runtime
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.PingTimeout = 500 * time.Millisecond
	cfg.Worker.PollInterval = 10 * time.Millisecond

	results := redisq.NewResultStore(rdb, cfg.ResultExpires)
	return &env{
		mr:  mr,
		rdb: rdb,
		cfg: cfg,
		d:   dispatch.New(cfg, rdb, results, zap.NewNop()),
		rt:  worker.NewRuntime(cfg, rdb, results, tasks.Default(tasks.StubOCR{}), zap.NewNop()),
	}
}

// startWorker runs the worker loop and its ping responder in the background.
func (e *env) startWorker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serve, err := worker.NewResponder(e.rt.Worker, e.rdb, zap.NewNop()).Listen(ctx)
	require.NoError(t, err)

	done := make(chan struct{}, 2)
	go func() { _ = serve(); done <- struct{}{} }()
	go func() { _ = e.rt.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
}

func TestSubmitReturnsUniqueIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 50 {
		id, err := e.d.Submit(ctx, "check_math_answer", "x=3", "x=3")
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		res, err := e.d.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, res.Status)
	}

	n, err := redisq.QueueLength(ctx, e.rdb, e.cfg.Queue)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestSubmitRejectsUnserializableArguments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.d.Submit(ctx, "check_math_answer", make(chan int), "x")
	assert.ErrorIs(t, err, models.ErrSerialization)

	_, err = e.d.SubmitWithKwargs(ctx, "check_math_answer", nil, map[string]any{"student_answer": func() {}})
	assert.ErrorIs(t, err, models.ErrSerialization)

	n, err := redisq.QueueLength(ctx, e.rdb, e.cfg.Queue)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitTransportUnavailable(t *testing.T) {
	e := newEnv(t)
	e.mr.Close()
	ctx := context.Background()

	_, err := e.d.Submit(ctx, "check_math_answer", "x=3", "x=3")
	assert.ErrorIs(t, err, models.ErrTransportUnavailable)

	_, err = e.d.GetStatus(ctx, "whatever")
	assert.ErrorIs(t, err, models.ErrTransportUnavailable)
}

func TestRoundTripCheckMathAnswer(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	correct, err := e.d.Submit(ctx, "check_math_answer", "2x + 4 = 10", "2x + 4 = 10")
	require.NoError(t, err)
	wrong, err := e.d.SubmitWithKwargs(ctx, "check_math_answer", nil, map[string]any{
		"student_answer": "x=3",
		"correct_answer": "x=7",
	})
	require.NoError(t, err)

	res, err := e.d.Wait(ctx, correct, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
	var got tasks.AnswerCheck
	require.NoError(t, json.Unmarshal(res.Result, &got))
	assert.True(t, got.IsCorrect)

	res, err = e.d.Wait(ctx, wrong, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(res.Result, &got))
	assert.False(t, got.IsCorrect)
}

func TestRoundTripProcessSolutionImage(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := e.d.Submit(ctx, "process_solution_image", []byte{0xff, 0xd8, 0xff, 0xe0})
	require.NoError(t, err)

	res, err := e.d.Wait(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)

	var got tasks.OCRResult
	require.NoError(t, json.Unmarshal(res.Result, &got))
	assert.Equal(t, tasks.OCRResult{Text: "2x + 4 = 10", Math: []string{"2x + 4 = 10"}, Confidence: 0.95}, got)
}

func TestUnknownTaskFailsLazily(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := e.d.Submit(ctx, "generate_recommendations", "student-1")
	require.NoError(t, err)

	res, err := e.d.Wait(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailure, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, models.ErrorKindUnknownTask, res.Error.Kind)
}

func TestWaitHonoursContext(t *testing.T) {
	e := newEnv(t)
	id, err := e.d.Submit(context.Background(), "check_math_answer", "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := e.d.Wait(ctx, id, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusPending, res.Status)
}

func TestWaitDefaultsNonPositiveInterval(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t)
	id, err := e.d.Submit(context.Background(), "check_math_answer", "x=3", "x=3")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.d.Wait(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
}

func TestPingConnected(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.d.Ping(context.Background()), "no worker running yet")

	e.startWorker(t)
	assert.True(t, e.d.Ping(context.Background()))

	workers := e.d.Workers(context.Background())
	require.Len(t, workers, 1)
	assert.Equal(t, e.rt.Worker.ID, workers[0].WorkerID)
}

func TestPingUnreachableBrokerIsBounded(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	probe := dispatch.NewProbe(rdb, 300*time.Millisecond, zap.NewNop())
	start := time.Now()
	assert.False(t, probe.Ping(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, probe.Replies(context.Background()))
}
