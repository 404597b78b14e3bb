package relay

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ferrydock/ferry/pkg/client"
	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/events"
	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/ingest"
	"github.com/ferrydock/ferry/pkg/queue"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

const waitFor = 5 * time.Second

type testEnv struct {
	store  *storage.MemoryStore
	queue  *queue.MemoryQueue
	reg    *registry.Registry
	execs  *executions.Service
	client *client.Client
	apiKey string
}

func startServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(0)
	reg := registry.New()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	creds := credentials.NewManager(store)
	execs := executions.NewService(store, q, broker)
	ing := ingest.NewService(store)

	srv := NewServer(store, creds, q, reg, execs, ing, broker, Options{
		HeartbeatInterval: time.Second,
		IdleTimeout:       time.Minute,
		DequeueWait:       100 * time.Millisecond,
	})

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	wire.RegisterRelayServer(grpcServer, srv)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	cl := client.FromConn(conn)
	t.Cleanup(func() { cl.Close() })

	require.NoError(t, store.CreateOrganization(ctx, &types.Organization{ID: "org-1", Name: "acme"}))
	_, apiKey, err := creds.IssueAPIKey(ctx, "org-1", "relayer", nil)
	require.NoError(t, err)

	return &testEnv{store: store, queue: q, reg: reg, execs: execs, client: cl, apiKey: apiKey}
}

func (e *testEnv) register(t *testing.T, name string) (string, *wire.RelayerConfig) {
	t.Helper()
	clusterID, cfg, err := e.client.Register(context.Background(), e.apiKey, name, "v1.0.0", nil)
	require.NoError(t, err)
	return clusterID, cfg
}

func (e *testEnv) waitActive(t *testing.T, clusterID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := e.store.GetCluster(context.Background(), clusterID)
		return err == nil && c.Status == types.ClusterStatusActive
	}, waitFor, 10*time.Millisecond)
}

func TestRegisterCluster(t *testing.T) {
	env := startServer(t)

	clusterID, cfg := env.register(t, "prod")
	assert.True(t, strings.HasPrefix(clusterID, "cl_"))
	assert.True(t, strings.HasPrefix(cfg.ClusterSecret, credentials.ClusterSecretTag))
	assert.Equal(t, 1000, cfg.HeartbeatIntervalMs)

	cluster, err := env.store.GetCluster(context.Background(), clusterID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusPending, cluster.Status)
	assert.Equal(t, "v1.0.0", cluster.RelayerVersion)
}

func TestRegisterClusterBadKey(t *testing.T) {
	env := startServer(t)

	_, _, err := env.client.Register(context.Background(), "ck_live_wrongwrongwrong", "prod", "v1", nil)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRegisterClusterRepeatReturnsExisting(t *testing.T) {
	env := startServer(t)

	clusterID, first := env.register(t, "prod")
	require.NotEmpty(t, first.ClusterSecret)

	// A relayer that lost the first response registers again under the
	// same name: same cluster id back, but the secret never travels
	// twice.
	repeatID, repeat := env.register(t, "prod")
	assert.Equal(t, clusterID, repeatID)
	assert.Empty(t, repeat.ClusterSecret)
	assert.Equal(t, 1000, repeat.HeartbeatIntervalMs)

	// The original secret still authenticates the stream.
	sess, err := env.client.Attach(context.Background(), clusterID, first.ClusterSecret, client.Handlers{})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)
}

func TestAttachBadSecret(t *testing.T) {
	env := startServer(t)
	clusterID, _ := env.register(t, "prod")

	sess, err := env.client.Attach(context.Background(), clusterID, "cs_wrong", client.Handlers{})
	require.NoError(t, err)
	defer sess.Close()

	select {
	case <-sess.Done():
		assert.Equal(t, codes.Unauthenticated, status.Code(sess.Err()))
	case <-time.After(waitFor):
		t.Fatal("session with bad secret was not rejected")
	}
}

func TestWorkDelivery(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	workCh := make(chan *wire.WorkItem, 10)
	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{
		OnWorkItem: func(ctx context.Context, item *wire.WorkItem) { workCh <- item },
	})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)

	require.NoError(t, env.store.CreateAgent(ctx, &types.Agent{
		ID: "ag-1", OrganizationID: "org-1", Name: "summarizer",
		Image: "img:v1", Status: types.AgentStatusActive,
	}))
	exec, err := env.execs.Submit(ctx, "org-1", executions.SubmitRequest{
		AgentName: "summarizer",
		Input:     json.RawMessage(`{"doc":"a.pdf"}`),
		Priority:  types.PriorityHigh,
	})
	require.NoError(t, err)

	select {
	case item := <-workCh:
		assert.Equal(t, exec.ID, item.ExecutionID)
		assert.Equal(t, "summarizer", item.AgentName)
		assert.Equal(t, int32(1), item.Priority)
	case <-time.After(waitFor):
		t.Fatal("work item not delivered")
	}

	// Lifecycle reports flow back through the same stream.
	require.NoError(t, sess.ReportStatus(exec.ID, "running", nil, "", 0))
	require.Eventually(t, func() bool {
		e, err := env.store.GetExecution(ctx, exec.ID)
		return err == nil && e.Status == types.ExecutionStatusRunning
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, sess.ReportStatus(exec.ID, "completed", json.RawMessage(`{"ok":true}`), "", 1200))
	require.Eventually(t, func() bool {
		e, err := env.store.GetExecution(ctx, exec.ID)
		return err == nil && e.Status == types.ExecutionStatusCompleted && e.DurationMs == 1200
	}, waitFor, 10*time.Millisecond)
}

func TestStartingReportMarksRunning(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	workCh := make(chan *wire.WorkItem, 10)
	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{
		OnWorkItem: func(ctx context.Context, item *wire.WorkItem) { workCh <- item },
	})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)

	require.NoError(t, env.store.CreateAgent(ctx, &types.Agent{
		ID: "ag-1", OrganizationID: "org-1", Name: "summarizer",
		Image: "img:v1", Status: types.AgentStatusActive,
	}))
	exec, err := env.execs.Submit(ctx, "org-1", executions.SubmitRequest{AgentName: "summarizer"})
	require.NoError(t, err)

	select {
	case <-workCh:
	case <-time.After(waitFor):
		t.Fatal("work item not delivered")
	}

	// Relayers report STARTING when the runner picks the work up.
	require.NoError(t, sess.ReportStatus(exec.ID, "STARTING", nil, "", 0))
	require.Eventually(t, func() bool {
		e, err := env.store.GetExecution(ctx, exec.ID)
		return err == nil && e.Status == types.ExecutionStatusRunning && e.StartedAt != nil
	}, waitFor, 10*time.Millisecond)
}

func TestBufferedWorkDeliveredInPriorityOrder(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	// Buffered while no stream is attached.
	for _, m := range []struct {
		p  types.Priority
		id string
	}{
		{types.PriorityLow, "ex-low"},
		{types.PriorityNormal, "ex-normal"},
		{types.PriorityHigh, "ex-high"},
	} {
		require.NoError(t, env.queue.Enqueue(ctx, "org-1", clusterID, &types.QueueMessage{
			Kind:     types.MessageKindWork,
			Priority: m.p,
			Work:     &types.WorkMessage{ExecutionID: m.id, AgentName: "a"},
		}))
	}

	workCh := make(chan *wire.WorkItem, 10)
	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{
		OnWorkItem: func(ctx context.Context, item *wire.WorkItem) { workCh <- item },
	})
	require.NoError(t, err)
	defer sess.Close()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case item := <-workCh:
			got = append(got, item.ExecutionID)
		case <-time.After(waitFor):
			t.Fatalf("only %d of 3 buffered items delivered", i)
		}
	}
	assert.Equal(t, []string{"ex-high", "ex-normal", "ex-low"}, got)
}

func TestReattachDisplacesSession(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	first, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{})
	require.NoError(t, err)
	env.waitActive(t, clusterID)

	workCh := make(chan *wire.WorkItem, 10)
	second, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{
		OnWorkItem: func(ctx context.Context, item *wire.WorkItem) { workCh <- item },
	})
	require.NoError(t, err)
	defer second.Close()

	select {
	case <-first.Done():
		assert.Equal(t, codes.Aborted, status.Code(first.Err()))
	case <-time.After(waitFor):
		t.Fatal("displaced session did not close")
	}

	// The replacement owns the queue.
	require.NoError(t, env.queue.Enqueue(ctx, "org-1", clusterID, &types.QueueMessage{
		Kind:     types.MessageKindWork,
		Priority: types.PriorityNormal,
		Work:     &types.WorkMessage{ExecutionID: "ex-after", AgentName: "a"},
	}))
	select {
	case item := <-workCh:
		assert.Equal(t, "ex-after", item.ExecutionID)
	case <-time.After(waitFor):
		t.Fatal("replacement session received no work")
	}

	// Cluster stays active; the displaced session's teardown must not
	// flip it.
	cluster, err := env.store.GetCluster(ctx, clusterID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusActive, cluster.Status)
}

func TestAgentRegistrationPushAndAck(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	regCh := make(chan *wire.AgentRegistration, 10)
	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{
		OnAgentRegistration: func(ctx context.Context, reg *wire.AgentRegistration) { regCh <- reg },
	})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)

	agent, err := env.execs.RegisterAgent(ctx, "org-1", executions.AgentSpec{
		Name:       "summarizer",
		Image:      "img:v1",
		ConfigHash: "h1",
	})
	require.NoError(t, err)

	var pushed *wire.AgentRegistration
	select {
	case pushed = <-regCh:
		assert.Equal(t, agent.ID, pushed.AgentID)
		assert.Equal(t, "h1", pushed.ConfigHash)
	case <-time.After(waitFor):
		t.Fatal("agent registration not pushed")
	}

	require.NoError(t, sess.AckRegistration(pushed.AgentID, pushed.AgentName, true, ""))
	require.Eventually(t, func() bool {
		a, err := env.store.GetAgent(ctx, agent.ID)
		return err == nil && a.Status == types.AgentStatusActive
	}, waitFor, 10*time.Millisecond)
}

func TestTelemetryIngestion(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)

	require.NoError(t, env.store.CreateExecution(ctx, &types.Execution{
		ID: "ex-1", OrganizationID: "org-1", AgentID: "ag-1",
		Status: types.ExecutionStatusRunning, CreatedAt: time.Now(),
	}))

	require.NoError(t, sess.SendLogs([]wire.LogLine{
		{ExecutionID: "ex-1", Timestamp: time.Now(), Level: "info", Message: "step one"},
	}))
	require.NoError(t, sess.SendMetrics([]wire.MetricSample{
		{ExecutionID: "ex-1", Name: "tokens", Timestamp: time.Now(), Value: 42},
	}))
	require.NoError(t, sess.SendTraces([]wire.Span{
		{ExecutionID: "ex-1", TraceID: "tr", SpanID: "sp", Name: "run", StartTime: time.Now(), EndTime: time.Now()},
	}))

	require.Eventually(t, func() bool {
		return env.store.LogCount() == 1 && env.store.MetricCount() == 1 && env.store.SpanCount() == 1
	}, waitFor, 10*time.Millisecond)
}

func TestHeartbeatRecorded(t *testing.T) {
	env := startServer(t)
	ctx := context.Background()
	clusterID, cfg := env.register(t, "prod")

	sess, err := env.client.Attach(ctx, clusterID, cfg.ClusterSecret, client.Handlers{})
	require.NoError(t, err)
	defer sess.Close()
	env.waitActive(t, clusterID)

	before, err := env.store.GetCluster(ctx, clusterID)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, sess.Heartbeat(3))
	require.Eventually(t, func() bool {
		after, err := env.store.GetCluster(ctx, clusterID)
		return err == nil && after.LastHeartbeat != nil &&
			after.LastHeartbeat.After(*before.LastHeartbeat)
	}, waitFor, 10*time.Millisecond)
}
