package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/config"
	"chat-sync/internal/domain"
	"chat-sync/internal/integrations/paramstore"
	"chat-sync/internal/source"
	"chat-sync/internal/usecase"
)

type fakeSource struct {
	connectErr error
	closed     int
}

func (f *fakeSource) Connect(context.Context) error { return f.connectErr }
func (f *fakeSource) ListIndexKeys(context.Context, string) ([]string, error) {
	return []string{"user:v2:chat:u1"}, nil
}
func (f *fakeSource) ReadOrderedIDs(context.Context, string) ([]string, error) {
	return []string{"chat:c1"}, nil
}
func (f *fakeSource) ReadRecord(context.Context, string) (map[string]string, error) {
	return map[string]string{"id": "c1", "messages": `[{"role":"user","content":"hi"}]`}, nil
}
func (f *fakeSource) Backend() string { return "fake" }
func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

type fakeDestination struct {
	indexErr error
	upserts  []string
	closed   int
}

func (f *fakeDestination) Upsert(_ context.Context, chat domain.MinimizedSession, userID string) error {
	f.upserts = append(f.upserts, userID+"/"+chat.ID)
	return nil
}
func (f *fakeDestination) EnsureIndexes(context.Context) error { return f.indexErr }
func (f *fakeDestination) Close(context.Context) error {
	f.closed++
	return nil
}

type fakeGuard struct{ acquired int }

func (f *fakeGuard) TryAcquire(context.Context, string) (bool, error) {
	f.acquired++
	return true, nil
}
func (f *fakeGuard) Release(context.Context, string) error { return nil }

type fakeGetter map[string]string

func (f fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", paramstore.ErrNotFound
	}
	return v, nil
}

// stubStores swaps the store constructors for fakes for the duration of t.
func stubStores(t *testing.T, src *fakeSource, dst *fakeDestination, mongoErr error) *int {
	t.Helper()
	origSource, origMongo := newSource, connectMongo
	t.Cleanup(func() { newSource, connectMongo = origSource, origMongo })

	mongoCalls := 0
	newSource = func(source.Config) (source.Client, error) { return src, nil }
	connectMongo = func(context.Context, string, string, string) (Destination, error) {
		mongoCalls++
		if mongoErr != nil {
			return nil, mongoErr
		}
		return dst, nil
	}
	return &mongoCalls
}

func testConfig() config.Config {
	return config.Load(func(k string) string {
		return map[string]string{"USE_MONGODB": "true", "USE_LOCAL_REDIS": "true"}[k]
	})
}

func TestConnect_WiresServiceToStores(t *testing.T) {
	src, dst := &fakeSource{}, &fakeDestination{}
	stubStores(t, src, dst, nil)

	a := New(testConfig(), zerolog.Nop())
	svc, err := a.Connect(context.Background())
	require.NoError(t, err)

	stats, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalChats)
	require.Equal(t, []string{"u1/c1"}, dst.upserts)

	require.NoError(t, a.Close())
	require.Equal(t, 1, src.closed)
	require.Equal(t, 1, dst.closed)
}

func TestConnect_SourceFailureSkipsDestination(t *testing.T) {
	src := &fakeSource{connectErr: &source.ConnectionError{Backend: "fake", Op: "ping", Err: errors.New("refused")}}
	mongoCalls := stubStores(t, src, &fakeDestination{}, nil)

	a := New(testConfig(), zerolog.Nop())
	_, err := a.Connect(context.Background())
	var connErr *source.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Zero(t, *mongoCalls)
	require.Equal(t, 1, src.closed)

	require.NoError(t, a.Close())
	require.Equal(t, 1, src.closed)
}

func TestConnect_DestinationFailureReleasesSource(t *testing.T) {
	src := &fakeSource{}
	stubStores(t, src, nil, errors.New("server selection timeout"))

	a := New(testConfig(), zerolog.Nop())
	_, err := a.Connect(context.Background())
	require.ErrorContains(t, err, "server selection timeout")
	require.Equal(t, 1, src.closed)
}

func TestConnect_IndexFailureIsNotFatal(t *testing.T) {
	stubStores(t, &fakeSource{}, &fakeDestination{indexErr: errors.New("not authorized")}, nil)

	a := New(testConfig(), zerolog.Nop())
	_, err := a.Connect(context.Background())
	require.NoError(t, err)
}

func TestConnect_PassLease(t *testing.T) {
	stubStores(t, &fakeSource{}, &fakeDestination{}, nil)
	origAWS, origLease := loadAWSConfig, newLeaseGuard
	t.Cleanup(func() { loadAWSConfig, newLeaseGuard = origAWS, origLease })

	guard := &fakeGuard{}
	var gotTable string
	var gotTTL time.Duration
	loadAWSConfig = func(context.Context) (aws.Config, error) { return aws.Config{}, nil }
	newLeaseGuard = func(_ aws.Config, table string, ttl time.Duration) (usecase.PassGuard, error) {
		gotTable, gotTTL = table, ttl
		return guard, nil
	}

	cfg := testConfig()
	cfg.LeaseTable = "chat-sync-locks"
	a := New(cfg, zerolog.Nop())
	svc, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "chat-sync-locks", gotTable)
	require.Equal(t, 5*time.Minute, gotTTL)

	_, err = svc.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, guard.acquired)
}

func TestClose_Once(t *testing.T) {
	src, dst := &fakeSource{}, &fakeDestination{}
	stubStores(t, src, dst, nil)

	a := New(testConfig(), zerolog.Nop())
	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Close())
	}
	require.Equal(t, 1, src.closed)
	require.Equal(t, 1, dst.closed)
}

func TestClose_BeforeConnect(t *testing.T) {
	require.NoError(t, New(testConfig(), zerolog.Nop()).Close())
}

func TestStartServer(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, zerolog.Nop())
	require.NoError(t, a.StartServer(nil))

	cfg.MetricsAddr = "127.0.0.1:0"
	a = New(cfg, zerolog.Nop())
	require.NoError(t, a.StartServer(func() bool { return true }))
	require.NoError(t, a.Close())
}

func TestApplySecrets(t *testing.T) {
	cfg := testConfig()
	cfg.ParamPrefix = "/chat-sync"
	cfg.UpstashToken = "from-env"

	got, err := applySecrets(context.Background(), cfg, fakeGetter{
		"/chat-sync/upstash-rest-token": `{"token":"from-ssm"}`,
	})
	require.NoError(t, err)
	require.Equal(t, "from-ssm", got.UpstashToken)
	require.Equal(t, cfg.MongoURI, got.MongoURI)
}

func TestLoadSecrets_NoPrefix(t *testing.T) {
	cfg := testConfig()
	got, err := LoadSecrets(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}
