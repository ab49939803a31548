package casc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePing returns fixed latencies; hosts missing from the map are unreachable.
func fakePing(latencies map[string]time.Duration, calls *atomic.Int32) PingFunc {
	return func(_ context.Context, h HostRanking) (time.Duration, error) {
		if calls != nil {
			calls.Add(1)
		}

		d, ok := latencies[h.Host]
		if !ok {
			return 0, errors.New("connection refused")
		}

		return d, nil
	}
}

func TestHostResolverRanksByLatency(t *testing.T) {
	t.Parallel()

	r := NewHostResolver(HostResolverOptions{Ping: fakePing(map[string]time.Duration{
		"a.cdn": 30 * time.Millisecond,
		"b.cdn": 10 * time.Millisecond,
		"c.cdn": 20 * time.Millisecond,
	}, nil)})

	ranked, err := r.RankedHosts(context.Background(), "us", []string{"a.cdn", "b.cdn", "c.cdn", "dead.cdn"}, "tpr/wow")
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	for i := 1; i < len(ranked); i++ {
		require.LessOrEqual(t, ranked[i-1].Latency, ranked[i].Latency)
	}
	require.Equal(t, "b.cdn", ranked[0].Host)
	require.Equal(t, "tpr/wow", ranked[0].Path)
	require.True(t, r.IsFailed("dead.cdn"))
}

func TestHostResolverExcludesFailedHosts(t *testing.T) {
	t.Parallel()

	r := NewHostResolver(HostResolverOptions{Ping: fakePing(map[string]time.Duration{
		"a.cdn": 1 * time.Millisecond,
		"b.cdn": 2 * time.Millisecond,
	}, nil)})

	ctx := context.Background()
	hosts := []string{"a.cdn", "b.cdn"}
	best, err := r.BestHost(ctx, "eu", hosts, "")
	require.NoError(t, err)
	require.Equal(t, "a.cdn", best.Host)

	r.MarkFailed("a.cdn")
	ranked, err := r.RankedHosts(ctx, "eu", hosts, "")
	require.NoError(t, err)
	for _, h := range ranked {
		require.NotEqual(t, "a.cdn", h.Host)
	}

	r.MarkFailed("b.cdn")
	_, err = r.RankedHosts(ctx, "eu", hosts, "")
	require.ErrorIs(t, err, ErrNoReachableHost)
	require.ErrorIs(t, err, ErrTransport)
}

func TestHostResolverFallbackWhenPrimariesDown(t *testing.T) {
	t.Parallel()

	r := NewHostResolver(HostResolverOptions{
		FallbackHosts: []string{"fallback.cdn", "primary1.cdn"},
		Ping:          fakePing(map[string]time.Duration{"fallback.cdn": 50 * time.Millisecond}, nil),
	})

	ranked, err := r.RankedHosts(context.Background(), "us", []string{"primary1.cdn", "primary2.cdn"}, "tpr/wow")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, "fallback.cdn", ranked[0].Host)
}

func TestHostResolverNoCandidates(t *testing.T) {
	t.Parallel()

	r := NewHostResolver(HostResolverOptions{Ping: fakePing(nil, nil)})
	_, err := r.RankedHosts(context.Background(), "us", []string{" ", ""}, "")
	require.ErrorIs(t, err, ErrNoHosts)

	_, err = r.RankedHosts(context.Background(), "us", []string{"x.cdn"}, "")
	require.ErrorIs(t, err, ErrNoReachableHost)
}

func TestHostResolverCoalescesAndCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context, h HostRanking) (time.Duration, error) {
		calls.Add(1)
		<-release
		return time.Millisecond, nil
	}

	r := NewHostResolver(HostResolverOptions{Ping: slow})
	hosts := []string{"a.cdn", "b.cdn"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Go(func() {
			_, err := r.RankedHosts(context.Background(), "us", hosts, "p")
			errs <- err
		})
	}

	// Let every caller attach before the pings finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), calls.Load(), "concurrent identical resolutions were not coalesced")

	_, err := r.RankedHosts(context.Background(), "us", hosts, "p")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load(), "cached ranking was recomputed")

	_, err = r.RankedHosts(context.Background(), "eu", hosts, "p")
	require.NoError(t, err)
	require.Equal(t, int32(4), calls.Load())
}

func TestHostResolverHTTPPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := NewHostResolver(HostResolverOptions{PingTimeout: time.Second})
	ranked, err := r.RankedHosts(context.Background(), "us", []string{host, "127.0.0.1:1"}, "")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, host, ranked[0].Host)
	require.True(t, r.IsFailed("127.0.0.1:1"))
}

func TestSplitHosts(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b", "c"}, SplitHosts(" a, b  c,"))
	require.Equal(t, []string{"a", "b"}, mergeHosts([]string{"a", " b"}, []string{"b", "a", ""}))
}
