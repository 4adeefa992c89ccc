package mission

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/takstreams/cot"
	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/metric"
)

type fakeClient struct {
	mu        sync.Mutex
	features  []*geojson.Feature
	latestErr error
	detachErr map[string]error
	detached  []string
	attached  []Contents
}

func (f *fakeClient) LatestFeats(_ context.Context, _ string, _ Options) ([]*geojson.Feature, error) {
	return f.features, f.latestErr
}

func (f *fakeClient) AttachContents(_ context.Context, _ string, c Contents, _ Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, c)
	return nil
}

func (f *fakeClient) DetachContents(_ context.Context, _ string, c Content, _ Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, c.UID)
	return f.detachErr[c.UID]
}

func feature(uid, remarks string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{10, 20})
	f.ID = uid
	f.Properties["remarks"] = remarks
	return f
}

func encode(t *testing.T, features ...*geojson.Feature) []*cot.CoT {
	t.Helper()
	out := make([]*cot.CoT, 0, len(features))
	for _, f := range features {
		c, err := cot.FromFeature(f)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func uidsOf(plan Plan) []string {
	var out []string
	for _, c := range plan.Submit {
		out = append(out, c.UID())
	}
	return out
}

func TestReconcile_Diff(t *testing.T) {
	client := &fakeClient{features: []*geojson.Feature{
		feature("A", "a"), feature("B", "b"), feature("C", "c"),
	}}
	registry := metric.NewMetricsRegistry()
	r, err := NewReconciler(client, WithMetricsRegistry(registry))
	require.NoError(t, err)

	incoming := encode(t, feature("A", "a"), feature("C", "c"), feature("D", "d"))
	plan, err := r.Reconcile(context.Background(), "ops", incoming, []string{"A", "C", "D"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, plan.Detach)
	assert.Equal(t, []string{"B"}, client.detached)
	assert.Equal(t, []string{"D"}, uidsOf(plan))
	assert.Equal(t, []string{"ops"}, plan.Submit[0].Missions())

	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.submitted))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.skipped))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.detached))
}

func TestReconcile_ChangedFeatureResubmitted(t *testing.T) {
	client := &fakeClient{features: []*geojson.Feature{feature("A", "old")}}
	r, err := NewReconciler(client)
	require.NoError(t, err)

	plan, err := r.Reconcile(context.Background(), "ops", encode(t, feature("A", "new")), []string{"A"}, Options{})
	require.NoError(t, err)

	assert.Empty(t, plan.Detach)
	assert.Equal(t, []string{"A"}, uidsOf(plan))
}

func TestReconcile_SubmitsEncodedEvents(t *testing.T) {
	client := &fakeClient{}
	r, err := NewReconciler(client)
	require.NoError(t, err)

	anonymous := geojson.NewFeature(orb.Point{1, 2})
	incoming := encode(t, anonymous)
	uid := incoming[0].UID()
	require.NotEmpty(t, uid)

	plan, err := r.Reconcile(context.Background(), "ops", incoming, []string{}, Options{})
	require.NoError(t, err)

	require.Len(t, plan.Submit, 1)
	assert.Same(t, incoming[0], plan.Submit[0])
	assert.Equal(t, uid, plan.Submit[0].UID())
	assert.Equal(t, []string{"ops"}, plan.Submit[0].Missions())
}

func TestReconcile_RequiresUIDs(t *testing.T) {
	client := &fakeClient{}
	r, err := NewReconciler(client)
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(), "ops", encode(t, feature("A", "a")), nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissionDiffUIDs)
	assert.Empty(t, client.detached)
}

func TestReconcile_EmptyUIDsDetachesEverything(t *testing.T) {
	client := &fakeClient{features: []*geojson.Feature{feature("A", "a"), feature("B", "b")}}
	r, err := NewReconciler(client)
	require.NoError(t, err)

	plan, err := r.Reconcile(context.Background(), "ops", nil, []string{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, plan.Detach)
	assert.Empty(t, plan.Submit)
}

func TestReconcile_DetachFailureContinues(t *testing.T) {
	client := &fakeClient{
		features:  []*geojson.Feature{feature("A", "a"), feature("B", "b")},
		detachErr: map[string]error{"A": stderrors.New("mission api unavailable")},
	}
	registry := metric.NewMetricsRegistry()
	r, err := NewReconciler(client, WithMetricsRegistry(registry))
	require.NoError(t, err)

	plan, err := r.Reconcile(context.Background(), "ops", encode(t, feature("C", "c")), []string{"C"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, client.detached)
	assert.Equal(t, []string{"A", "B"}, plan.Detach)
	assert.Equal(t, []string{"C"}, uidsOf(plan))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.detachFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.detached))
}

func TestReconcile_LatestFeatsFailure(t *testing.T) {
	client := &fakeClient{latestErr: stderrors.New("no responders available for request")}
	r, err := NewReconciler(client)
	require.NoError(t, err)

	_, err = r.Reconcile(context.Background(), "ops", nil, []string{"A"}, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
