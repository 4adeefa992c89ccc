package mission

import (
	"context"
	"log/slog"

	"github.com/c360/takstreams/cot"
	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/metric"
)

// Plan is the outcome of a diff: events to deliver and uids no longer
// published by the layer
type Plan struct {
	Submit []*cot.CoT
	Detach []string
}

// Reconciler computes mission diffs for layers that own their mission
type Reconciler struct {
	client  Client
	logger  *slog.Logger
	metrics *reconcilerMetrics
}

// Option configures a Reconciler
type Option func(*Reconciler) error

// WithLogger sets the reconciler logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) error {
		r.logger = logger
		return nil
	}
}

// WithMetricsRegistry exports diff counters through registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(r *Reconciler) error {
		m, err := newReconcilerMetrics(registry)
		if err != nil {
			return err
		}
		r.metrics = m
		return nil
	}
}

// NewReconciler creates a Reconciler backed by client
func NewReconciler(client Client, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{client: client, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, errors.Wrap(err, "Reconciler", "NewReconciler", "apply option")
		}
	}
	return r, nil
}

// Reconcile compares the incoming events against the mission's current
// content. Mission items whose uid is not in uids are detached one at a time;
// detach failures are logged and do not stop the diff. Incoming features
// unchanged from their mission copy are skipped. The rest are returned in
// Plan.Submit tagged with the mission as destination; they are the same
// values passed in, so each keeps the uid it was encoded with.
//
// uids must be the full set of uids the layer currently publishes. A nil
// uids is rejected because it cannot be told apart from "detach everything".
func (r *Reconciler) Reconcile(ctx context.Context, mission string, cots []*cot.CoT, uids []string, opts Options) (Plan, error) {
	if uids == nil {
		return Plan{}, errors.WrapInvalid(errors.ErrMissionDiffUIDs, "Reconciler", "Reconcile", "check uids")
	}

	existing, err := r.client.LatestFeats(ctx, mission, opts)
	if err != nil {
		return Plan{}, errors.WrapTransient(err, "Reconciler", "Reconcile", "fetch mission features")
	}

	prior := make(map[string]*cot.CoT, len(existing))
	order := make([]string, 0, len(existing))
	for _, f := range existing {
		c, err := cot.FromFeature(f)
		if err != nil {
			r.logger.Warn("Skipping unreadable mission feature", "mission", mission, "error", err)
			continue
		}
		if _, dup := prior[c.UID()]; !dup {
			order = append(order, c.UID())
		}
		prior[c.UID()] = c
	}

	incoming := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		incoming[uid] = struct{}{}
	}

	var plan Plan
	failed := 0
	for _, uid := range order {
		if _, keep := incoming[uid]; keep {
			continue
		}
		plan.Detach = append(plan.Detach, uid)
		if err := r.client.DetachContents(ctx, mission, Content{UID: uid}, opts); err != nil {
			failed++
			r.logger.Error("Mission detach failed", "mission", mission, "uid", uid, "error", err)
		}
	}

	skipped := 0
	for _, c := range cots {
		if c == nil {
			continue
		}
		if p, ok := prior[c.UID()]; ok && !c.IsDiff(p) {
			skipped++
			continue
		}
		c.AddDest(mission)
		plan.Submit = append(plan.Submit, c)
	}

	r.metrics.record(len(plan.Submit), skipped, len(plan.Detach)-failed, failed)
	r.logger.Debug("Mission diff computed",
		"mission", mission,
		"submit", len(plan.Submit),
		"skipped", skipped,
		"detached", len(plan.Detach)-failed,
		"detach_failures", failed)

	return plan, nil
}
