package observability

import (
	"context"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bpmn"

// Metrics counts lifecycle events per definition key.
// Register it with bpmn.WithNotifier so calls that roll back are not counted.
type Metrics struct {
	instancesStarted *prometheus.CounterVec
	instancesEnded   *prometheus.CounterVec
	activities       *prometheus.CounterVec
	activitySeconds  *prometheus.HistogramVec
	tasksOpen        *prometheus.GaugeVec
	subscriptions    *prometheus.GaugeVec
	messagesThrown   *prometheus.CounterVec
}

var _ ports.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Process instances started.",
		}, []string{"definition"}),
		instancesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_ended_total",
			Help:      "Process instances ended, by end state.",
		}, []string{"definition", "end_state"}),
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_started_total",
			Help:      "Node visits.",
		}, []string{"definition", "kind"}),
		activitySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Time between entering and leaving a node.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"definition"}),
		tasksOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_tasks_open",
			Help:      "User tasks created and not yet ended.",
		}, []string{"definition"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscriptions",
			Help:      "Live message and signal subscriptions.",
		}, []string{"kind"}),
		messagesThrown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_thrown_total",
			Help:      "Message throw events passed.",
		}, []string{"definition"}),
	}

	for _, c := range []prometheus.Collector{
		m.instancesStarted, m.instancesEnded, m.activities, m.activitySeconds,
		m.tasksOpen, m.subscriptions, m.messagesThrown,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe implements ports.Observer.
func (m *Metrics) Observe(ctx context.Context, tx ports.Tx, ev *domain.Event) error {
	def := ev.DefinitionKey
	switch ev.Type {
	case domain.EventInstanceStarted:
		m.instancesStarted.WithLabelValues(def).Inc()
	case domain.EventInstanceEnded:
		m.instancesEnded.WithLabelValues(def, string(ev.EndState)).Inc()
	case domain.EventActivityStarted:
		m.activities.WithLabelValues(def, string(ev.NodeKind)).Inc()
	case domain.EventActivityEnded:
		m.observeActivity(ctx, tx, ev)
	case domain.EventTaskCreated:
		m.tasksOpen.WithLabelValues(def).Inc()
	case domain.EventTaskEnded:
		m.tasksOpen.WithLabelValues(def).Dec()
	case domain.EventSubscriptionCreated:
		m.subscriptions.WithLabelValues(subscriptionKind(ev)).Inc()
	case domain.EventSubscriptionRemoved:
		m.subscriptions.WithLabelValues(subscriptionKind(ev)).Dec()
	case domain.EventMessageThrown:
		m.messagesThrown.WithLabelValues(def).Inc()
	}
	return nil
}

// observeActivity reads the closed span back from history. Without a history
// row nothing is observed.
func (m *Metrics) observeActivity(ctx context.Context, tx ports.Tx, ev *domain.Event) {
	rec, err := tx.HistoryActivity(ctx, ev.RecordID)
	if err != nil || rec.Duration == nil {
		return
	}
	m.activitySeconds.WithLabelValues(ev.DefinitionKey).Observe(float64(*rec.Duration) / 1000)
}

func subscriptionKind(ev *domain.Event) string {
	if ev.Subscription == nil {
		return ""
	}
	return string(ev.Subscription.Kind)
}
