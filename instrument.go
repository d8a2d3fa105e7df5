package msgbox

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Metrics holds the counters updated by instrumented Consumers
	Metrics struct {
		Handled *prometheus.CounterVec
		Failed  *prometheus.CounterVec
	}

	instrumented struct {
		next    Consumer
		metrics *Metrics
		name    string
	}
)

// NewMetrics creates the consumer counters and registers them. A nil
// Registerer leaves them unregistered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgbox_messages_handled_total",
				Help: "Number of messages handled successfully",
			},
			[]string{"consumer", "event_type"},
		),
		Failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgbox_messages_failed_total",
				Help: "Number of messages a consumer failed to handle",
			},
			[]string{"consumer", "event_type"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Handled, m.Failed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Instrument wraps a Consumer so that its outcomes are counted under the
// given name
func Instrument(c Consumer, name string, m *Metrics) Consumer {
	return &instrumented{
		next:    c,
		metrics: m,
		name:    name,
	}
}

func (i *instrumented) Handle(ctx context.Context, msg *Message) error {
	typ := string(msg.EventType())
	if err := i.next.Handle(ctx, msg); err != nil {
		i.metrics.Failed.WithLabelValues(i.name, typ).Inc()
		return err
	}
	i.metrics.Handled.WithLabelValues(i.name, typ).Inc()
	return nil
}
