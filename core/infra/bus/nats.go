package bus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetconf/fleetconf/core/infra/logging"
)

// SubjectInvalidate carries stale-cache invalidation events. Any process
// that mutates actual state, restart flags, or group membership publishes
// here; cache owners subscribe and drop the matching entries.
const SubjectInvalidate = "config.stale.invalidate"

// Invalidation scopes.
const (
	KindComponent = "component"
	KindHost      = "host"
	KindCluster   = "cluster"
	KindAll       = "all"
)

// Event describes one invalidation. Fields beyond Kind narrow the scope;
// a host-scoped event carries Cluster+Host, a component-scoped event all four.
type Event struct {
	Kind      string `json:"kind"`
	Cluster   string `json:"cluster,omitempty"`
	Host      string `json:"host,omitempty"`
	Service   string `json:"service,omitempty"`
	Component string `json:"component,omitempty"`
	At        int64  `json:"at,omitempty"`
}

// Bus publishes and consumes invalidation events.
type Bus interface {
	Publish(subject string, ev Event) error
	Subscribe(subject, queue string, handler func(Event)) error
}

var (
	errNilBus      = errors.New("nats bus not initialized")
	errEmptyTopic  = errors.New("empty subject")
	errInvalidKind = errors.New("invalid event kind")
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON events.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("fleetconf-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a JSON-encoded event on the given subject.
func (b *NatsBus) Publish(subject string, ev Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if err := ev.validate(); err != nil {
		return err
	}
	if ev.At == 0 {
		ev.At = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes events and invokes the
// handler. A non-empty queue joins a queue group so only one member of the
// group handles each event.
func (b *NatsBus) Subscribe(subject, queue string, handler func(Event)) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	cb := func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logging.Error("bus", "dropping undecodable event", "subject", subject, "err", err)
			return
		}
		handler(ev)
	}
	var err error
	if queue != "" {
		_, err = b.nc.QueueSubscribe(subject, queue, cb)
	} else {
		_, err = b.nc.Subscribe(subject, cb)
	}
	return err
}

func (ev Event) validate() error {
	switch ev.Kind {
	case KindComponent, KindHost, KindCluster, KindAll:
		return nil
	default:
		return errInvalidKind
	}
}
