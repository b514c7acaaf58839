// Package announce publishes gateway availability and service status
// over MQTT so home-automation dashboards can track the local voice
// stack. It is entirely optional: when disabled, nothing in the
// gateway or supervisor references it.
package announce

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/voxhaus/voxd/internal/buildinfo"
	"github.com/voxhaus/voxd/internal/config"
	"github.com/voxhaus/voxd/internal/events"
	"github.com/voxhaus/voxd/internal/supervisor"
)

// statusInterval is how often the retained status payload is refreshed
// even without supervisor events.
const statusInterval = time.Minute

// StateSource provides the service-state snapshot included in status
// payloads. The supervisor satisfies it; a nil source publishes an
// empty service map.
type StateSource interface {
	States() map[string]supervisor.ServiceState
}

// Announcer manages the MQTT connection and republishes status on
// supervisor events and on a slow ticker.
type Announcer struct {
	cfg    config.MQTTConfig
	states StateSource
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates an Announcer but does not connect. Call [Announcer.Run]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, states StateSource, bus *events.Bus, logger *slog.Logger) *Announcer {
	return &Announcer{
		cfg:    cfg,
		states: states,
		bus:    bus,
		logger: logger,
	}
}

// Run connects to the broker and blocks until ctx is cancelled. On
// every (re-)connect it publishes an "online" birth message; the LWT
// flips availability to "offline" if the process dies uncleanly.
func (a *Announcer) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(a.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: a.cfg.Username,
		ConnectPassword: []byte(a.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   a.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			a.logger.Info("mqtt connected to broker", "broker", a.cfg.Broker)
			a.publish(ctx, cm, a.availabilityTopic(), []byte("online"))
			a.publishStatus(ctx, cm)
		},
		OnConnectError: func(err error) {
			a.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "voxd-" + a.deviceName(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	a.cm = cm

	a.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message before closing the
// connection.
func (a *Announcer) Stop(ctx context.Context) error {
	if a.cm == nil {
		return nil
	}
	a.publish(ctx, a.cm, a.availabilityTopic(), []byte("offline"))
	return a.cm.Disconnect(ctx)
}

// runLoop republishes status on supervisor events and on a slow ticker
// until ctx is cancelled.
func (a *Announcer) runLoop(ctx context.Context) {
	var busCh <-chan events.Event
	if a.bus != nil {
		ch := a.bus.Subscribe(16)
		defer a.bus.Unsubscribe(ch)
		busCh = ch
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publishStatus(ctx, a.cm)
		case e, ok := <-busCh:
			if !ok {
				return
			}
			if e.Source == events.SourceSupervisor {
				a.publishStatus(ctx, a.cm)
			}
		}
	}
}

func (a *Announcer) publishStatus(ctx context.Context, cm *autopaho.ConnectionManager) {
	payload, err := json.Marshal(a.StatusPayload())
	if err != nil {
		a.logger.Warn("mqtt status marshal failed", "error", err)
		return
	}
	a.publish(ctx, cm, a.statusTopic(), payload)
}

func (a *Announcer) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte) {
	if cm == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		a.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// StatusPayload builds the retained status document.
func (a *Announcer) StatusPayload() map[string]any {
	services := map[string]supervisor.ServiceState{}
	if a.states != nil {
		services = a.states.States()
	}
	return map[string]any{
		"version":  buildinfo.Version,
		"uptime":   buildinfo.Uptime().String(),
		"services": services,
	}
}

func (a *Announcer) deviceName() string {
	if a.cfg.DeviceName != "" {
		return a.cfg.DeviceName
	}
	return "voxd"
}

func (a *Announcer) baseTopic() string {
	return "voxd/" + a.deviceName()
}

func (a *Announcer) availabilityTopic() string {
	return a.baseTopic() + "/availability"
}

func (a *Announcer) statusTopic() string {
	return a.baseTopic() + "/status"
}
