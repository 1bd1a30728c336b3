// Command driversim is a simulated driver: it connects to the real-time
// channel, pushes its position, and drives every ride it is offered through
// accept, arrive, start and complete.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rideflow/internal/app"
	"rideflow/internal/channel"
	"rideflow/internal/config"
	"rideflow/internal/domain"
	"rideflow/internal/logging"
	"rideflow/internal/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	driverID := flag.String("driver", uuid.New().String(), "driver id to connect as")
	url := flag.String("url", cfg.Channel.URL, "websocket endpoint of the server")
	lat := flag.Float64("lat", 36.8065, "starting latitude")
	lng := flag.Float64("lng", 10.1815, "starting longitude")
	step := flag.Duration("step", 2*time.Second, "pause between lifecycle events")
	flag.Parse()

	log := logging.New(cfg.Log).WithField("driver_id", *driverID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chCfg := app.ChannelConfig(cfg.Channel)
	chCfg.OnRetriesExhausted = func(err error) {
		log.WithError(err).Error("gave up reconnecting")
		stop()
	}
	ch := channel.New(channel.NewWebSocketTransport(*url, cfg.Channel.WriteTimeout), chCfg, log)

	sim := &simulator{
		ch:       ch,
		position: domain.GeoPoint{Lat: *lat, Lng: *lng},
		step:     *step,
		log:      log,
		offers:   make(chan domain.Event, 8),
	}
	ch.Subscribe(domain.EventRequest, func(ev domain.Event) {
		select {
		case sim.offers <- ev:
		default:
			log.WithField("ride_id", ev.RideID).Warn("offer dropped, simulator busy")
		}
	})
	ch.Subscribe(domain.EventCancel, func(ev domain.Event) {
		log.WithField("ride_id", ev.RideID).Info("ride cancelled")
	})

	identity := domain.Identity{ActorID: *driverID, Role: domain.RoleDriver}
	dial := chCfg.Backoff
	dial.Retryable = func(err error) bool {
		var cerr *channel.ConnectError
		return !errors.As(err, &cerr) || cerr.Retryable
	}
	err = retry.New(dial, log).Execute(ctx, func(ctx context.Context) error {
		return ch.Connect(ctx, identity)
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect")
	}
	defer ch.Disconnect()

	sim.run(ctx)
	log.Info("driver simulator stopped")
}

type simulator struct {
	ch       *channel.Channel
	position domain.GeoPoint
	step     time.Duration
	log      logrus.FieldLogger
	offers   chan domain.Event
}

func (s *simulator) run(ctx context.Context) {
	ticker := time.NewTicker(s.step)
	defer ticker.Stop()
	s.pushLocation(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pushLocation(ctx)
		case offer := <-s.offers:
			if err := s.drive(ctx, offer.RideID); err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).WithField("ride_id", offer.RideID).Warn("ride abandoned")
			}
		}
	}
}

// drive walks one ride through its lifecycle with a pause between steps.
func (s *simulator) drive(ctx context.Context, rideID string) error {
	for _, t := range []domain.EventType{domain.EventAccept, domain.EventArrive, domain.EventStart, domain.EventComplete} {
		if err := s.ch.Publish(ctx, domain.NewEvent(t, rideID, nil, time.Now().UTC())); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"ride_id": rideID, "event_type": t}).Info("event sent")
		if err := retry.Sleep(ctx, s.step); err != nil {
			return err
		}
		s.pushLocation(ctx)
	}
	return nil
}

func (s *simulator) pushLocation(ctx context.Context) {
	// Drift north-east a little each push.
	s.position.Lat += 0.0005
	s.position.Lng += 0.0005
	err := s.ch.Publish(ctx, domain.NewEvent(domain.EventDriverLocation, "", map[string]any{
		domain.PayloadLat: s.position.Lat,
		domain.PayloadLng: s.position.Lng,
	}, time.Now().UTC()))
	if err != nil {
		s.log.WithError(err).Debug("location push skipped")
	}
}
