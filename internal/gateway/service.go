package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/AndreCAndersen/home2telldus/internal/events"
	"github.com/AndreCAndersen/home2telldus/internal/telldus"
)

// Service maps one resolved request onto one Telldus session.
// Sessions are never reused across calls.
type Service struct {
	server    ServerCredentials
	opts      []telldus.Option
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(server ServerCredentials, publisher events.Publisher, opts ...telldus.Option) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{server: server, opts: opts, publisher: publisher, logger: slog.Default()}
}

func (s *Service) ServerCredentials() ServerCredentials { return s.server }

// SendCommand logs in, dispatches the command and releases the session.
// The context is detached from cancellation: a started command loop runs to completion.
func (s *Service) SendCommand(ctx context.Context, req CommandRequest) error {
	ctx = context.WithoutCancel(ctx)
	err := telldus.WithClient(ctx, req.Credentials, func(c *telldus.Client) error {
		return c.RunCommand(ctx, req.Device, req.Command, req.Repeat, req.Sleep)
	}, s.opts...)

	ev := events.CommandEvent{
		Device:  req.Device,
		Command: req.Command,
		Repeat:  req.Repeat,
		Outcome: "ok",
		At:      time.Now().UTC(),
	}
	if err != nil {
		ev.Outcome = "error"
		ev.Error = err.Error()
	}
	if perr := s.publisher.PublishCommand(ev); perr != nil {
		s.logger.Warn("command event publish failed", "error", perr)
	}

	if err != nil {
		return err
	}
	s.logger.Info("command sent", "device", req.Device, "command", req.Command, "repeat", req.Repeat, "sleep", req.Sleep)
	return nil
}

// ListDevices returns the devices of the account behind creds.
func (s *Service) ListDevices(ctx context.Context, creds telldus.Credentials) ([]telldus.Device, error) {
	var devices []telldus.Device
	err := telldus.WithClient(context.WithoutCancel(ctx), creds, func(c *telldus.Client) error {
		devices = c.Devices()
		return nil
	}, s.opts...)
	if err != nil {
		return nil, err
	}
	return devices, nil
}
