// ABOUTME: One-shot SERVER_ONLINE announcement to the register service.
// ABOUTME: Retries in the background so monitor startup never blocks on the register.

package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

// announceRetryDelay is the wait between failed announcement attempts.
const announceRetryDelay = 5 * time.Second

// Announce dials the register service and sends one SERVER_ONLINE with this
// monitor's advertise address, then closes the channel.
func Announce(ctx context.Context, registerURL, advertiseAddr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, registerURL, nil)
	if err != nil {
		return fmt.Errorf("dialing register service: %w", err)
	}
	defer conn.CloseNow()

	cmd, err := protocol.NewServerOnline(advertiseAddr)
	if err != nil {
		return err
	}
	if err := wsjson.Write(dialCtx, conn, cmd); err != nil {
		return fmt.Errorf("sending SERVER_ONLINE: %w", err)
	}

	return conn.Close(websocket.StatusNormalClosure, "")
}

// announceLoop retries Announce until it succeeds or the context ends.
func (s *Server) announceLoop(ctx context.Context) {
	for {
		err := Announce(ctx, s.cfg.RegisterURL, s.cfg.AdvertiseAddr)
		if err == nil {
			s.logger.Info("registered with register service",
				"register_url", s.cfg.RegisterURL,
				"advertise_addr", s.cfg.AdvertiseAddr,
			)
			return
		}

		s.logger.Warn("register announcement failed, retrying",
			"error", err,
			"retry_in", announceRetryDelay,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(announceRetryDelay):
		}
	}
}
