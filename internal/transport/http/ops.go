package http

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// readyApp returns the initialized app with a participant set.
func readyApp(m *core.Manager) (*core.App, error) {
	app, ok := m.App()
	if !ok {
		return nil, fmt.Errorf("%w: no session", core.ErrNotReady)
	}
	return app, nil
}

// authorize rejects a caller whose token is bound to another participant than
// the one the app acts for. Must run on the loop.
func authorize(app *core.App, caller string) error {
	pid := app.ParticipantID()
	if pid == "" {
		return fmt.Errorf("%w: no participant", core.ErrNotReady)
	}
	if caller != pid {
		return fmt.Errorf("%w: session is not bound to the active participant", core.ErrForbidden)
	}
	return nil
}

// authorizeCaller runs authorize on the loop.
func authorizeCaller(ctx context.Context, m *core.Manager, caller string) (*core.App, error) {
	app, err := readyApp(m)
	if err != nil {
		return nil, err
	}
	var authErr error
	if err := m.Do(ctx, func() { authErr = authorize(app, caller) }); err != nil {
		return nil, err
	}
	if authErr != nil {
		return nil, authErr
	}
	return app, nil
}

// activeParticipant returns the participant the app acts for, or "" before
// any session.
func activeParticipant(ctx context.Context, m *core.Manager) (string, error) {
	app, ok := m.App()
	if !ok {
		return "", nil
	}
	var pid string
	err := m.Do(ctx, func() { pid = app.ParticipantID() })
	return pid, err
}

// sendMessage persists a message from caller and waits for the write.
func sendMessage(ctx context.Context, m *core.Manager, caller string, d proto.MsgData) (string, error) {
	app, err := readyApp(m)
	if err != nil {
		return "", err
	}

	var (
		pending *core.Pending
		opErr   error
	)
	err = m.Do(ctx, func() {
		if opErr = authorize(app, caller); opErr != nil {
			return
		}
		pid := app.ParticipantID()
		c, ok := app.CachedChannel(d.Channel)
		if !ok {
			opErr = fmt.Errorf("%w: %s", core.ErrChannelNotFound, d.Channel)
			return
		}
		name := d.Name
		if name == "" {
			name = pid
		}
		msg, err := messageFromData(d, core.Sender{ID: pid, DisplayName: name})
		if err != nil {
			opErr = err
			return
		}
		pending = c.AddMessage(msg)
	})
	if err != nil {
		return "", err
	}
	if opErr != nil {
		return "", opErr
	}
	return pending.Wait(ctx)
}

// markChannelRead records read receipts for every cached message of channelID
// and returns how many receipts were written.
func markChannelRead(ctx context.Context, m *core.Manager, caller, channelID string) (int, error) {
	app, err := readyApp(m)
	if err != nil {
		return 0, err
	}

	var (
		pendings []*core.Pending
		opErr    error
	)
	err = m.Do(ctx, func() {
		if opErr = authorize(app, caller); opErr != nil {
			return
		}
		c, ok := app.CachedChannel(channelID)
		if !ok {
			opErr = fmt.Errorf("%w: %s", core.ErrChannelNotFound, channelID)
			return
		}
		for _, msg := range c.Messages() {
			if p := msg.MarkAsReadByMe(); p != nil {
				pendings = append(pendings, p)
			}
		}
		c.CalculateUnreadMessagesCount()
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return 0, opErr
	}

	var firstErr error
	written := 0
	for _, p := range pendings {
		if _, err := p.Wait(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}
	return written, firstErr
}

// listChannels snapshots the cached channels in display order.
func listChannels(ctx context.Context, m *core.Manager, caller string) ([]*proto.Channel, error) {
	app, err := readyApp(m)
	if err != nil {
		return nil, err
	}
	var (
		out   []*proto.Channel
		opErr error
	)
	err = m.Do(ctx, func() {
		if opErr = authorize(app, caller); opErr != nil {
			return
		}
		chans := app.Channels()
		out = make([]*proto.Channel, 0, len(chans))
		for _, c := range chans {
			out = append(out, channelToProto(c))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

// listMessages snapshots the cached messages of channelID in SentAt order.
func listMessages(ctx context.Context, m *core.Manager, caller, channelID string) ([]*proto.Message, error) {
	app, err := readyApp(m)
	if err != nil {
		return nil, err
	}
	var (
		out   []*proto.Message
		found bool
		opErr error
	)
	err = m.Do(ctx, func() {
		if opErr = authorize(app, caller); opErr != nil {
			return
		}
		c, ok := app.CachedChannel(channelID)
		if !ok {
			return
		}
		found = true
		msgs := c.Messages()
		out = make([]*proto.Message, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, messageToProto(msg))
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", core.ErrChannelNotFound, channelID)
	}
	return out, nil
}

// createChannel gets or creates a channel and follows it.
func createChannel(ctx context.Context, m *core.Manager, caller, id, name string, userIDs []string) (*proto.Channel, error) {
	app, err := authorizeCaller(ctx, m, caller)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = id
	}
	c, err := app.CreateChannel(ctx, id, name, userIDs)
	if err != nil {
		return nil, err
	}
	var out *proto.Channel
	err = m.Do(ctx, func() { out = channelToProto(c) })
	return out, err
}

func appSnapshot(ctx context.Context, m *core.Manager, app *core.App) (*proto.App, error) {
	var out *proto.App
	err := m.Do(ctx, func() { out = appToProto(app) })
	return out, err
}
