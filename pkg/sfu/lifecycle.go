package sfu

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Lifecycle tears down everything a departing participant owns or receives.
type Lifecycle struct {
	rooms *RoomRegistry
	links *LinkRegistry
	out   Messenger
}

// Depart removes p from its room, closes every link p publishes or receives
// on, and tells the rest of the room. Each step runs even if an earlier one
// failed; the failures are returned together.
func (m *Lifecycle) Depart(ctx context.Context, p ParticipantID) error {
	var (
		result *multierror.Error
		rm     RoomID
		inRoom bool
	)
	step := func(name string, f func() error) {
		if err := guard(f); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("leave room", func() error {
		rm, inRoom = m.rooms.Remove(p)
		return nil
	})
	step("close ingest", func() error {
		return m.links.CloseIngest(p)
	})
	step("close egress as subscriber", func() error {
		return m.links.CloseAllEgressFor(p)
	})
	step("close egress as publisher", func() error {
		return m.links.CloseAllEgressFrom(p)
	})
	if inRoom {
		step("announce exit", func() error {
			return broadcast(ctx, m.rooms, m.out, rm, p, signal.UserExit{ID: string(p)})
		})
	}

	if err := result.ErrorOrNil(); err != nil {
		Logger.Error(err, "departure incomplete", "participant", p)
		return err
	}
	Logger.V(0).Info("participant departed", "participant", p, "room", rm)
	return nil
}

// guard runs f and turns a panic into an error.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f()
}

// broadcast sends msg to every member of rm except the given participant.
func broadcast(ctx context.Context, rooms *RoomRegistry, out Messenger, rm RoomID, except ParticipantID, msg signal.Outbound) error {
	var result *multierror.Error
	for _, id := range rooms.Members(rm, except) {
		if err := out.Send(ctx, id, msg); err != nil {
			result = multierror.Append(result, fmt.Errorf("send %s to %s: %w", msg.Event(), id, err))
		}
	}
	return result.ErrorOrNil()
}
