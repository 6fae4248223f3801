package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeedBacklogAndLiveUpdates(t *testing.T) {
	feed := NewFeed(2)
	feed.Emit(FaucetClaimed{Account: "a", Amount: "1"})
	feed.Emit(FaucetClaimed{Account: "b", Amount: "2"})
	feed.Emit(FaucetClaimed{Account: "c", Amount: "3"})

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	updates, cancel, backlog := feed.Subscribe(ctx, "2")
	defer cancel()

	require.Len(t, backlog, 1)
	require.Equal(t, uint64(3), backlog[0].Sequence)
	require.Equal(t, "c", backlog[0].Event.Attributes["account"])

	feed.Emit(SponsorshipDecided{Account: "d", Cost: 5, Admitted: false, Reason: "daily_cap_exceeded", Shortfall: 4})
	update := <-updates
	require.Equal(t, uint64(4), update.Sequence)
	require.Equal(t, TypeSponsorshipDenied, update.Event.Type)
	require.Equal(t, "4", update.Event.Attributes["shortfall"])
}

func TestVendorEventTypeFollowsAction(t *testing.T) {
	require.Equal(t, TypeVendorRegistered, VendorChanged{Action: TypeVendorRegistered}.EventType())
	require.Equal(t, TypeVendorUpdated, VendorChanged{Action: "verified"}.EventType())
	rec := Render(VendorChanged{Action: TypeVendorSuspended, Address: "0xabc", Phone: "+15550100", Status: "suspended"})
	require.Equal(t, TypeVendorSuspended, rec.Type)
	_, leaked := rec.Attributes["phone"]
	require.False(t, leaked)
}
