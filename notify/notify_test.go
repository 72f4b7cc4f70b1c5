package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/notify"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	pub := notify.NewRedis(client, "")

	sub := client.Subscribe(ctx, pub.Channel("sch_1"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = pub.Notify(ctx, notify.Event{
		ID:        "evt_1",
		Kind:      notify.KindPaymentReceived,
		SchoolID:  "sch_1",
		InvoiceID: "inv_1",
		Message:   "KSh 5,000.00 received",
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "bursar:notifications:sch_1", msg.Channel)
		ev, err := notify.Decode([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, notify.KindPaymentReceived, ev.Kind)
		assert.Equal(t, "inv_1", ev.InvoiceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestDispatcherDelivers(t *testing.T) {
	mem := &notify.Memory{}
	d := notify.NewDispatcher(mem, quietLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Send(ctx, notify.Event{Kind: notify.KindInvoiceIssued, SchoolID: "sch_1"})
	cancel() // delivery outlives the request context
	d.Wait()

	events := mem.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].At.IsZero())
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	failing := notify.NotifierFunc(func(context.Context, notify.Event) error {
		return errors.New("smtp down")
	})
	panicking := notify.NotifierFunc(func(context.Context, notify.Event) error {
		panic("boom")
	})

	for _, n := range []notify.Notifier{failing, panicking} {
		d := notify.NewDispatcher(n, quietLogger(), time.Second)
		d.Send(context.Background(), notify.Event{Kind: notify.KindUnpaidReminder})
		d.Wait()
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	mem := &notify.Memory{}
	m := notify.Multi{
		mem,
		notify.NotifierFunc(func(context.Context, notify.Event) error { return errors.New("down") }),
		notify.NewLogger(quietLogger()),
	}
	err := m.Notify(context.Background(), notify.Event{Kind: notify.KindInvoiceCancelled})
	require.Error(t, err)
	assert.Equal(t, map[notify.Kind]int{notify.KindInvoiceCancelled: 1}, mem.Kinds())
}
