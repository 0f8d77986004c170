package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierBuildsNamespacedTypes(t *testing.T) {
	r := NewRegistry()
	n := NewNotifier(r)
	cal := uuid.New()
	actor, watcher := uuid.New(), uuid.New()
	actorConn, watcherConn := &fakeConn{}, &fakeConn{}
	r.Connect(actorConn, actor, cal)
	r.Connect(watcherConn, watcher, cal)

	n.EntryChanged(cal, ActionCreated, map[string]any{"id": "e1"}, actor)
	n.TaskChanged(cal, ActionArchived, map[string]any{"id": "t1"}, actor)
	n.CalendarChanged(cal, ActionUpdated, map[string]any{"id": cal.String()}, actor)

	got := watcherConn.received()
	require.Len(t, got, 3)
	assert.Equal(t, "entry:created", got[0].Type)
	assert.Equal(t, "task:archived", got[1].Type)
	assert.Equal(t, "calendar:updated", got[2].Type)
	assert.False(t, got[0].Timestamp.IsZero())

	// The acting user never sees an echo of its own mutation.
	assert.Empty(t, actorConn.received())
}

func TestNotifyUserReachesEveryConnection(t *testing.T) {
	r := NewRegistry()
	n := NewNotifier(r)
	user := uuid.New()
	conn1, conn2 := &fakeConn{}, &fakeConn{}
	r.Connect(conn1, user, uuid.New())
	r.Connect(conn2, user, uuid.New())

	n.NotifyUser(user, "reminder", map[string]any{"entry_id": "e1"})

	require.Len(t, conn1.received(), 1)
	require.Len(t, conn2.received(), 1)
	assert.Equal(t, "notification:reminder", conn1.received()[0].Type)
}
