package tracker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InitialSnapshot(t *testing.T) {
	s := NewStore()
	snap := s.Current()
	require.NotNil(t, snap)
	assert.Zero(t, snap.Seq())
	assert.Zero(t, snap.Len())
	assert.True(t, snap.Time().IsZero())

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":0,"devices":[],"changed":[],"removed":[]}`, string(b))
}

func TestStore_PublishNotifiesInOrder(t *testing.T) {
	s := NewStore()

	var calls []string
	s.Subscribe(func(*Snapshot) { calls = append(calls, "first") })
	unsub := s.Subscribe(func(*Snapshot) { calls = append(calls, "second") })
	s.Subscribe(func(*Snapshot) { calls = append(calls, "third") })

	snap := buildSnapshot(s.Current(), []DeviceRecord{{ID: "a"}}, 1, "c1", time.Now())
	s.publish(snap)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Same(t, snap, s.Current())

	unsub()
	unsub()
	calls = nil
	s.publish(buildSnapshot(snap, nil, 2, "c2", time.Now()))
	assert.Equal(t, []string{"first", "third"}, calls)
}

func TestStore_SubscriberPanicDoesNotStopOthers(t *testing.T) {
	s := NewStore()

	got := 0
	s.Subscribe(func(*Snapshot) { panic("boom") })
	s.Subscribe(func(snap *Snapshot) { got = int(snap.Seq()) })

	s.publish(buildSnapshot(s.Current(), nil, 1, "c1", time.Now()))
	assert.Equal(t, 1, got)
}

func TestBuildSnapshot_ChangeTags(t *testing.T) {
	prev := buildSnapshot(emptySnapshot(), []DeviceRecord{
		{ID: "b", Name: "B"},
		{ID: "a", Name: "A"},
		{ID: "c", Name: "C"},
	}, 1, "c1", time.Now())
	assert.Equal(t, []string{"a", "b", "c"}, prev.IDs())
	assert.Equal(t, []string{"a", "b", "c"}, prev.Changed())

	next := buildSnapshot(prev, []DeviceRecord{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B renamed"},
		{ID: "d", Name: "D"},
	}, 2, "c2", time.Now())

	assert.Equal(t, []string{"b", "d"}, next.Changed())
	assert.Equal(t, []string{"c"}, next.Removed())
	assert.True(t, next.IsChanged("d"))
	assert.False(t, next.IsChanged("a"))
	_, ok := next.Get("c")
	assert.False(t, ok)
}

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	snap := buildSnapshot(emptySnapshot(), []DeviceRecord{
		{ID: "a", Name: "A", Extended: &ExtendedInfo{Voltage: f64(12)}},
	}, 1, "c1", time.Now())

	rec, ok := snap.Get("a")
	require.True(t, ok)
	rec.Name = "changed"
	*rec.Extended.Voltage = 0

	devices := snap.Devices()
	devices[0].Name = "changed too"

	ids := snap.Changed()
	ids[0] = "z"

	again, _ := snap.Get("a")
	assert.Equal(t, "A", again.Name)
	assert.Equal(t, 12.0, *again.Extended.Voltage)
	assert.Equal(t, []string{"a"}, snap.Changed())
}
