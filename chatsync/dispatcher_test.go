package chatsync

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrames(t *testing.T) {
	replyTo := int64(3)
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "message",
			raw:  `{"type":"message","message":{"id":5,"chat_id":42,"sender_id":7,"content":"hi","message_type":"text","status":"sent","reply_to_message_id":3,"created_at":"2024-03-01T10:00:00"}}`,
			want: NewMessageEvent{Message: Message{
				ID: 5, ConversationID: 42, SenderID: 7, Content: "hi", Type: MessageTypeText,
				Status: StatusSent, ReplyToID: &replyTo, CreatedAt: ts(1, 10),
			}},
		},
		{
			name: "status",
			raw:  `{"type":"message_status","message_id":5,"chat_id":42,"status":"delivered"}`,
			want: StatusUpdateEvent{MessageID: 5, ConversationID: 42, Status: StatusDelivered},
		},
		{
			name: "deleted",
			raw:  `{"type":"message_deleted","message_id":5,"chat_id":42}`,
			want: MessageDeletedEvent{MessageID: 5, ConversationID: 42},
		},
		{
			name: "edited",
			raw:  `{"type":"message_edited","message_id":5,"chat_id":42,"content":"fixed"}`,
			want: MessageEditedEvent{MessageID: 5, ConversationID: 42, Content: "fixed"},
		},
		{
			name: "typing",
			raw:  `{"type":"typing","chat_id":42,"user_id":9,"is_typing":true}`,
			want: TypingEvent{ConversationID: 42, UserID: 9, IsTyping: true},
		},
		{
			name: "pong",
			raw:  `{"type":"pong"}`,
			want: PongEvent{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeReaction(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"reaction","message_id":5,"reactions":[{"emoji":"👍","count":2,"users":[1,2]}]}`))
	require.NoError(t, err)

	r, ok := ev.(ReactionChangedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(5), r.MessageID)
	assert.Equal(t, 2, r.Reactions["👍"].Count)
	assert.True(t, r.Reactions.ReactedBy("👍", 2))

	ev, err = Decode([]byte(`{"type":"reaction","message_id":5,"reactions":[]}`))
	require.NoError(t, err)
	assert.Empty(t, ev.(ReactionChangedEvent).Reactions)

	ev, err = Decode([]byte(`{"type":"reaction","message_id":5}`))
	require.NoError(t, err)
	assert.NotNil(t, ev.(ReactionChangedEvent).Reactions)
}

func TestDecodeFriendRequest(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"friend_request","action":"received","request":{"id":1,"sender_id":4}}`))
	require.NoError(t, err)
	fr, ok := ev.(FriendRequestEvent)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1,"sender_id":4}`, string(fr.Request))

	ev, err = Decode([]byte(`{"type":"friend_request","action":"accepted","request":{"id":1}}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeUnknownTypeIgnored(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"presence","user_id":1}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, ErrorProtocol, CodeOf(err))

	_, err = Decode([]byte(`{"type":"message_status","message_id":"five"}`))
	require.Error(t, err)
	assert.Equal(t, ErrorSerialization, CodeOf(err))

	_, err = Decode([]byte(`{"type":"message"}`))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestDispatcherReportsMalformedFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var errs []error
	d := NewDispatcher(nil, m, func(err error) { errs = append(errs, err) })
	delivered := 0
	d.Subscribe(func(Event) { delivered++ })

	d.Dispatch([]byte(`{"type":`))
	d.Dispatch([]byte(`{"type":"unknown"}`))
	d.Dispatch([]byte(`{"type":"pong"}`))

	require.Len(t, errs, 1)
	assert.True(t, IsProtocolError(errs[0]))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("pong")))
}

func TestDispatcherDeliversInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	var order []string
	d.Subscribe(func(Event) { order = append(order, "store") })
	remove := d.Subscribe(func(Event) { order = append(order, "removed") })
	d.Subscribe(func(Event) { order = append(order, "ui") })
	remove()

	d.Dispatch([]byte(`{"type":"message_deleted","message_id":1}`))
	d.Dispatch([]byte(`{"type":"pong"}`))
	assert.Equal(t, []string{"store", "ui", "store", "ui"}, order)
}

func TestDispatcherUnsubscribeDuringDelivery(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	calls := 0
	var remove func()
	remove = d.Subscribe(func(Event) {
		calls++
		remove()
	})
	second := 0
	d.Subscribe(func(Event) { second++ })

	d.Dispatch([]byte(`{"type":"pong"}`))
	d.Dispatch([]byte(`{"type":"pong"}`))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, second)
}
