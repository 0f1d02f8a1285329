package chatsync

import "encoding/json"

// Handler receives decoded events on the loop.
type Handler func(Event)

// Dispatcher decodes inbound frames and delivers them to handlers in
// arrival order. It is confined to the loop.
type Dispatcher struct {
	logger   Logger
	metrics  *Metrics
	onError  func(error)
	handlers []*handlerEntry
}

type handlerEntry struct {
	fn      Handler
	removed bool
}

// NewDispatcher creates a dispatcher. onError may be nil.
func NewDispatcher(logger Logger, metrics *Metrics, onError func(error)) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{logger: logger, metrics: metrics, onError: onError}
}

// Subscribe registers h and returns a function that removes it.
func (d *Dispatcher) Subscribe(h Handler) func() {
	e := &handlerEntry{fn: h}
	d.handlers = append(d.handlers, e)
	return func() {
		e.removed = true
		for i, cur := range d.handlers {
			if cur == e {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

// Dispatch decodes one frame and delivers it. Malformed frames are reported
// and dropped; unknown types are ignored.
func (d *Dispatcher) Dispatch(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		d.metrics.protocolError()
		d.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
		d.fireError(err)
		return
	}
	if ev == nil {
		return
	}
	d.metrics.frameReceived(ev.EventType())
	d.Deliver(ev)
}

// Deliver hands an already decoded event to every handler, in registration order.
func (d *Dispatcher) Deliver(ev Event) {
	handlers := d.handlers
	for _, h := range handlers {
		if h.removed {
			continue
		}
		h.fn(ev)
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}

// Decode turns a frame into a typed Event. It returns (nil, nil) for frame
// types this client does not know, so newer servers can add types.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, WrapError(ErrorProtocol, "frame is not a JSON object", err)
	}

	switch env.Type {
	case frameMessage:
		var f messageFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		if f.Message == nil {
			return nil, NewError(ErrorProtocol, "message frame without message")
		}
		return NewMessageEvent{Message: *f.Message}, nil
	case frameMessageStatus:
		var f statusFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		return StatusUpdateEvent{MessageID: f.MessageID, ConversationID: f.ConversationID, Status: f.Status}, nil
	case frameMessageDeleted:
		var f deletedFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		return MessageDeletedEvent{MessageID: f.MessageID, ConversationID: f.ConversationID}, nil
	case frameMessageEdited:
		var f editedFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		return MessageEditedEvent{MessageID: f.MessageID, ConversationID: f.ConversationID, Content: f.Content}, nil
	case frameReaction:
		var f reactionFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		if f.Reactions == nil {
			f.Reactions = Reactions{}
		}
		return ReactionChangedEvent{MessageID: f.MessageID, ConversationID: f.ConversationID, Reactions: f.Reactions}, nil
	case frameFriendRequest:
		var f friendRequestFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		if f.Action != friendRequestReceived {
			return nil, nil
		}
		return FriendRequestEvent{Request: f.Request}, nil
	case frameTyping:
		var f typingFrame
		if err := unmarshalFrame(raw, &f); err != nil {
			return nil, err
		}
		return TypingEvent{ConversationID: f.ConversationID, UserID: f.UserID, IsTyping: f.IsTyping}, nil
	case framePong:
		return PongEvent{}, nil
	default:
		return nil, nil
	}
}

func unmarshalFrame(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return WrapError(ErrorSerialization, "failed to decode frame payload", err)
	}
	return nil
}
