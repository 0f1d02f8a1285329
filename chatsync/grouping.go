package chatsync

import "time"

// DateGroup is the messages of one local calendar day.
type DateGroup struct {
	Date     time.Time // midnight of the day in the grouping location
	Messages []Message
}

// Label renders the day the way the chat window headers do, e.g. "Mon Jan 02 2006".
func (g DateGroup) Label() string {
	return g.Date.Format("Mon Jan 02 2006")
}

// Groups returns the conversation's messages grouped by calendar date in loc,
// oldest day first. The projection is cached until the timeline changes.
func (s *Store) Groups(conversationID int64, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if c.groups == nil || c.groupsLoc != loc {
		c.groups = groupByDate(c.messages, loc)
		c.groupsLoc = loc
	}
	return cloneGroups(c.groups)
}

func groupByDate(messages []*Message, loc *time.Location) []DateGroup {
	groups := make([]DateGroup, 0)
	index := make(map[time.Time]int)
	for _, m := range messages {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DateGroup{Date: day})
		}
		groups[i].Messages = append(groups[i].Messages, m.Clone())
	}
	return groups
}

func cloneGroups(in []DateGroup) []DateGroup {
	out := make([]DateGroup, len(in))
	for i, g := range in {
		msgs := make([]Message, len(g.Messages))
		for j := range g.Messages {
			msgs[j] = g.Messages[j].Clone()
		}
		out[i] = DateGroup{Date: g.Date, Messages: msgs}
	}
	return out
}
