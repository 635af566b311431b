package inbox

import (
	"sort"

	"github.com/haasonsaas/unibox/pkg/models"
)

// Thread is a root message and its replies in conversational order.
type Thread struct {
	Root    *models.Message   `json:"root"`
	Replies []*models.Message `json:"replies"`
}

// Group partitions messages into threads. Roots are ordered newest first
// and replies oldest first. A reply whose root is not in messages is left
// out of the result.
func Group(messages []*models.Message) []Thread {
	var roots []*models.Message
	replies := make(map[string][]*models.Message)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch {
		case msg.IsRoot():
			roots = append(roots, msg)
		case msg.IsReply():
			replies[msg.ThreadID] = append(replies[msg.ThreadID], msg)
		}
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return newer(roots[i], roots[j])
	})

	threads := make([]Thread, 0, len(roots))
	for _, root := range roots {
		members := replies[root.ThreadKey()]
		sort.SliceStable(members, func(i, j int) bool {
			return newer(members[j], members[i])
		})
		if members == nil {
			members = []*models.Message{}
		}
		threads = append(threads, Thread{Root: root, Replies: members})
	}
	return threads
}

// newer orders by creation time, breaking ties on id so the order is total.
func newer(a, b *models.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
