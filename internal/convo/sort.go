package convo

import "sort"

// less orders the list unread-first, then most recent message, then by
// name so entries without messages keep a stable position.
func less(a, b *Conversation) bool {
	if a.UnreadCount != b.UnreadCount {
		return a.UnreadCount > b.UnreadCount
	}
	if !a.LastMessageTime.Equal(b.LastMessageTime) {
		return a.LastMessageTime.After(b.LastMessageTime)
	}
	return a.sortName < b.sortName
}

func sortConversations(items []Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(&items[i], &items[j])
	})
}
