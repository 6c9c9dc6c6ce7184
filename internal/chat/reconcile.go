package chat

import "github.com/Rrens/healthchat/internal/domain"

// mergeMessages reconciles a remote snapshot with the local message list.
// Remote rows are authoritative and come first in remote order. Local
// messages the snapshot does not contain are kept after them in local order
// when they are still pending or listed in recent, the messages changed
// locally after the fetch started. An empty snapshot never replaces a
// non-empty local list.
func mergeMessages(local, remote []domain.Message, recent map[string]bool) []domain.Message {
	if len(remote) == 0 && len(local) > 0 {
		return local
	}

	seen := make(map[string]struct{}, len(remote))
	out := make([]domain.Message, 0, len(remote)+len(local))

	for _, m := range remote {
		m.Status = domain.StatusConfirmed
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}

	for _, m := range local {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if m.Status != domain.StatusPending && !recent[m.ID] {
			continue
		}
		out = append(out, m)
	}

	return out
}
