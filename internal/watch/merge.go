package watch

import (
	"strings"
	"time"

	"consultation-queue-server/internal/models"
)

// MatchWindow bounds how far apart a local send and its stored copy may be
// stamped when they have to be matched without a client key.
const MatchWindow = 2 * time.Minute

// Merge lays the messages still awaiting confirmation over a fresh server
// snapshot. A pending message is confirmed by a snapshot entry with the same
// client key, or failing that, one from the same sender with the same
// content stamped within MatchWindow. Each snapshot entry confirms at most
// one pending message. Unconfirmed messages are appended after the snapshot
// in the order they were sent.
func Merge(snapshot, pending []models.Message) (merged, stillPending []models.Message) {
	used := make([]bool, len(snapshot))
	confirmed := make([]bool, len(pending))

	byKey := make(map[string]int, len(snapshot))
	for i, m := range snapshot {
		if m.ClientKey != "" {
			byKey[m.ClientKey] = i
		}
	}
	for j, p := range pending {
		if p.ClientKey == "" {
			continue
		}
		if i, ok := byKey[p.ClientKey]; ok && !used[i] {
			used[i] = true
			confirmed[j] = true
		}
	}

	for j, p := range pending {
		if confirmed[j] {
			continue
		}
		for i, m := range snapshot {
			if !used[i] && sameMessage(m, p) {
				used[i] = true
				confirmed[j] = true
				break
			}
		}
	}

	merged = make([]models.Message, 0, len(snapshot)+len(pending))
	merged = append(merged, snapshot...)
	for j, p := range pending {
		if !confirmed[j] {
			stillPending = append(stillPending, p)
		}
	}
	merged = append(merged, stillPending...)
	return merged, stillPending
}

func sameMessage(stored, local models.Message) bool {
	// A stored copy carrying a different key is a separate send.
	if stored.ClientKey != "" && local.ClientKey != "" && stored.ClientKey != local.ClientKey {
		return false
	}
	if stored.SenderType != local.SenderType {
		return false
	}
	if stored.SenderID != "" && local.SenderID != "" && stored.SenderID != local.SenderID {
		return false
	}
	if strings.TrimSpace(stored.Content) != strings.TrimSpace(local.Content) {
		return false
	}
	gap := stored.CreatedAt.Sub(local.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= MatchWindow
}
