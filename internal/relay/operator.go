package relay

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/game/session"
	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// RoomSummary describes one ready room for the operator surface.
type RoomSummary struct {
	Name    string
	Members []string
}

// ListSessions returns summaries of every live session, ordered by id.
func (s *Server) ListSessions() []session.Summary {
	return s.sessions.List()
}

// ListReadyRooms returns every ready room with its member nicknames, ordered
// by room name.
func (s *Server) ListReadyRooms() []RoomSummary {
	snapshot := s.rooms.Snapshot()
	out := make([]RoomSummary, 0, len(snapshot))
	for name, members := range snapshot {
		out = append(out, RoomSummary{Name: name, Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GiveItem queues a server-originated item grant for a player slot. The
// grant is delivered with the same confirm/resend discipline as player data.
//
// Postcondition: Returns an error when the session is unknown or the worker
// queue is full; delivery itself happens asynchronously.
func (s *Server) GiveItem(item, sessionID string, playerID int) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}

	label := protocol.MultiworldItemLabel
	if sess.IsItemSync() {
		label = protocol.ItemSyncItemLabel
	}
	return s.pool.Submit(func() {
		sess.SendDataTo(label, item, playerID, "Server", 0)
		s.logger.Info("item granted",
			zap.String("session", sessionID),
			zap.Int("player", playerID),
			zap.String("item", item),
		)
	})
}

// observeMembership logs membership telemetry whenever a session's bound
// player set changes.
func (s *Server) observeMembership(sessionID string, players map[int]string) {
	slots := make([]int, 0, len(players))
	for id := range players {
		slots = append(slots, id)
	}
	sort.Ints(slots)
	names := make([]string, 0, len(slots))
	for _, id := range slots {
		names = append(names, fmt.Sprintf("%d:%s", id, players[id]))
	}
	s.logger.Info("session membership changed",
		zap.String("session", sessionID),
		zap.Int("bound", len(players)),
		zap.Strings("players", names),
	)
}
