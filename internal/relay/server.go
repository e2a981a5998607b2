package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multiworld/internal/config"
	"github.com/cory-johannsen/multiworld/internal/game/generation"
	"github.com/cory-johannsen/multiworld/internal/game/room"
	"github.com/cory-johannsen/multiworld/internal/game/session"
	"github.com/cory-johannsen/multiworld/internal/protocol"
)

// staleMultiplier scales the ping interval into the liveness cutoff.
const staleMultiplier = 3.5

// Server is the message dispatch engine. It owns the client registry, the
// room coordinator, the generation orchestrator, and the session registry,
// and wires them together per incoming message.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	clients  *Registry
	rooms    *room.Coordinator
	orch     *generation.Orchestrator
	sessions *session.Registry
	spoilers *generation.SpoilerStore
	rando    generation.Randomizer
	pool     *Pool
}

// NewServer assembles a Server from its configuration.
//
// Precondition: cfg must be validated; rando and logger must be non-nil.
func NewServer(cfg config.Config, rando generation.Randomizer, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		clients:  NewRegistry(logger),
		rooms:    room.NewCoordinator(logger),
		orch:     generation.NewOrchestrator(logger),
		sessions: session.NewRegistry(cfg.Session.DefaultTTL, cfg.Session.IdleTimeout, logger),
		spoilers: generation.NewSpoilerStore(cfg.Generation.SpoilerDir, logger),
		rando:    rando,
		pool:     NewPool(cfg.Operator.Workers, cfg.Operator.QueueSize, logger),
	}
}

// HandleConnection implements ConnHandler: it runs the read loop for one
// connection until the peer disconnects, a protocol error occurs, or the
// context is cancelled.
func (s *Server) HandleConnection(ctx context.Context, conn *Conn) {
	client := s.clients.Accept(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.disconnect(client)
		case <-done:
		}
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			s.disconnect(client)
			return
		}
		if !s.dispatch(client, msg) {
			return
		}
	}
}

// dispatch routes one message. Returns false when the connection must end.
func (s *Server) dispatch(c *Client, msg protocol.Message) bool {
	if m, ok := msg.(*protocol.ConnectMessage); ok {
		return s.handleConnect(c, m)
	}
	if c.UID == 0 {
		s.logger.Debug("ignoring message before handshake",
			zap.Stringer("kind", msg.Kind()),
			zap.String("remote_addr", c.Conn.RemoteAddr().String()),
		)
		return true
	}

	switch m := msg.(type) {
	case *protocol.DisconnectMessage:
		s.disconnect(c)
		return false
	case *protocol.PingMessage:
		c.Touch(time.Now())
	case *protocol.ReadyMessage:
		s.handleReady(c, m)
	case *protocol.ItemSyncReadyMessage:
		s.handleItemSyncReady(c, m)
	case *protocol.UnreadyMessage:
		s.handleUnready(c)
	case *protocol.RequestSettingsMessage:
		s.handleRequestSettings(c)
	case *protocol.ApplySettingsMessage:
		s.handleApplySettings(c, m)
	case *protocol.InitiateGameMessage:
		s.handleInitiateGame(c, m)
	case *protocol.InitiateSyncGameMessage:
		s.handleInitiateSyncGame(c, m)
	case *protocol.RandoGeneratedMessage:
		s.handleRandoGenerated(c, m)
	case *protocol.JoinMessage:
		s.handleJoin(c, m)
	case *protocol.SaveMessage:
		s.handleSave(c)
	case *protocol.DataSendMessage:
		s.handleDataSend(c, m)
	case *protocol.DatasSendMessage:
		s.handleDatasSend(c, m)
	case *protocol.DataReceiveConfirmMessage:
		s.handleConfirm(c, m.ConfirmKey())
	case *protocol.DatasReceiveConfirmMessage:
		s.handleConfirm(c, m.ConfirmKey())
	case *protocol.AnnouncePlayerConfigMessage:
		s.handleAnnouncePlayerConfig(c, m)
	case *protocol.ConfirmPlayerConfigMessage:
		s.handleConfirm(c, m.ConfirmKey())
	default:
		// Server-to-client kinds arriving from a client are a protocol
		// violation and fatal for the connection.
		s.logger.Error("unexpected message kind from client",
			zap.Stringer("kind", msg.Kind()),
			zap.Uint64("uid", c.UID),
		)
		s.disconnect(c)
		return false
	}
	return true
}

// handleConnect runs the identity handshake. A client announcing a non-zero
// UID is rejected without a reply; UIDs are only ever assigned by the server.
func (s *Server) handleConnect(c *Client, m *protocol.ConnectMessage) bool {
	if m.SenderUID != 0 {
		s.logger.Warn("client claimed a uid on connect",
			zap.Uint64("claimed", m.SenderUID),
			zap.String("remote_addr", c.Conn.RemoteAddr().String()),
		)
		s.disconnect(c)
		return false
	}
	uid, ok := s.clients.Identify(c)
	if !ok {
		s.logger.Warn("duplicate connect", zap.Uint64("uid", c.UID))
		s.disconnect(c)
		return false
	}
	c.Touch(time.Now())
	s.send(c, &protocol.ConnectMessage{SenderUID: uid, ServerName: s.cfg.Server.Name})
	return true
}

func (s *Server) handleReady(c *Client, m *protocol.ReadyMessage) {
	roster, err := s.rooms.Ready(m.Room, c.UID, m.Nickname, m.Mode)
	if err != nil {
		s.deny(c, err)
		return
	}
	c.SetNickname(m.Nickname)
	c.SetRoom(m.Room)
	s.broadcastRoster(roster)
}

func (s *Server) handleItemSyncReady(c *Client, m *protocol.ItemSyncReadyMessage) {
	roster, err := s.rooms.ReadyItemSync(m.Room, c.UID, m.Nickname, m.Hash)
	if err != nil {
		s.deny(c, err)
		return
	}
	c.SetNickname(m.Nickname)
	c.SetRoom(m.Room)
	s.broadcastRoster(roster)
}

// deny reports a ready rejection to the client. Negotiation conflicts carry
// their reason verbatim; anything else gets a generic description.
func (s *Server) deny(c *Client, err error) {
	reason := err.Error()
	s.logger.Info("ready denied", zap.Uint64("uid", c.UID), zap.String("reason", reason))
	s.send(c, &protocol.ReadyDenyMessage{Description: reason})
}

// broadcastRoster fans the updated roster out to every readied member.
func (s *Server) broadcastRoster(roster room.Roster) {
	msg := &protocol.ReadyConfirmMessage{Ready: roster.Count, Names: roster.Names}
	for _, uid := range roster.UIDs {
		if member, ok := s.clients.Get(uid); ok {
			s.send(member, msg)
		}
	}
}

func (s *Server) handleUnready(c *Client) {
	roomName, ok := c.Room()
	if !ok {
		return
	}
	s.unready(c, roomName)
}

// unready removes the client from its room, reconciling any in-flight
// generation, and broadcasts the refreshed roster to the remaining members.
func (s *Server) unready(c *Client, roomName string) {
	roster, removed, empty := s.rooms.Unready(roomName, c.UID)
	c.ClearRoom()
	if !removed {
		return
	}

	if s.orch.Generating(roomName) {
		if empty {
			s.orch.Abort(roomName)
		} else if s.orch.Discard(roomName, c.UID, roster.Count) {
			s.completeGeneration(roomName)
			return
		}
	}
	if !empty {
		s.broadcastRoster(roster)
	}
}

// handleRequestSettings relays a settings request to the first other room
// member. Meaningless in a one-member room.
func (s *Server) handleRequestSettings(c *Client) {
	roomName, ok := c.Room()
	if !ok {
		return
	}
	members := s.rooms.Members(roomName)
	if len(members) < 2 {
		return
	}
	for _, m := range members {
		if m.UID == c.UID {
			continue
		}
		if target, ok := s.clients.Get(m.UID); ok {
			s.send(target, &protocol.RequestSettingsMessage{})
		}
		return
	}
}

// handleApplySettings relays a settings blob to every other room member.
func (s *Server) handleApplySettings(c *Client, m *protocol.ApplySettingsMessage) {
	roomName, ok := c.Room()
	if !ok {
		return
	}
	for _, member := range s.rooms.Members(roomName) {
		if member.UID == c.UID {
			continue
		}
		if target, ok := s.clients.Get(member.UID); ok {
			s.send(target, &protocol.ApplySettingsMessage{Settings: m.Settings})
		}
	}
}

// handleInitiateGame opens the two-phase multiworld generation: parse the
// settings, then ask every readied member for its candidate pool. A room
// already mid-generation ignores the request.
func (s *Server) handleInitiateGame(c *Client, m *protocol.InitiateGameMessage) {
	roomName, ok := c.Room()
	if !ok || !s.rooms.IsReadied(roomName, c.UID) {
		return
	}

	if err := s.orch.Begin(roomName, m.Settings); err != nil {
		if err == generation.ErrAlreadyGenerating {
			s.logger.Info("initiate ignored, room already generating",
				zap.String("room", room.DisplayName(roomName)))
			return
		}
		s.deny(c, err)
		return
	}

	for _, member := range s.rooms.Members(roomName) {
		if target, ok := s.clients.Get(member.UID); ok {
			s.send(target, &protocol.RequestRandoMessage{})
		}
	}
}

// handleInitiateSyncGame starts an item-sync session in a single phase: no
// server-side randomization, every member gets slot i of a fresh session.
func (s *Server) handleInitiateSyncGame(c *Client, m *protocol.InitiateSyncGameMessage) {
	roomName, ok := c.Room()
	if !ok || !s.rooms.IsReadied(roomName, c.UID) {
		return
	}
	members := s.rooms.Members(roomName)
	if len(members) == 0 {
		return
	}

	// The initiate-sync message is forwarded as-is so the other members
	// adopt the initiator's settings before the session starts.
	for _, member := range members {
		if member.UID == c.UID {
			continue
		}
		if target, ok := s.clients.Get(member.UID); ok {
			s.send(target, m)
		}
	}

	sessionID := uuid.NewString()
	sess := s.sessions.Create(sessionID, len(members), true)
	sess.Observe(s.observeMembership)

	nicknames := make([]string, 0, len(members))
	for _, member := range members {
		nicknames = append(nicknames, member.Nickname)
	}

	s.logger.Info("itemsync session started",
		zap.String("room", room.DisplayName(roomName)),
		zap.String("session", sessionID),
		zap.Int("players", len(members)),
	)

	for i, member := range members {
		target, ok := s.clients.Get(member.UID)
		if !ok {
			continue
		}
		s.send(target, &protocol.ResultMessage{
			Placements: protocol.PlacementSet{},
			SessionID:  sessionID,
			PlayerID:   i,
			Nicknames:  nicknames,
		})
		target.ClearRoom()
	}
	s.rooms.Disband(roomName)
}

// handleRandoGenerated records one member's candidate pool and runs the
// randomization once the last pool arrives.
func (s *Server) handleRandoGenerated(c *Client, m *protocol.RandoGeneratedMessage) {
	roomName, ok := c.Room()
	if !ok {
		return
	}
	readyID, ok := s.rooms.ReadyID(roomName, c.UID)
	if !ok {
		return
	}

	pool := generation.PlayerItemsPool{
		ReadyID:  readyID,
		Nickname: c.Nickname(),
		Seed:     m.Seed,
		Items:    m.Items,
	}
	complete, _ := s.orch.Submit(roomName, c.UID, pool, s.rooms.MemberCount(roomName))
	if complete {
		s.completeGeneration(roomName)
	}
}

// completeGeneration closes the collection phase: randomize outside any lock,
// persist the spoiler, create the session, and distribute each member's
// placements correlated by ready id. A randomizer failure denies every member
// but keeps the room intact so they can retry.
func (s *Server) completeGeneration(roomName string) {
	members := s.rooms.Members(roomName)
	pools, settings, ok := s.orch.Take(roomName)
	if !ok {
		return
	}

	out, err := s.rando.Randomize(pools, settings)
	if err != nil {
		s.logger.Error("randomization failed",
			zap.String("room", room.DisplayName(roomName)),
			zap.Error(err),
		)
		for _, member := range members {
			if target, ok := s.clients.Get(member.UID); ok {
				s.send(target, &protocol.ReadyDenyMessage{
					Description: "Randomization failed.\nPlease initiate again"})
			}
		}
		return
	}

	sessionID := uuid.NewString()
	if _, err := s.spoilers.Write(sessionID, settings, out.Spoiler); err != nil {
		s.logger.Error("writing spoiler log", zap.String("session", sessionID), zap.Error(err))
	}

	sess := s.sessions.Create(sessionID, len(out.Pools), false)
	sess.Observe(s.observeMembership)

	nicknames := make([]string, 0, len(out.Pools))
	for _, p := range out.Pools {
		nicknames = append(nicknames, p.Nickname)
	}

	s.logger.Info("multiworld session started",
		zap.String("room", room.DisplayName(roomName)),
		zap.String("session", sessionID),
		zap.Int("players", len(out.Pools)),
		zap.String("hash", out.Hash),
	)

	for i, p := range out.Pools {
		member, found := memberByReadyID(members, p.ReadyID)
		if !found {
			s.logger.Warn("no readied member for generated pool",
				zap.String("session", sessionID),
				zap.Int("player", i),
			)
			continue
		}
		target, ok := s.clients.Get(member.UID)
		if !ok {
			continue
		}
		s.send(target, &protocol.ResultMessage{
			Placements:   p.Items,
			SessionID:    sessionID,
			PlayerID:     i,
			Nicknames:    nicknames,
			ItemsSpoiler: out.Spoiler,
			PlayerItems:  out.PlayerItems[i],
			Hash:         out.Hash,
		})
		target.ClearRoom()
	}
	s.rooms.Disband(roomName)
}

func memberByReadyID(members []room.Member, readyID string) (room.Member, bool) {
	for _, m := range members {
		if m.ReadyID == readyID {
			return m, true
		}
	}
	return room.Member{}, false
}

func (s *Server) handleJoin(c *Client, m *protocol.JoinMessage) {
	sess, created := s.sessions.GetOrCreate(m.SessionID, m.Mode == protocol.ModeItemSync)
	if created {
		sess.Observe(s.observeMembership)
	}
	c.SetNickname(m.Nickname)
	c.SetSession(&SessionRef{ID: m.SessionID, PlayerID: m.PlayerID})
	sess.AddPlayer(m.PlayerID, c.UID, m.Nickname, c.Conn)
	s.send(c, &protocol.JoinConfirmMessage{})
	sess.Replay(m.PlayerID)
}

func (s *Server) handleSave(c *Client) {
	ref := c.Session()
	if ref == nil {
		return
	}
	if sess, ok := s.sessions.Get(ref.ID); ok {
		sess.Save(ref.PlayerID)
	}
}

func (s *Server) handleDataSend(c *Client, m *protocol.DataSendMessage) {
	ref := c.Session()
	if ref == nil {
		return
	}
	sess, ok := s.sessions.Get(ref.ID)
	if !ok {
		return
	}

	from := c.Nickname()
	if m.To == protocol.ToAllPlayers {
		sess.SendDataToAll(m.Label, m.Content, ref.PlayerID, from, m.TTL)
	} else {
		sess.SendDataTo(m.Label, m.Content, m.To, from, m.TTL)
	}
	s.send(c, &protocol.DataSendConfirmMessage{Label: m.Label, Content: m.Content, To: m.To})
}

func (s *Server) handleDatasSend(c *Client, m *protocol.DatasSendMessage) {
	ref := c.Session()
	if ref == nil {
		return
	}
	sess, ok := s.sessions.Get(ref.ID)
	if !ok {
		return
	}

	byTarget := make(map[int][]protocol.LabeledData)
	order := make([]int, 0)
	for _, entry := range m.Datas {
		if _, seen := byTarget[entry.To]; !seen {
			order = append(order, entry.To)
		}
		byTarget[entry.To] = append(byTarget[entry.To], protocol.LabeledData{
			Label:   entry.Label,
			Content: entry.Content,
		})
	}
	for _, to := range order {
		sess.SendDatasTo(to, byTarget[to], ref.PlayerID)
	}
	s.send(c, &protocol.DatasSendConfirmMessage{Count: len(m.Datas)})
}

func (s *Server) handleConfirm(c *Client, key string) {
	ref := c.Session()
	if ref == nil {
		return
	}
	if sess, ok := s.sessions.Get(ref.ID); ok {
		sess.Confirm(ref.PlayerID, key)
	}
}

func (s *Server) handleAnnouncePlayerConfig(c *Client, m *protocol.AnnouncePlayerConfigMessage) {
	ref := c.Session()
	if ref == nil {
		return
	}
	if sess, ok := s.sessions.Get(ref.ID); ok {
		sess.AnnounceConfig(ref.PlayerID, m.Config)
	}
}

// send delivers a message to the client, tearing the connection down on a
// write failure.
func (s *Server) send(c *Client, msg protocol.Message) {
	if err := c.Conn.Send(msg); err != nil {
		s.logger.Info("send failed",
			zap.Uint64("uid", c.UID),
			zap.Stringer("kind", msg.Kind()),
			zap.Error(err),
		)
		s.disconnect(c)
	}
}

// disconnect tears a client down exactly once: room and session state are
// released, the registry entry is removed, and the socket is closed. Safe to
// call from any goroutine and from within send failure handling.
func (s *Server) disconnect(c *Client) {
	if !c.markClosed() {
		return
	}

	if roomName, ok := c.Room(); ok {
		s.unready(c, roomName)
	}
	if ref := c.Session(); ref != nil {
		if sess, ok := s.sessions.Get(ref.ID); ok {
			sess.RemovePlayer(ref.PlayerID)
		}
		c.ClearSession()
	}
	s.clients.Remove(c)

	if c.UID != 0 {
		_ = c.Conn.Send(&protocol.DisconnectMessage{})
		s.logger.Info("client disconnected", zap.Uint64("uid", c.UID))
	}
	_ = c.Conn.Close()
}

// PingSweep runs one liveness pass: drop clients not heard from within 3.5
// ping intervals, then heartbeat the rest. A failed heartbeat write drops the
// client immediately.
func (s *Server) PingSweep() {
	now := time.Now()
	cutoff := time.Duration(staleMultiplier * float64(s.cfg.Server.PingInterval))

	for _, c := range s.clients.Stale(now, cutoff) {
		s.logger.Info("dropping unresponsive client",
			zap.Uint64("uid", c.UID),
			zap.Duration("silent_for", now.Sub(c.LastSeen())),
		)
		s.disconnect(c)
	}
	for _, c := range s.clients.All() {
		if err := c.Conn.Send(&protocol.PingMessage{}); err != nil {
			s.disconnect(c)
		}
	}
}

// ResendSweep runs one reliable-delivery pass over every session and drops
// the clients whose resend batches could not be written.
func (s *Server) ResendSweep() {
	for _, f := range s.sessions.Sweep(time.Now()) {
		s.logger.Info("resend write failed",
			zap.String("session", f.SessionID),
			zap.Int("player", f.Slot),
			zap.Error(f.Err),
		)
		if c, ok := s.clients.Get(f.UID); ok {
			s.disconnect(c)
		}
	}
}

// Shutdown disconnects every client and drains the operator worker pool.
// Called before the acceptor stops so blocked read loops unwind.
func (s *Server) Shutdown() {
	for _, c := range s.clients.Everyone() {
		s.disconnect(c)
	}
	s.pool.Close()
}
