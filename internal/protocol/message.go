// Package protocol defines the wire messages exchanged between the relay
// server and its clients, along with the framed codec used to move them
// over a TCP stream.
package protocol

import "fmt"

// Kind is the message-type discriminant carried in every frame header.
type Kind uint16

// Message kinds. The numeric values are part of the wire protocol and
// must not be reordered.
const (
	KindInvalid Kind = iota
	KindConnect
	KindDisconnect
	KindPing
	KindJoin
	KindJoinConfirm
	KindReady
	KindItemSyncReady
	KindReadyConfirm
	KindReadyDeny
	KindUnready
	KindRequestSettings
	KindApplySettings
	KindInitiateGame
	KindInitiateSyncGame
	KindRequestRando
	KindRandoGenerated
	KindResult
	KindSave
	KindDataSend
	KindDataSendConfirm
	KindDataReceive
	KindDataReceiveConfirm
	KindDatasSend
	KindDatasSendConfirm
	KindDatasReceive
	KindDatasReceiveConfirm
	KindAnnouncePlayerConfig
	KindConfirmPlayerConfig
)

var kindNames = map[Kind]string{
	KindConnect:              "connect",
	KindDisconnect:           "disconnect",
	KindPing:                 "ping",
	KindJoin:                 "join",
	KindJoinConfirm:          "join_confirm",
	KindReady:                "ready",
	KindItemSyncReady:        "itemsync_ready",
	KindReadyConfirm:         "ready_confirm",
	KindReadyDeny:            "ready_deny",
	KindUnready:              "unready",
	KindRequestSettings:      "request_settings",
	KindApplySettings:        "apply_settings",
	KindInitiateGame:         "initiate_game",
	KindInitiateSyncGame:     "initiate_sync_game",
	KindRequestRando:         "request_rando",
	KindRandoGenerated:       "rando_generated",
	KindResult:               "result",
	KindSave:                 "save",
	KindDataSend:             "data_send",
	KindDataSendConfirm:      "data_send_confirm",
	KindDataReceive:          "data_receive",
	KindDataReceiveConfirm:   "data_receive_confirm",
	KindDatasSend:            "datas_send",
	KindDatasSendConfirm:     "datas_send_confirm",
	KindDatasReceive:         "datas_receive",
	KindDatasReceiveConfirm:  "datas_receive_confirm",
	KindAnnouncePlayerConfig: "announce_player_config",
	KindConfirmPlayerConfig:  "confirm_player_config",
}

// String returns the lowercase protocol name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint16(k))
}

// Message is any payload that can travel inside a frame.
type Message interface {
	Kind() Kind
}

// Confirmable is a message that requires an acknowledgement from its
// receiver. ConfirmKey must return the same value for the message and for
// the acknowledgement that settles it. A key is not a unique identifier:
// several outstanding deliveries may share one, and each acknowledgement
// settles a single delivery.
type Confirmable interface {
	Message
	ConfirmKey() string
}

// Addressing sentinels for data routing.
const (
	// ToAllPlayers fans a data message out to every other player in the session.
	ToAllPlayers = -2
	// ServerPlayerID marks the server itself as the originator of a data message.
	ServerPlayerID = -1
)

// Data labels recognised by the stock clients.
const (
	MultiworldItemLabel = "multiworld-item"
	ItemSyncItemLabel   = "itemsync-item"
)

// Placement is a single item placed at a location.
type Placement struct {
	Item     string `json:"item"`
	Location string `json:"location"`
}

// PlacementSet groups placements by placement group name.
type PlacementSet map[string][]Placement

// SpoilerLog is the human-readable record of a completed generation.
type SpoilerLog struct {
	FullOrderedItems string `json:"full_ordered_items"`
}

// LabeledData is one entry of a bulk data transfer.
type LabeledData struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

// GameMode distinguishes multiworld sessions from item-sync sessions.
type GameMode int

// Game modes.
const (
	ModeMultiworld GameMode = iota
	ModeItemSync
)

// String returns the display name of the mode.
func (m GameMode) String() string {
	switch m {
	case ModeMultiworld:
		return "Multiworld"
	case ModeItemSync:
		return "ItemSync"
	default:
		return fmt.Sprintf("GameMode(%d)", int(m))
	}
}

// ConnectMessage opens the handshake. Clients send SenderUID 0; the server
// replies with the assigned UID and its display name.
type ConnectMessage struct {
	SenderUID  uint64 `json:"sender_uid"`
	ServerName string `json:"server_name,omitempty"`
}

// Kind implements Message.
func (ConnectMessage) Kind() Kind { return KindConnect }

// DisconnectMessage announces an orderly disconnect in either direction.
type DisconnectMessage struct{}

// Kind implements Message.
func (DisconnectMessage) Kind() Kind { return KindDisconnect }

// PingMessage is the liveness heartbeat, sent independently by both sides.
type PingMessage struct{}

// Kind implements Message.
func (PingMessage) Kind() Kind { return KindPing }

// JoinMessage binds a connected client to a player slot of an existing
// game session.
type JoinMessage struct {
	SessionID string   `json:"session_id"`
	PlayerID  int      `json:"player_id"`
	Mode      GameMode `json:"mode"`
	Nickname  string   `json:"nickname"`
}

// Kind implements Message.
func (JoinMessage) Kind() Kind { return KindJoin }

// JoinConfirmMessage acknowledges a JoinMessage.
type JoinConfirmMessage struct{}

// Kind implements Message.
func (JoinConfirmMessage) Kind() Kind { return KindJoinConfirm }

// ReadyMessage readies a client into a room for the given mode.
type ReadyMessage struct {
	Room     string   `json:"room"`
	Nickname string   `json:"nickname"`
	Mode     GameMode `json:"mode"`
}

// Kind implements Message.
func (ReadyMessage) Kind() Kind { return KindReady }

// ItemSyncReadyMessage readies a client into an item-sync room. Hash is the
// client's settings hash; all members of a room must agree on it.
type ItemSyncReadyMessage struct {
	Room     string `json:"room"`
	Nickname string `json:"nickname"`
	Hash     int    `json:"hash"`
}

// Kind implements Message.
func (ItemSyncReadyMessage) Kind() Kind { return KindItemSyncReady }

// ReadyConfirmMessage broadcasts the updated roster to every readied member.
type ReadyConfirmMessage struct {
	Ready int      `json:"ready"`
	Names []string `json:"names"`
}

// Kind implements Message.
func (ReadyConfirmMessage) Kind() Kind { return KindReadyConfirm }

// ReadyDenyMessage rejects a ready attempt with a human-readable reason.
type ReadyDenyMessage struct {
	Description string `json:"description"`
}

// Kind implements Message.
func (ReadyDenyMessage) Kind() Kind { return KindReadyDeny }

// UnreadyMessage removes the sender from its readied room.
type UnreadyMessage struct{}

// Kind implements Message.
func (UnreadyMessage) Kind() Kind { return KindUnready }

// RequestSettingsMessage asks another room member to share its settings.
// The server relays it unmodified.
type RequestSettingsMessage struct{}

// Kind implements Message.
func (RequestSettingsMessage) Kind() Kind { return KindRequestSettings }

// ApplySettingsMessage carries a settings blob to the other room members.
// The server relays it unmodified.
type ApplySettingsMessage struct {
	Settings string `json:"settings"`
}

// Kind implements Message.
func (ApplySettingsMessage) Kind() Kind { return KindApplySettings }

// InitiateGameMessage starts the two-phase multiworld generation for the
// sender's room. Settings is an opaque JSON blob parsed by the orchestrator.
type InitiateGameMessage struct {
	Settings string `json:"settings"`
}

// Kind implements Message.
func (InitiateGameMessage) Kind() Kind { return KindInitiateGame }

// InitiateSyncGameMessage starts an item-sync session for the sender's room.
type InitiateSyncGameMessage struct {
	Settings string `json:"settings"`
}

// Kind implements Message.
func (InitiateSyncGameMessage) Kind() Kind { return KindInitiateSyncGame }

// RequestRandoMessage asks a room member to compute its candidate item pool.
type RequestRandoMessage struct{}

// Kind implements Message.
func (RequestRandoMessage) Kind() Kind { return KindRequestRando }

// RandoGeneratedMessage returns a member's locally computed candidate pool.
type RandoGeneratedMessage struct {
	Items PlacementSet `json:"items"`
	Seed  int64        `json:"seed"`
}

// Kind implements Message.
func (RandoGeneratedMessage) Kind() Kind { return KindRandoGenerated }

// ResultMessage distributes a finished generation to one player.
type ResultMessage struct {
	Placements   PlacementSet      `json:"placements"`
	SessionID    string            `json:"session_id"`
	PlayerID     int               `json:"player_id"`
	Nicknames    []string          `json:"nicknames"`
	ItemsSpoiler SpoilerLog        `json:"items_spoiler"`
	PlayerItems  map[string]string `json:"player_items"`
	Hash         string            `json:"hash,omitempty"`
}

// Kind implements Message.
func (ResultMessage) Kind() Kind { return KindResult }

// SaveMessage records a save marker for the sender's player slot.
type SaveMessage struct{}

// Kind implements Message.
func (SaveMessage) Kind() Kind { return KindSave }

// DataSendMessage asks the server to relay a gameplay payload to one player
// (or all, with To == ToAllPlayers).
type DataSendMessage struct {
	Label   string `json:"label"`
	Content string `json:"content"`
	To      int    `json:"to"`
	TTL     int    `json:"ttl"`
}

// Kind implements Message.
func (DataSendMessage) Kind() Kind { return KindDataSend }

// DataSendConfirmMessage tells the original sender its payload was accepted
// for relay. It does not imply the receiver has acknowledged it.
type DataSendConfirmMessage struct {
	Label   string `json:"label"`
	Content string `json:"content"`
	To      int    `json:"to"`
}

// Kind implements Message.
func (DataSendConfirmMessage) Kind() Kind { return KindDataSendConfirm }

// DataReceiveMessage delivers a relayed gameplay payload to its receiver.
// It is confirmable; unacknowledged copies are resent until the TTL runs out.
type DataReceiveMessage struct {
	Label   string `json:"label"`
	Content string `json:"content"`
	From    string `json:"from"`
}

// Kind implements Message.
func (DataReceiveMessage) Kind() Kind { return KindDataReceive }

// ConfirmKey implements Confirmable.
func (m DataReceiveMessage) ConfirmKey() string {
	return dataConfirmKey(m.Label, m.Content, m.From)
}

// DataReceiveConfirmMessage acknowledges one DataReceiveMessage.
type DataReceiveConfirmMessage struct {
	Label   string `json:"label"`
	Content string `json:"content"`
	From    string `json:"from"`
}

// Kind implements Message.
func (DataReceiveConfirmMessage) Kind() Kind { return KindDataReceiveConfirm }

// ConfirmKey returns the key of the entry this acknowledgement settles.
func (m DataReceiveConfirmMessage) ConfirmKey() string {
	return dataConfirmKey(m.Label, m.Content, m.From)
}

func dataConfirmKey(label, content, from string) string {
	return fmt.Sprintf("data|%s|%s|%s", label, content, from)
}

// DatasSendMessage relays a batch of gameplay payloads, each with its own
// destination player. Used when a client ejects its whole remaining pool.
type DatasSendMessage struct {
	Datas []DataSendEntry `json:"datas"`
}

// DataSendEntry is one element of a DatasSendMessage.
type DataSendEntry struct {
	Label   string `json:"label"`
	Content string `json:"content"`
	To      int    `json:"to"`
}

// Kind implements Message.
func (DatasSendMessage) Kind() Kind { return KindDatasSend }

// DatasSendConfirmMessage tells the sender how many entries were accepted
// for relay.
type DatasSendConfirmMessage struct {
	Count int `json:"count"`
}

// Kind implements Message.
func (DatasSendConfirmMessage) Kind() Kind { return KindDatasSendConfirm }

// DatasReceiveMessage delivers a batch of payloads from one sender to its
// receiver. Confirmable as a unit.
type DatasReceiveMessage struct {
	From  int           `json:"from"`
	Datas []LabeledData `json:"datas"`
}

// Kind implements Message.
func (DatasReceiveMessage) Kind() Kind { return KindDatasReceive }

// ConfirmKey implements Confirmable.
func (m DatasReceiveMessage) ConfirmKey() string {
	return fmt.Sprintf("datas|%d|%d", m.From, len(m.Datas))
}

// DatasReceiveConfirmMessage acknowledges one DatasReceiveMessage.
type DatasReceiveConfirmMessage struct {
	From  int `json:"from"`
	Count int `json:"count"`
}

// Kind implements Message.
func (DatasReceiveConfirmMessage) Kind() Kind { return KindDatasReceiveConfirm }

// ConfirmKey returns the key of the entry this acknowledgement settles.
func (m DatasReceiveConfirmMessage) ConfirmKey() string {
	return fmt.Sprintf("datas|%d|%d", m.From, m.Count)
}

// AnnouncePlayerConfigMessage broadcasts build-specific per-player
// configuration (a side channel next to regular gameplay data). Confirmable.
type AnnouncePlayerConfigMessage struct {
	PlayerID int    `json:"player_id"`
	Config   string `json:"config"`
}

// Kind implements Message.
func (AnnouncePlayerConfigMessage) Kind() Kind { return KindAnnouncePlayerConfig }

// ConfirmKey implements Confirmable.
func (m AnnouncePlayerConfigMessage) ConfirmKey() string {
	return fmt.Sprintf("config|%d", m.PlayerID)
}

// ConfirmPlayerConfigMessage acknowledges an AnnouncePlayerConfigMessage.
type ConfirmPlayerConfigMessage struct {
	PlayerID int `json:"player_id"`
}

// Kind implements Message.
func (ConfirmPlayerConfigMessage) Kind() Kind { return KindConfirmPlayerConfig }

// ConfirmKey returns the key of the entry this acknowledgement settles.
func (m ConfirmPlayerConfigMessage) ConfirmKey() string {
	return fmt.Sprintf("config|%d", m.PlayerID)
}

// newMessage returns a zero value of the payload struct for the given kind.
func newMessage(k Kind) (Message, error) {
	switch k {
	case KindConnect:
		return &ConnectMessage{}, nil
	case KindDisconnect:
		return &DisconnectMessage{}, nil
	case KindPing:
		return &PingMessage{}, nil
	case KindJoin:
		return &JoinMessage{}, nil
	case KindJoinConfirm:
		return &JoinConfirmMessage{}, nil
	case KindReady:
		return &ReadyMessage{}, nil
	case KindItemSyncReady:
		return &ItemSyncReadyMessage{}, nil
	case KindReadyConfirm:
		return &ReadyConfirmMessage{}, nil
	case KindReadyDeny:
		return &ReadyDenyMessage{}, nil
	case KindUnready:
		return &UnreadyMessage{}, nil
	case KindRequestSettings:
		return &RequestSettingsMessage{}, nil
	case KindApplySettings:
		return &ApplySettingsMessage{}, nil
	case KindInitiateGame:
		return &InitiateGameMessage{}, nil
	case KindInitiateSyncGame:
		return &InitiateSyncGameMessage{}, nil
	case KindRequestRando:
		return &RequestRandoMessage{}, nil
	case KindRandoGenerated:
		return &RandoGeneratedMessage{}, nil
	case KindResult:
		return &ResultMessage{}, nil
	case KindSave:
		return &SaveMessage{}, nil
	case KindDataSend:
		return &DataSendMessage{}, nil
	case KindDataSendConfirm:
		return &DataSendConfirmMessage{}, nil
	case KindDataReceive:
		return &DataReceiveMessage{}, nil
	case KindDataReceiveConfirm:
		return &DataReceiveConfirmMessage{}, nil
	case KindDatasSend:
		return &DatasSendMessage{}, nil
	case KindDatasSendConfirm:
		return &DatasSendConfirmMessage{}, nil
	case KindDatasReceive:
		return &DatasReceiveMessage{}, nil
	case KindDatasReceiveConfirm:
		return &DatasReceiveConfirmMessage{}, nil
	case KindAnnouncePlayerConfig:
		return &AnnouncePlayerConfigMessage{}, nil
	case KindConfirmPlayerConfig:
		return &ConfirmPlayerConfigMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown message kind %d", uint16(k))
	}
}
