package domain

// Method names a request or notification kind on the wire.
type Method string

// Requests.
const (
	MethodJoin          Method = "join"
	MethodClosePeer     Method = "closePeer"
	MethodNewRoom       Method = "newRoom"
	MethodChatMessage   Method = "chatMessage"
	MethodDeleteMessage Method = "deleteMessage"
	MethodUpdateRoom    Method = "updateRoom"
	MethodDeleteRoom    Method = "deleteRoom"
	MethodUpdateStatus  Method = "updateStatus"
	MethodPeerUpdate    Method = "peerUpdate"
	// MethodUpdatePeer is the legacy spelling some clients still send.
	MethodUpdatePeer Method = "updatePeer"
)

// Notifications, outbound only.
const (
	MethodNewPeer         Method = "newPeer"
	MethodNewMainPeer     Method = "newMainPeer"
	MethodPeerClosed      Method = "peerClosed"
	MethodMainPeerClosed  Method = "mainPeerClosed"
	MethodRoomCreated     Method = "roomCreated"
	MethodUpdateRoomOnNew Method = "updateRoomOnNew"
)

// Transport event names.
const (
	EventLobbyRequest = "onlinerequest"
	EventRoomRequest  = "mainrequest"
	EventNotification = "mainnotification"
)

// DefaultLobbyID is the group every connection joins first.
const DefaultLobbyID RoomID = "mainonlineroom"
