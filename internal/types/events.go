package types

// Socket events sent by clients.
const (
	EventSetup         = "setup"
	EventJoinRoom      = "join-room"
	EventNewMessage    = "new-message"
	EventDeleteMessage = "delete-message"
	EventAnswerCall    = "answer-call"
	EventRejectCall    = "reject-call"
	EventEndCall       = "end-call"
)

// Socket events sent by the server. Typing, call-user and ice-candidate
// travel in both directions under the same name.
const (
	EventConnected       = "connected"
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventMessageReceived = "message-received"
	EventMessageDeleted  = "message-deleted"
	EventCallUser        = "call-user"
	EventCallAccepted    = "call-accepted"
	EventCallRejected    = "call-rejected"
	EventIceCandidate    = "ice-candidate"
	EventCallEnded       = "call-ended"
)
