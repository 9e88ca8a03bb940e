package rpc

// Close codes sent in IPC CLOSE payloads.
const (
	CloseNormal      = 1000
	CloseUnsupported = 1003
	CloseAbnormal    = 1006
)

// Error codes used for handshake rejection.
const (
	ErrorInvalidClientID = 4000
	ErrorInvalidOrigin   = 4001
	ErrorRateLimited     = 4002
	ErrorTokenRevoked    = 4003
	ErrorInvalidVersion  = 4004
	ErrorInvalidEncoding = 4005
)

// Reply codes carried in command responses.
const (
	codeConnectionsCallback = 1000
	codeDeepLinkRejected    = 1001
	codeInvalidInvite       = 4011
	codeInvalidTemplate     = 4017
)

// ProtocolVersion is the only handshake version accepted by either transport.
const ProtocolVersion = 1

// Command names understood by the dispatcher.
const (
	CmdDispatch             = "DISPATCH"
	CmdSetActivity          = "SET_ACTIVITY"
	CmdConnectionsCallback  = "CONNECTIONS_CALLBACK"
	CmdInviteBrowser        = "INVITE_BROWSER"
	CmdGuildTemplateBrowser = "GUILD_TEMPLATE_BROWSER"
	CmdDeepLink             = "DEEP_LINK"
)
