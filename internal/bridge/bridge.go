// Package bridge is the narrow command interface between the
// orchestration layer and the external network runtime. The runtime
// is an opaque collaborator: one request name plus an argument bag in,
// one response value out. Nothing in this package assumes a command is
// side-effect-free on retry; retries are always the caller's decision.
package bridge

import (
	"context"
	"encoding/json"
)

// Command names understood by the network runtime.
const (
	CmdNodeInit            = "node/init"
	CmdNodeStart           = "node/start"
	CmdNodeStop            = "node/stop"
	CmdNodeStatus          = "node/status"
	CmdNodeEnableAnonymity = "node/enable-anonymity"

	CmdPeersDiscover   = "peers/discover"
	CmdPeersConnect    = "peers/connect"
	CmdPeersDisconnect = "peers/disconnect"
	CmdPeersInfo       = "peers/info"
	CmdPeersConnected  = "peers/connected"

	CmdContentPublish = "content/publish"
	CmdContentRequest = "content/request"
	CmdContentSync    = "content/sync"

	CmdCommunityDiscover = "community/discover"
	CmdCommunityJoin     = "community/join"
	CmdCommunityLeave    = "community/leave"
	CmdCommunityShare    = "community/share"

	CmdAnonymityInit          = "anonymity/init"
	CmdAnonymityStart         = "anonymity/start"
	CmdAnonymityStatus        = "anonymity/status"
	CmdAnonymityBridges       = "anonymity/enable-bridges"
	CmdAnonymitySocks         = "anonymity/use-socks"
	CmdAnonymityHiddenService = "anonymity/create-hidden-service"
	CmdAnonymityRotate        = "anonymity/rotate-circuit"
)

// Commander executes one named command against the network runtime.
// Implementations must honor ctx cancellation and return errors that
// classify through IsTransient/IsPermanent/IsUnreachable.
type Commander interface {
	Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)
}

// CommanderFunc adapts a function to the Commander interface.
type CommanderFunc func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)

// Call invokes the function.
func (f CommanderFunc) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	return f(ctx, command, args)
}
