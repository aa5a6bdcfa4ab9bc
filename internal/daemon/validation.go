package daemon

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidPeerID    = errors.New("invalid peer ID format")
	ErrInvalidNetworkID = errors.New("invalid network ID format")
	ErrInvalidPort      = errors.New("invalid port")
)

var (
	// peerIDRegex covers base58 libp2p IDs and hex node IDs.
	peerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]*$`)

	// networkIDRegex allows the same identifier shape as peer IDs.
	networkIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]*$`)
)

func validatePeerID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: peer ID cannot be empty", ErrInvalidPeerID)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: peer ID exceeds maximum length of 128 characters", ErrInvalidPeerID)
	}
	if !peerIDRegex.MatchString(id) {
		return fmt.Errorf("%w: peer ID contains invalid characters", ErrInvalidPeerID)
	}
	return nil
}

func validateNetworkID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: network ID cannot be empty", ErrInvalidNetworkID)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: network ID exceeds maximum length of 128 characters", ErrInvalidNetworkID)
	}
	if !networkIDRegex.MatchString(id) {
		return fmt.Errorf("%w: network ID contains invalid characters", ErrInvalidNetworkID)
	}
	return nil
}

func validateLocalPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidPort)
	}
	return nil
}
