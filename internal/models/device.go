package models

import (
	"regexp"

	"github.com/google/uuid"
)

// DeviceID identifies a device across reconnects.
type DeviceID = uuid.UUID

var (
	macRegex    = regexp.MustCompile(`^[0-9A-F]{12}$`)
	secretRegex = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// MacSecretIdentity identifies a device by its mac address and a shared secret.
type MacSecretIdentity struct {
	Mac    string
	Secret string
}

// NewMacSecretIdentity validates mac and secret.
func NewMacSecretIdentity(mac, secret string, correlationID CorrelationID) (MacSecretIdentity, error) {
	if !macRegex.MatchString(mac) {
		return MacSecretIdentity{}, NewDomainError(
			ErrMacInvalid,
			"Mac is invalid (has to match "+macRegex.String()+").",
			map[string]string{"mac": mac, "regex": macRegex.String()},
			correlationID,
		)
	}
	if !secretRegex.MatchString(secret) {
		return MacSecretIdentity{}, NewDomainError(
			ErrSecretInvalid,
			"Secret is invalid (has to match "+secretRegex.String()+").",
			map[string]string{"regex": secretRegex.String()},
			correlationID,
		)
	}
	return MacSecretIdentity{Mac: mac, Secret: secret}, nil
}

// DeviceActor is an authenticated device acting on its own behalf.
type DeviceActor struct {
	DeviceID DeviceID
	Name     string
	Mac      string
}

func (a DeviceActor) String() string {
	return a.Name + " (" + a.DeviceID.String() + ")"
}
