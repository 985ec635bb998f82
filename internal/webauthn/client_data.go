package webauthn

import (
	"encoding/base64"
	"encoding/json"
)

// Ceremony types carried in the client data "type" field.
const (
	CeremonyCreate = "webauthn.create"
	CeremonyGet    = "webauthn.get"
)

// ClientData is the parsed collected client data from the browser.
type ClientData struct {
	Type      string
	Challenge []byte
	Origin    string
	// CrossOrigin is nil when the field is absent, which counts as false.
	CrossOrigin *bool
}

type rawClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin *bool  `json:"crossOrigin"`
}

// ParseClientDataJSON decodes the client data JSON. The challenge is
// base64url without padding on the wire.
func ParseClientDataJSON(data []byte) (*ClientData, error) {
	var raw rawClientData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidData
	}
	if raw.Type == "" || raw.Origin == "" {
		return nil, ErrInvalidData
	}

	challenge, err := base64.RawURLEncoding.DecodeString(raw.Challenge)
	if err != nil {
		return nil, ErrInvalidData
	}

	return &ClientData{
		Type:        raw.Type,
		Challenge:   challenge,
		Origin:      raw.Origin,
		CrossOrigin: raw.CrossOrigin,
	}, nil
}

// IsCrossOrigin reports the crossOrigin flag, treating absence as false.
func (c *ClientData) IsCrossOrigin() bool {
	return c.CrossOrigin != nil && *c.CrossOrigin
}
