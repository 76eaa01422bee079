package forumsso

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const customFieldPrefix = "custom."

// Payload is the set of user attributes exchanged with Discourse.
type Payload struct {
	Nonce                  string            `json:"nonce"`
	Email                  string            `json:"email"`
	Username               string            `json:"username"`
	Name                   string            `json:"name,omitempty"`
	ExternalID             string            `json:"external_id,omitempty"`
	AvatarURL              string            `json:"avatar_url,omitempty"`
	Bio                    string            `json:"bio,omitempty"`
	Admin                  bool              `json:"admin"`
	Moderator              bool              `json:"moderator"`
	SuppressWelcomeMessage bool              `json:"suppress_welcome_message"`
	RequireActivation      bool              `json:"require_activation,omitempty"`
	ReturnSSOURL           string            `json:"return_sso_url,omitempty"`
	Custom                 map[string]string `json:"custom,omitempty"`
}

// Values renders the payload as form fields. Empty optional fields are left out;
// the role flags are always present.
func (p Payload) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}

	set("nonce", p.Nonce)
	set("email", p.Email)
	set("username", p.Username)
	set("name", p.Name)
	set("external_id", p.ExternalID)
	set("avatar_url", p.AvatarURL)
	set("bio", p.Bio)
	set("return_sso_url", p.ReturnSSOURL)
	v.Set("admin", strconv.FormatBool(p.Admin))
	v.Set("moderator", strconv.FormatBool(p.Moderator))
	v.Set("suppress_welcome_message", strconv.FormatBool(p.SuppressWelcomeMessage))
	if p.RequireActivation {
		v.Set("require_activation", "true")
	}
	for key, value := range p.Custom {
		// "custom." alone names no field and would not decode back.
		if key == "" {
			continue
		}
		v.Set(customFieldPrefix+key, value)
	}

	return v
}

// Encode serializes the payload into the base64 token carried in the sso parameter.
// Keys are emitted in sorted order, so equal payloads encode identically.
func (p Payload) Encode() string {
	return EncodeValues(p.Values())
}

// EncodeValues base64 encodes arbitrary form fields as an sso token.
func EncodeValues(v url.Values) string {
	return base64.StdEncoding.EncodeToString([]byte(v.Encode()))
}

// DecodePayload is the inverse of Encode. It accepts tokens wrapped over several
// lines and tokens in the URL-safe base64 alphabet.
func DecodePayload(token string) (*Payload, error) {
	token = strings.NewReplacer("\r", "", "\n", "").Replace(token)

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		var urlErr error
		if raw, urlErr = base64.URLEncoding.DecodeString(token); urlErr != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrMalformedPayload, err)
		}
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrMalformedPayload, err)
	}

	return payloadFromValues(values)
}

func payloadFromValues(values url.Values) (*Payload, error) {
	p := &Payload{
		Nonce:        values.Get("nonce"),
		Email:        values.Get("email"),
		Username:     values.Get("username"),
		Name:         values.Get("name"),
		ExternalID:   values.Get("external_id"),
		AvatarURL:    values.Get("avatar_url"),
		Bio:          values.Get("bio"),
		ReturnSSOURL: values.Get("return_sso_url"),
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{"admin", &p.Admin},
		{"moderator", &p.Moderator},
		{"suppress_welcome_message", &p.SuppressWelcomeMessage},
		{"require_activation", &p.RequireActivation},
	}
	for _, f := range flags {
		raw := values.Get(f.key)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a boolean", ErrMalformedPayload, f.key)
		}
		*f.dst = b
	}

	for key := range values {
		name, ok := strings.CutPrefix(key, customFieldPrefix)
		if !ok || name == "" {
			continue
		}
		if p.Custom == nil {
			p.Custom = make(map[string]string)
		}
		p.Custom[name] = values.Get(key)
	}

	return p, nil
}

// validateRequired checks the fields an inbound payload must carry.
func (p *Payload) validateRequired() error {
	var missing []string
	if p.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	if p.Username == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompletePayload, strings.Join(missing, ", "))
	}
	return nil
}
