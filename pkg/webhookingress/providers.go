package webhookingress

import "encoding/json"

// genericEnvelope is the normalized shape every supported provider's
// webhook body is mapped onto before routing. Real provider payloads
// differ (Instagram nests under "entry[].changes[]", TikTok under
// "data", X under "events[]"); HTTP framing and per-platform schema
// translation is an explicit collaborator concern (§1), so each parser
// below only extracts the three routing fields the ingress pipeline
// needs.
type genericEnvelope struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	RemoteID   string `json:"remote_id"`
}

func parseGeneric(body []byte) (ParsedPayload, error) {
	var env genericEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ParsedPayload{}, err
	}
	return ParsedPayload{
		EventID:    env.EventID,
		EventType:  env.EventType,
		PlatformID: env.RemoteID,
	}, nil
}

// DefaultParsers returns the per-provider payload parsers wired by
// internal/app. All four platforms share the normalized envelope today;
// a platform whose callback schema diverges gets its own parser here
// without touching the ingress pipeline itself.
func DefaultParsers() map[string]PayloadParser {
	return map[string]PayloadParser{
		"instagram": parseGeneric,
		"tiktok":    parseGeneric,
		"x":         parseGeneric,
		"reddit":    parseGeneric,
	}
}

// DefaultProviderConfigs builds the verification config for each
// provider from its signing secret. Instagram and X are not timestamped
// (plain HMAC over the raw body); TikTok and Reddit sign "t.body" and
// carry a separate timestamp header, so the replay window applies.
func DefaultProviderConfigs(instagramSecret, tiktokSecret, xSecret, redditSecret string) Providers {
	return Providers{
		"instagram": {SigningSecret: instagramSecret, Timestamped: false},
		"tiktok":    {SigningSecret: tiktokSecret, Timestamped: true},
		"x":         {SigningSecret: xSecret, Timestamped: false},
		"reddit":    {SigningSecret: redditSecret, Timestamped: true},
	}
}
