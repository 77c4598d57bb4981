package httpapi

import "wgkex/internal/model"

// keyExchangeRequest is the shared v1/v2 request body.
type keyExchangeRequest struct {
	PublicKey string `json:"public_key"`
	Domain    string `json:"domain"`
}

// validationError is a rejection the handler should surface verbatim in
// the 400 body: malformed input maps to 400 with
// {"error":{"message": <str>}}.
type validationError struct {
	message string
}

func (e *validationError) Error() string { return e.message }

func newValidationError(message string) error {
	return &validationError{message: message}
}

// validate checks req against the public key shape, the configured domain
// table, and the deny/allow lists, in that order: a blacklisted key is
// rejected before the bus publish.
func (h *Handler) validate(req keyExchangeRequest) (model.PublicKey, model.Domain, error) {
	key, err := model.ParsePublicKey(req.PublicKey)
	if err != nil {
		return "", "", newValidationError("not a valid WireGuard public key")
	}

	domain, err := h.Domains.ParseDomain(req.Domain)
	if err != nil {
		return "", "", newValidationError("not a valid domain")
	}

	if h.Blacklist != nil && h.Blacklist.IsBlacklisted(string(key)) {
		reason, _ := h.Blacklist.Reason(string(key))
		msg := "public key is blacklisted"
		if reason != "" {
			msg = "public key is blacklisted: " + reason
		}
		return "", "", newValidationError(msg)
	}

	if h.Allowlist != nil && !h.Allowlist.IsAllowed(string(domain), string(key)) {
		return "", "", newValidationError("public key is not on the allow-list for this domain")
	}

	return key, domain, nil
}
