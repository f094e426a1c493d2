package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Action is one of the fixed administrative calls the daemon makes.
type Action string

const (
	ActionDeleteUserData Action = "delete-user-data"
	ActionTransferFunds  Action = "transfer-funds"
)

// Endpoint is the HTTP surface of an action on the admin service.
type Endpoint struct {
	Method string
	Path   string
}

type actionDef struct {
	endpoint Endpoint
	// what the action does, for log lines
	summary string
	decode  func([]byte) (any, error)
}

var actions = map[Action]actionDef{
	ActionDeleteUserData: {
		endpoint: Endpoint{Method: http.MethodDelete, Path: "/admin/user-idv-data"},
		summary:  "deletion of user data from IDV provider databases",
		decode:   decodeInto[DeleteUserDataResponse],
	},
	ActionTransferFunds: {
		endpoint: Endpoint{Method: http.MethodPost, Path: "/admin/transfer-funds"},
		summary:  "transfer of funds",
		decode:   decodeInto[TransferFundsResponse],
	},
}

// Actions lists the known actions in tick order.
func Actions() []Action { return []Action{ActionDeleteUserData, ActionTransferFunds} }

// EndpointFor returns the method and path for a.
func EndpointFor(a Action) (Endpoint, error) {
	def, ok := actions[a]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown admin action %q", a)
	}
	return def.endpoint, nil
}

// DeleteUserDataResponse is the body of DELETE /admin/user-idv-data.
type DeleteUserDataResponse struct {
	Message *string `json:"message,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// TransferFundsResponse is the body of POST /admin/transfer-funds. The
// per-chain receipts are opaque.
type TransferFundsResponse struct {
	Optimism  json.RawMessage `json:"optimism,omitempty"`
	Fantom    json.RawMessage `json:"fantom,omitempty"`
	Avalanche json.RawMessage `json:"avalanche,omitempty"`
	Error     *string         `json:"error,omitempty"`
}

func decodeInto[T any](b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

const (
	DevBaseURL        = "http://localhost:3000"
	ProductionBaseURL = "https://id-server.holonym.io"
)

// ResolveBaseURL maps the environment mode to the admin service address.
// "dev" selects the local server; every other value selects production.
func ResolveBaseURL(mode string) string {
	if strings.TrimSpace(mode) == "dev" {
		return DevBaseURL
	}
	return ProductionBaseURL
}
