package server

import "encoding/json"

// Inbound event names.
const (
	EventAuthenticate     = "authenticate"
	EventClientConnection = "clientConnection"
	EventNewTransaction   = "newTransaction"
	EventAllowPublish     = "allowPublish"
	EventSaveDocument     = "saveDocument"
)

// Outbound event names.
const (
	EventClientAuth       = "client_auth"
	EventDocumentTransfer = "document_transfer"
	EventClientConnect    = "client_connect"
	EventClientDisconnect = "client_disconnect"
	EventTransaction      = "new_transaction"
	EventPublishRights    = "publish_rights"
	EventDocumentSaved    = "document_saved"
	EventSaveFailed       = "save_failed"
	EventJoinFailed       = "join_failed"
	EventError            = "error"
)

// Error codes carried by the error event.
const (
	CodeAlreadyJoined      = "already_joined"
	CodeInvalidState       = "invalid_state"
	CodeInvalidTransaction = "invalid_transaction"
	CodeInvalidMessage     = "invalid_message"
	CodePublisherTaken     = "publisher_taken"
	CodeNotPublisher       = "not_publisher"
	CodeUnknownEvent       = "unknown_event"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// encodeEnvelope renders an outbound frame.
// json.RawMessage payloads are written through unchanged.
func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: payload})
}

// AuthData is the authenticate payload.
type AuthData struct {
	UserName string `json:"userName"`
	DocTitle string `json:"docTitle"`
}

// JoinData is the clientConnection payload. SSID is accepted and ignored.
type JoinData struct {
	User  string `json:"user"`
	Title string `json:"title"`
	SSID  string `json:"ssid,omitempty"`
}

// PublishData is the allowPublish payload.
type PublishData struct {
	AllowPublish bool `json:"allowPublish"`
}

// SaveData is the saveDocument payload.
type SaveData struct {
	Transaction json.RawMessage `json:"transaction,omitempty"`
	Summary     string          `json:"summary,omitempty"`
}

// ClientAuth answers authenticate.
type ClientAuth struct {
	SessionID string `json:"sessionID"`
}

// DocumentTransfer is the joiner's initial view.
type DocumentTransfer struct {
	HTML         string   `json:"html"`
	Users        []string `json:"users"`
	AllowPublish bool     `json:"allowPublish"`
	Revision     uint64   `json:"revision"`
}

// PublishRights answers allowPublish.
type PublishRights struct {
	AllowPublish bool `json:"allowPublish"`
}

// DocumentSaved tells every participant a revision was saved.
type DocumentSaved struct {
	Title    string `json:"title"`
	Revision uint64 `json:"revision"`
}

// Failure is the payload of join_failed and save_failed.
type Failure struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// ErrorMessage is the payload of the error event.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
