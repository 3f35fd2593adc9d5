package domain

import "time"

// LinkCodeTTL is how long an issued linking code stays valid.
const LinkCodeTTL = 10 * time.Minute

// LinkInfo records a completed association between a chat-platform identity
// and an external game identity.
type LinkInfo struct {
	ExternalID   string    `json:"external_id"`
	ExternalName string    `json:"external_name,omitempty"`
	LinkedAt     time.Time `json:"linked_at"`
}

// PendingCode is a short-lived numeric code awaiting verification by the
// game server.
type PendingCode struct {
	Code    string    `json:"code"`
	Expires time.Time `json:"expires"`
}

// LinkTable is the persisted shape of the links table: completed links and
// pending codes, both keyed by chat-platform identity.
type LinkTable struct {
	Links   map[string]LinkInfo    `json:"links"`
	Pending map[string]PendingCode `json:"pending"`
}

func (t *LinkTable) Repair() {
	if t.Links == nil {
		t.Links = map[string]LinkInfo{}
	}
	if t.Pending == nil {
		t.Pending = map[string]PendingCode{}
	}
}
