package core

import (
	"github.com/google/uuid"
	"pkt.systems/carspot/schema"
)

func newSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}
