package registry

import (
	"github.com/kbats183/simple-media-server/pkg/session"
)

// Registry is the process-wide index of broadcasts by stream path and
// sessions by id. Accessors return copies of the internal containers.
type Registry interface {
	GetOrCreateBroadcast(streamPath string) *Broadcast
	GetBroadcast(streamPath string) (*Broadcast, error)
	GetBroadcasts() map[string]*Broadcast
	RegisterSession(s session.Session)
	UnregisterSession(id string)
	GetSession(id string) (session.Session, error)
	GetSessions() map[string]session.Session
}
