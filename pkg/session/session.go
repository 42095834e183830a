package session

import (
	"strings"
	"sync/atomic"
	"time"
)

type Kind int

const (
	KindPublisher Kind = iota
	KindPlayer
	KindRecorder
)

func (k Kind) String() string {
	switch k {
	case KindPublisher:
		return "publisher"
	case KindPlayer:
		return "player"
	case KindRecorder:
		return "recorder"
	}
	return "unknown"
}

// Session is the capability set shared by publishers, players and recorders.
// SendBuffer must not retain buf after it returns.
type Session interface {
	ID() string
	Kind() Kind
	Protocol() string
	StreamApp() string
	StreamName() string
	StreamPath() string
	InBytes() uint64
	OutBytes() uint64
	CreateTime() time.Time
	SendBuffer(buf []byte) error
}

// Base carries identity and byte counters. Concrete sessions embed it and
// provide SendBuffer.
type Base struct {
	id         string
	kind       Kind
	protocol   string
	app        string
	name       string
	createTime time.Time

	inBytes  atomic.Uint64
	outBytes atomic.Uint64
}

func NewBase(kind Kind, protocol, app, name string) *Base {
	return &Base{
		id:         GenId(),
		kind:       kind,
		protocol:   protocol,
		app:        app,
		name:       name,
		createTime: time.Now(),
	}
}

func (b *Base) ID() string            { return b.id }
func (b *Base) Kind() Kind            { return b.kind }
func (b *Base) Protocol() string      { return b.protocol }
func (b *Base) StreamApp() string     { return b.app }
func (b *Base) StreamName() string    { return b.name }
func (b *Base) StreamPath() string    { return JoinPath(b.app, b.name) }
func (b *Base) InBytes() uint64       { return b.inBytes.Load() }
func (b *Base) OutBytes() uint64      { return b.outBytes.Load() }
func (b *Base) CreateTime() time.Time { return b.createTime }

func (b *Base) AddInBytes(n int) {
	if n > 0 {
		b.inBytes.Add(uint64(n))
	}
}

func (b *Base) AddOutBytes(n int) {
	if n > 0 {
		b.outBytes.Add(uint64(n))
	}
}

func JoinPath(app, name string) string {
	return "/" + app + "/" + name
}

// SplitPath splits "/app/name" into its parts. The name may itself contain
// slashes; only the first segment is the app. Empty, "." and ".." segments
// are rejected so a stream path can never address a parent directory.
func SplitPath(streamPath string) (app, name string, ok bool) {
	p := strings.TrimPrefix(streamPath, "/")
	i := strings.IndexByte(p, '/')
	if i <= 0 || i == len(p)-1 {
		return "", "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, '\\') {
			return "", "", false
		}
	}
	return p[:i], p[i+1:], true
}
