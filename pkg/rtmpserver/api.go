package rtmpserver

import (
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
)

type MediaServerConfig struct {
	Bind string
	Port int
}

var errPublisherSink = errors.New("publisher does not accept buffers")

// publisher is the session a pushing RTMP client owns for its stream.
type publisher struct {
	*session.Base
	header []byte
}

func (p *publisher) SendBuffer([]byte) error {
	return errPublisherSink
}

func (p *publisher) StreamHeader() []byte {
	return p.header
}
