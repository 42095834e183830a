package rtmpserver

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/session"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yapingcat/gomedia/go-codec"
	"github.com/yapingcat/gomedia/go-flv"
)

// flv tag layout: 11 byte tag header, body, 4 byte previous tag size
const (
	flvTagHeaderSize   = 11
	flvPrevTagSizeSize = 4
)

// MediaProducer muxes a publisher's frames into FLV tags and delivers every
// muxed frame to the stream's broadcast as one buffer. The broadcast header
// is the FLV file header followed by the latest audio and video sequence
// headers, so late players and rotated segments can decode from their first
// tag.
type MediaProducer struct {
	pub       *publisher
	registry  registry.Registry
	broadcast *registry.Broadcast
	log       logrus.FieldLogger

	out      bytes.Buffer
	muxer    *flv.FlvWriter
	videoSeq []byte
	audioSeq []byte

	closed atomic.Bool
	die    sync.Once
}

func newMediaProducer(app, name string, reg registry.Registry, log logrus.FieldLogger) (*MediaProducer, error) {
	if _, _, ok := session.SplitPath(session.JoinPath(app, name)); !ok {
		return nil, errors.Wrapf(registry.ErrInvalidStreamPath, "app %q name %q", app, name)
	}
	prod := &MediaProducer{
		pub:      &publisher{Base: session.NewBase(session.KindPublisher, "rtmp", app, name)},
		registry: reg,
	}
	prod.log = log.WithFields(logrus.Fields{"stream": prod.pub.StreamPath(), "session": prod.pub.ID()})
	prod.muxer = flv.CreateFlvWriter(&prod.out)
	if err := prod.muxer.WriteFlvHeader(); err != nil {
		return nil, errors.Wrap(err, "write flv header")
	}
	prod.pub.header = bytes.Clone(prod.out.Bytes())
	prod.out.Reset()

	prod.broadcast = reg.GetOrCreateBroadcast(prod.pub.StreamPath())
	reg.RegisterSession(prod.pub)
	if err := prod.broadcast.AttachPublisher(prod.pub); err != nil {
		reg.UnregisterSession(prod.pub.ID())
		return nil, err
	}
	return prod, nil
}

func (prod *MediaProducer) onFrame(cid codec.CodecID, pts, dts uint32, frame []byte) {
	if prod.closed.Load() {
		return
	}
	defer func() {
		// the muxer panics when a publisher switches codec mid-stream
		if r := recover(); r != nil {
			prod.log.Errorf("FLV mux panicked, closing publisher: %v", r)
			prod.out.Reset()
			_ = prod.Close()
		}
	}()

	var err error
	switch cid {
	case codec.CODECID_VIDEO_H264:
		err = prod.muxer.WriteH264(frame, pts, dts)
	case codec.CODECID_VIDEO_H265:
		err = prod.muxer.WriteH265(frame, pts, dts)
	case codec.CODECID_AUDIO_AAC:
		err = prod.muxer.WriteAAC(frame, pts, dts)
	default:
		prod.log.Debugf("Skip frame with unsupported codec %d", cid)
		return
	}
	if err != nil {
		prod.log.WithError(err).Warn("FLV mux failed")
		prod.out.Reset()
		return
	}
	if prod.out.Len() == 0 {
		return
	}
	if prod.captureSequenceHeaders(prod.out.Bytes()) {
		prod.broadcast.SetHeader(prod.streamHeader())
	}
	// subscribers do not retain delivered buffers, so the mux buffer is reused
	prod.broadcast.Deliver(prod.out.Bytes())
	prod.out.Reset()
}

// captureSequenceHeaders remembers the AVC/HEVC and AAC sequence header tags
// found in buf and reports whether either changed.
func (prod *MediaProducer) captureSequenceHeaders(buf []byte) bool {
	changed := false
	for len(buf) >= flvTagHeaderSize {
		size := int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
		end := flvTagHeaderSize + size + flvPrevTagSizeSize
		if end > len(buf) {
			break
		}
		tag, body := buf[:end], buf[flvTagHeaderSize:flvTagHeaderSize+size]
		switch flv.TagType(buf[0] & 0x1f) {
		case flv.VIDEO_TAG:
			if isVideoSequenceHeader(body) && !bytes.Equal(prod.videoSeq, tag) {
				prod.videoSeq = bytes.Clone(tag)
				changed = true
			}
		case flv.AUDIO_TAG:
			if isAudioSequenceHeader(body) && !bytes.Equal(prod.audioSeq, tag) {
				prod.audioSeq = bytes.Clone(tag)
				changed = true
			}
		}
		buf = buf[end:]
	}
	return changed
}

func isVideoSequenceHeader(body []byte) bool {
	if len(body) < 2 {
		return false
	}
	cid := flv.FLV_VIDEO_CODEC_ID(body[0] & 0x0f)
	return (cid == flv.FLV_AVC || cid == flv.FLV_HEVC) && body[1] == 0
}

func isAudioSequenceHeader(body []byte) bool {
	return len(body) >= 2 && flv.FLV_SOUND_FORMAT(body[0]>>4) == flv.FLV_AAC && body[1] == 0
}

func (prod *MediaProducer) streamHeader() []byte {
	header := make([]byte, 0, len(prod.pub.header)+len(prod.videoSeq)+len(prod.audioSeq))
	header = append(header, prod.pub.header...)
	header = append(header, prod.videoSeq...)
	return append(header, prod.audioSeq...)
}

func (prod *MediaProducer) addInBytes(n int) {
	prod.pub.AddInBytes(n)
}

func (prod *MediaProducer) Closed() bool {
	return prod.closed.Load()
}

func (prod *MediaProducer) Close() error {
	prod.die.Do(func() {
		prod.closed.Store(true)
		prod.broadcast.DetachPublisher(prod.pub)
		prod.registry.UnregisterSession(prod.pub.ID())
		prod.log.WithField("inBytes", prod.pub.InBytes()).Info("Publisher closed")
	})
	return nil
}
