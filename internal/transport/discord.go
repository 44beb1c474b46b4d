package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/leoscribe/internal/logging"
)

const (
	sampleRate = 48000
	channels   = 2
	// one 20ms frame of stereo samples
	frameSamples = sampleRate / 50 * channels
)

// Discord implements Transport over a discordgo session. Rooms are guild IDs
// and targets are voice channel IDs.
type Discord struct {
	session *discordgo.Session
	ingest  IngestFunc

	mu    sync.Mutex
	conns map[string]*discordConn

	decodeErrCount int64
}

func NewDiscord(s *discordgo.Session, ingest IngestFunc) *Discord {
	return &Discord{
		session: s,
		ingest:  ingest,
		conns:   make(map[string]*discordConn),
	}
}

func (d *Discord) Connect(ctx context.Context, room, target string) (Conn, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := d.session.ChannelVoiceJoin(room, target, false, false)
		ch <- joinResult{vc, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("voice join %s/%s: %w", room, target, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		c := newDiscordConn(d, room, r.vc)
		d.mu.Lock()
		d.conns[room] = c
		d.mu.Unlock()
		go c.receive()
		return c, nil
	}
}

func (d *Discord) Teardown(ctx context.Context, room string) error {
	d.mu.Lock()
	c := d.conns[room]
	delete(d.conns, room)
	d.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
	// Clear the remote-side voice state as well; a voice state update with no
	// channel drops any lingering session on the gateway.
	if err := d.session.ChannelVoiceJoinManual(room, "", true, true); err != nil {
		logging.Debugw("remote voice state clear failed", "room.id", room, "err", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (d *Discord) Rotate(ctx context.Context, room, target string, regions []string) error {
	bridged := false
	for _, region := range regions {
		if err := d.bridgeOnce(ctx, room, region); err != nil {
			logging.Debugw("bridge connect failed", "room.id", room, "region", region, "err", err)
			continue
		}
		bridged = true
		break
	}
	if !bridged {
		return fmt.Errorf("endpoint rotation: no bridge region accepted a session for room %s", room)
	}
	return nil
}

// bridgeOnce creates a throwaway voice channel pinned to region, connects to
// it long enough for the gateway to allocate a fresh endpoint, and deletes it.
func (d *Discord) bridgeOnce(ctx context.Context, room, region string) error {
	ch, err := d.session.GuildChannelCreateComplex(room, discordgo.GuildChannelCreateData{
		Name:      "leoscribe-bridge",
		Type:      discordgo.ChannelTypeGuildVoice,
		UserLimit: 1,
		Bitrate:   64000,
	})
	if err != nil {
		return fmt.Errorf("create bridge channel: %w", err)
	}
	defer func() {
		if _, derr := d.session.ChannelDelete(ch.ID); derr != nil {
			logging.Warnw("bridge channel cleanup failed", "channel.id", ch.ID, "err", derr)
		}
	}()

	// Pin the bridge to the requested RTC region; GuildChannelCreateData has
	// no region field so patch it directly.
	patch := struct {
		RTCRegion string `json:"rtc_region"`
	}{region}
	if _, err := d.session.RequestWithBucketID("PATCH", discordgo.EndpointChannel(ch.ID), patch, discordgo.EndpointChannel(ch.ID)); err != nil {
		return fmt.Errorf("pin bridge region %s: %w", region, err)
	}

	logging.Infow("bridge connect", "room.id", room, "region", region)
	vc, err := d.session.ChannelVoiceJoin(room, ch.ID, true, true)
	if err != nil {
		return err
	}
	defer func() { _ = vc.Disconnect() }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return nil
}

// discordConn owns one guild's voice connection and its receive loop.
type discordConn struct {
	parent *Discord
	room   string
	vc     *discordgo.VoiceConnection

	mu       sync.Mutex
	ssrcMap  map[uint32]string
	decoders map[uint32]*opus.Decoder
	closed   bool
}

func newDiscordConn(parent *Discord, room string, vc *discordgo.VoiceConnection) *discordConn {
	c := &discordConn{
		parent:   parent,
		room:     room,
		vc:       vc,
		ssrcMap:  make(map[uint32]string),
		decoders: make(map[uint32]*opus.Decoder),
	}
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		c.mu.Lock()
		c.ssrcMap[uint32(su.SSRC)] = su.UserID
		c.mu.Unlock()
		logging.Debugw("mapped ssrc to user", "ssrc", su.SSRC, "user.id", su.UserID, "room.id", room)
	})
	return c
}

func (c *discordConn) Ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c *discordConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.vc.Speaking(false)
	return c.vc.Disconnect()
}

// receive drains opus packets from the voice connection, decodes them and
// forwards PCM to the ingest callback. It exits when the connection closes
// and OpusRecv is drained.
func (c *discordConn) receive() {
	for pkt := range c.vc.OpusRecv {
		c.handlePacket(pkt)
	}
	logging.Debugw("voice receive loop ended", "room.id", c.room)
}

func (c *discordConn) handlePacket(pkt *discordgo.Packet) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	dec, ok := c.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(sampleRate, channels)
		if err != nil {
			c.mu.Unlock()
			logging.Errorw("opus decoder init failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		c.decoders[pkt.SSRC] = dec
	}
	speaker := c.ssrcMap[pkt.SSRC]
	c.mu.Unlock()

	pcm := make([]int16, frameSamples)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		atomic.AddInt64(&c.parent.decodeErrCount, 1)
		logging.Debugw("opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}

	// An SSRC is stable for the life of the voice session, so keying on it
	// before the speaking update arrives keeps one speaker's audio in one
	// buffer.
	if speaker == "" {
		speaker = "ssrc:" + strconv.FormatUint(uint64(pkt.SSRC), 10)
	}

	samples := pcm[:n*channels]
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	c.parent.ingest(c.room, speaker, out)
}

// SpeakerName resolves a user ID to a display name, falling back to the raw
// ID when the member cache has nothing better.
func (d *Discord) SpeakerName(room, userID string) string {
	if d.session.State != nil {
		if m, err := d.session.State.Member(room, userID); err == nil && m != nil {
			if m.Nick != "" {
				return m.Nick
			}
			if m.User != nil && m.User.Username != "" {
				return m.User.Username
			}
		}
	}
	if u, err := d.session.User(userID); err == nil && u != nil && u.Username != "" {
		return u.Username
	}
	return userID
}
