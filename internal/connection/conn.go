package connection

import (
	"github.com/rickgao/sessionmux/internal/model"
)

// readLoop consumes one client for one generation of c.
func (p *Pool) readLoop(c *conn, gen uint64, client Client) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-client.Done():
			return

		case msg := <-client.Messages():
			p.handleMessage(c, gen, client, msg)

		case err := <-client.Errors():
			// Frames read before the failure are still delivered, in order.
			for drained := false; !drained; {
				select {
				case msg := <-client.Messages():
					p.handleMessage(c, gen, client, msg)
				default:
					drained = true
				}
			}
			p.handleClosed(c, gen, client, err)
			return
		}
	}
}

// current reports whether c is still the live entity at generation gen.
func (p *Pool) current(c *conn, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.conns[c.id]
	return ok && cur == c && c.gen == gen && c.state == StateConnected
}

// handleMessage decodes one frame, settles acknowledgements and broadcasts.
func (p *Pool) handleMessage(c *conn, gen uint64, client Client, raw TimestampedMessage) {
	if !p.current(c, gen) {
		return
	}
	p.metrics.MessageReceived(c.id)

	msg, err := model.Decode(raw.Data)
	if err != nil {
		p.metrics.DecodeFailed(c.id)
		p.logger.Warn("dropping undecodable message",
			"channel", c.id,
			"bytes", len(raw.Data),
			"error", err,
		)
		return
	}
	msg.ChannelID = c.id
	msg.ReceivedAt = raw.ReceivedAt
	msg.Source = model.SourceWS

	if msg.Kind == model.KindAck {
		if msg.HasSequence && p.acks.Acknowledge(c.id, msg.Sequence) {
			p.metrics.AckReceived(c.id)
			p.logger.Debug("ack received", "channel", c.id, "sequence", msg.Sequence)
		}
		return
	}

	if msg.NeedsAck() {
		p.acks.Track(c.id, msg.Sequence)
		if err := p.sendAck(client, msg.Sequence); err != nil {
			p.logger.Warn("failed to send ack",
				"channel", c.id,
				"sequence", msg.Sequence,
				"error", err,
			)
		} else {
			p.metrics.AckSent(c.id)
		}
	}

	p.sink.Broadcast(msg)
}

func (p *Pool) sendAck(client Client, seq uint64) error {
	frame, err := model.EncodeAck(seq, p.now())
	if err != nil {
		return err
	}
	return client.Send(frame)
}

// handleClosed applies a transport failure to c. A normal closure ends in
// StateDisconnected; anything else goes to StateError and is retried.
func (p *Pool) handleClosed(c *conn, gen uint64, client Client, cause error) {
	var changes []StateChange

	p.mu.Lock()
	cur, ok := p.conns[c.id]
	if !ok || cur != c || c.gen != gen || c.state != StateConnected {
		p.mu.Unlock()
		client.Close()
		return
	}
	c.client = nil

	normal := IsNormalClosure(cause)
	if normal {
		changes = p.transitionLocked(changes, c, StateDisconnected, nil)
	} else {
		changes = p.transitionLocked(changes, c, StateError, cause)
		p.scheduleLocked(c)
	}
	p.mu.Unlock()

	client.Close()
	p.notify(changes)

	if normal {
		p.logger.Info("channel closed by peer", "channel", c.id)
	} else {
		p.logger.Warn("connection lost", "channel", c.id, "error", cause)
	}
}
