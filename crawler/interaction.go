package crawler

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const infoBody = "Hi! I am the bot feeding https://search.jabber.network. " +
	"Please see there for my Privacy Policy and what I do."

const ackBody = "Hi, and thank you for your invite. I will consider it. " +
	"It may take a while (approximately two hours) until your suggestion " +
	"is added to the public list. I will not actually join the room, though."

// The InteractionHandler consumes the stanzas addressed to the crawler
// account: invites become crawl candidates, and people talking to the
// bot get a canned explanation, at most once per hour per sender.
type InteractionHandler struct {
	client   xmpp.Client
	analyser *Analyser
	caches   *caching.Caches
	logger   *logrus.Entry

	privileged map[string]bool
}

func NewInteractionHandler(client xmpp.Client, analyser *Analyser, caches *caching.Caches, privileged []types.Address) *InteractionHandler {
	h := &InteractionHandler{
		client:     client,
		analyser:   analyser,
		caches:     caches,
		logger:     logrus.WithField("component", "interaction"),
		privileged: make(map[string]bool, len(privileged)),
	}
	for _, addr := range privileged {
		h.privileged[addr.Bare().String()] = true
	}
	return h
}

// Run consumes incoming messages until ctx is cancelled or the session
// ends.
func (h *InteractionHandler) Run(ctx context.Context) {
	messages := h.client.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			h.handle(ctx, msg)
		}
	}
}

func (h *InteractionHandler) handle(ctx context.Context, msg *xmpp.Message) {
	if msg.Type == xmpp.MessageError {
		return
	}

	if msg.MediatedInviteFrom != nil {
		h.logger.WithField("room", msg.MediatedInviteFrom.String()).
			Debug("Received mediated invite")
		h.analyser.SuggestNowait(Candidate{Address: msg.MediatedInviteFrom.Bare()})
		return
	}

	if msg.DirectInviteTo != nil {
		h.logger.WithField("room", msg.DirectInviteTo.String()).
			Debug("Received direct invite")
		h.analyser.SuggestNowait(Candidate{
			Address:    msg.DirectInviteTo.Bare(),
			Privileged: h.privileged[msg.From.Bare().String()],
		})
		h.caches.MarkSpokenTo(msg.From)
		h.reply(ctx, msg, ackBody)
		return
	}

	if msg.Type == xmpp.MessageGroupchat || msg.Body == "" {
		return
	}
	if h.caches.MarkSpokenTo(msg.From) {
		h.logger.WithField("peer", msg.From.String()).
			Debug("Already introduced myself recently")
		return
	}
	h.reply(ctx, msg, infoBody)
}

func (h *InteractionHandler) reply(ctx context.Context, msg *xmpp.Message, body string) {
	err := h.client.SendMessage(ctx, &xmpp.Message{
		ID:   uuid.NewString(),
		Type: xmpp.MessageChat,
		To:   msg.From,
		Body: body,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to send reply")
	}
}
