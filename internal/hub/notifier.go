package hub

import (
	"context"

	"alarmflow/internal/access"
	"alarmflow/internal/model"
	"alarmflow/internal/store"
	"alarmflow/logger"
)

// Notifier delivers messages to every live connection of a user, or to
// every user currently entitled to view a page. Audience computation
// always goes through the access resolver; handlers never compute it
// themselves.
type Notifier struct {
	registry *Registry
	resolver *access.Resolver
	store    *store.Store
	log      *logger.Log
}

func NewNotifier(registry *Registry, resolver *access.Resolver, st *store.Store, log *logger.Log) *Notifier {
	return &Notifier{registry: registry, resolver: resolver, store: st, log: log}
}

// SendToUser delivers the message to every live connection of the user.
// Delivery is best effort: a failed write unregisters and closes that
// one connection, and is never surfaced to the caller. A user with zero
// connections silently receives nothing.
func (n *Notifier) SendToUser(userID string, msg model.Message) {
	for _, conn := range n.registry.ConnectionsFor(userID) {
		if err := conn.WriteJSON(msg); err != nil {
			n.log.WithComponent("notifier").WithError(err).WithFields(logger.Fields{
				"user_id": userID,
				"type":    msg.Type,
			}).Warn("dropping dead connection")
			n.registry.Unregister(conn)
			conn.Close()
		}
	}
}

// SendToPageAudience computes the page's current audience via the
// resolver and delivers to each member. This is the sole sanctioned
// broadcast path for mutations.
func (n *Notifier) SendToPageAudience(ctx context.Context, pageID string, msg model.Message) {
	audience, err := n.resolver.AudienceForPage(ctx, pageID)
	if err != nil {
		n.log.WithComponent("notifier").WithError(err).WithFields(logger.Fields{
			"page_id": pageID,
		}).Error("cannot compute audience, broadcast dropped")
		return
	}
	for _, userID := range audience {
		n.SendToUser(userID, msg)
	}
}

// SendInitialState pushes the connect-time snapshot to one connection:
// the user's identity, every accessible page and all alarms on them.
// Subsequent pushes are pure deltas against this baseline.
func (n *Notifier) SendInitialState(ctx context.Context, conn Conn, user model.User) error {
	pages, err := n.resolver.AccessiblePages(ctx, user.ID)
	if err != nil {
		return err
	}
	alarms, err := n.store.AlarmsForPages(ctx, access.PageIDs(pages))
	if err != nil {
		return err
	}
	return conn.WriteJSON(model.Message{
		Type: model.MsgInitialState,
		Payload: model.InitialState{
			User:   user,
			Pages:  pages,
			Alarms: alarms,
		},
	})
}

// SendPageSnapshot pushes the current page plus its alarms to one user.
// Used when a user gains access (share, group join) so new viewers get
// a consistent snapshot instead of a bare notification.
func (n *Notifier) SendPageSnapshot(ctx context.Context, userID string, page model.Page) {
	alarms, err := n.store.AlarmsForPages(ctx, []string{page.ID})
	if err != nil {
		n.log.WithComponent("notifier").WithError(err).WithFields(logger.Fields{
			"page_id": page.ID,
			"user_id": userID,
		}).Error("cannot load page snapshot")
		return
	}
	n.SendToUser(userID, model.Message{
		Type:    model.MsgPageShared,
		Payload: model.PageSnapshot{Page: page, Alarms: alarms},
	})
}

// NotifyRevoked re-checks residual access for each candidate after a
// grant deletion and tells only those who lost their last path to drop
// the page. Candidates who retain access through another grant or group
// receive nothing.
func (n *Notifier) NotifyRevoked(ctx context.Context, pageID string, candidates []string) {
	for _, userID := range candidates {
		stillCanView, err := n.resolver.CanView(ctx, userID, pageID)
		if err != nil {
			n.log.WithComponent("notifier").WithError(err).WithFields(logger.Fields{
				"page_id": pageID,
				"user_id": userID,
			}).Error("cannot re-check access after revoke")
			continue
		}
		if stillCanView {
			continue
		}
		n.SendToUser(userID, model.Message{
			Type:    model.MsgPageRevoked,
			Payload: map[string]interface{}{"page_id": pageID},
		})
	}
}
