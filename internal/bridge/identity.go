package bridge

import (
	"context"
	"strconv"

	"chatbridge/internal/inbox"
	"chatbridge/internal/logger"
	"chatbridge/pkg/errors"
	"chatbridge/pkg/models"
)

// Resolver maps gateway addresses onto inbox-side contact and
// conversation records, creating either lazily. All four relay entry
// points may race on the creation path; the inbox platform's uniqueness
// constraint is the arbiter and a Conflict answer just means somebody
// else won.
type Resolver struct {
	inbox  *inbox.Client
	logger logger.Logger
}

func NewResolver(client *inbox.Client, log logger.Logger) *Resolver {
	return &Resolver{
		inbox:  client,
		logger: log,
	}
}

// ResolveContact finds or creates the inbox contact for a gateway
// address. displayNameHint is used for new contacts; the canonical
// address stands in when no hint is available.
func (r *Resolver) ResolveContact(ctx context.Context, gatewayAddress, displayNameHint string) (*models.Contact, error) {
	canonical := NormalizeAddress(gatewayAddress)

	record, err := r.inbox.SearchContact(ctx, canonical)
	if err == nil {
		return r.toContact(canonical, record), nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	name := displayNameHint
	if name == "" {
		name = canonical
	}

	record, err = r.inbox.CreateContact(ctx, name, canonical)
	if err == nil {
		r.logger.InfowCtx(ctx, "Created inbox contact",
			"address", canonical,
			"contact_id", record.ID,
		)
		return r.toContact(canonical, record), nil
	}

	// Concurrent creation race: another entry point registered the same
	// contact first. Re-run the search once.
	if errors.IsConflict(err) {
		r.logger.WarnwCtx(ctx, "Contact creation collided, retrying search",
			"address", canonical,
		)
		record, err = r.inbox.SearchContact(ctx, canonical)
		if err != nil {
			return nil, err
		}
		return r.toContact(canonical, record), nil
	}

	return nil, err
}

// ResolveConversation returns the contact's open conversation on the
// configured channel, creating one when none exists. New conversations
// always reuse the contact's existing channel-binding sourceId; a phone
// number is not a valid sourceId and the platform rejects it.
func (r *Resolver) ResolveConversation(ctx context.Context, contact *models.Contact) (*models.Conversation, error) {
	open, err := r.inbox.ListOpenConversations(ctx)
	if err != nil {
		return nil, err
	}

	for i := range open {
		if NormalizeAddress(open[i].SenderPhone()) == contact.GatewayAddress {
			return &models.Conversation{
				InboxConversationID: open[i].ID,
				ContactID:           contact.InboxContactID,
				SourceID:            contact.SourceID,
			}, nil
		}
	}

	if contact.SourceID == "" {
		return nil, errors.ErrNotFound.
			WithDetail("reason", "contact has no channel binding for the configured inbox").
			WithDetail("contact_id", contact.InboxContactID)
	}

	contactID, err := strconv.Atoi(contact.InboxContactID)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err).WithDetail("contact_id", contact.InboxContactID)
	}

	record, err := r.inbox.CreateConversation(ctx, contact.SourceID, contactID)
	if err != nil {
		return nil, err
	}

	r.logger.InfowCtx(ctx, "Created inbox conversation",
		"conversation_id", record.ID,
		"contact_id", contact.InboxContactID,
	)

	return &models.Conversation{
		InboxConversationID: record.ID,
		ContactID:           contact.InboxContactID,
		SourceID:            contact.SourceID,
	}, nil
}

func (r *Resolver) toContact(canonical string, record *inbox.ContactRecord) *models.Contact {
	return &models.Contact{
		GatewayAddress: canonical,
		InboxContactID: strconv.Itoa(record.ID),
		DisplayName:    record.Name,
		SourceID:       record.SourceIDFor(r.inbox.InboxID()),
	}
}
