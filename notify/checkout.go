package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
)

// CheckoutConfirmer implements custody.ConfirmationNotifier: it resolves
// the contact through the catalog snapshot and mails them the list of
// cylinders they just took.
type CheckoutConfirmer struct {
	snap   *catalog.Snapshot
	mailer Mailer
}

func NewCheckoutConfirmer(snap *catalog.Snapshot, mailer Mailer) *CheckoutConfirmer {
	return &CheckoutConfirmer{snap: snap, mailer: mailer}
}

func (n *CheckoutConfirmer) CheckoutConfirmed(ctx context.Context, c custody.Confirmation) error {
	contact, err := n.snap.ContactByID(ctx, c.ContactID)
	if err != nil {
		return err
	}
	if contact.Email == "" {
		return fmt.Errorf("contact %s has no email address", c.ContactID)
	}

	company := string(c.CompanyID)
	if co, err := n.snap.CompanyByID(ctx, c.CompanyID); err == nil {
		company = co.Name
	}

	msg := Message{
		To:      contact.Email,
		Subject: fmt.Sprintf("Cylinder checkout confirmation - %s", company),
		Body: fmt.Sprintf(
			"Hello %s,\n\nThe following cylinders were checked out to %s on %s:\n\n  %s\n\nPlease return them with your samples.\n",
			contact.Name,
			company,
			c.ConfirmedAt.Format("Jan 2, 2006 15:04 MST"),
			strings.Join(c.Numbers, "\n  "),
		),
	}
	return n.mailer.Send(ctx, msg)
}
