package group

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fatihtunali/whisper2-sub000/codec"
	"github.com/fatihtunali/whisper2-sub000/identity"
)

// Sealer builds a signed envelope encrypted to recipient while binding
// toOrGroupID into the signature. Satisfied by the message pipeline.
type Sealer interface {
	Seal(messageType, recipient, toOrGroupID string, plaintext []byte) (*codec.Envelope, error)
}

// Skipped records a member left out of a fan-out and why.
type Skipped struct {
	AccountID string
	Reason    error
}

// FanOutResult is the outcome of one group send: the envelopes to
// submit plus the members that could not be addressed.
type FanOutResult struct {
	Envelopes []*codec.Envelope
	Skipped   []Skipped
}

// ErrNoRecipients indicates a fan-out that produced no envelopes at all.
var ErrNoRecipients = errors.New("group fan-out reached no members")

// Group is a client-side member list. The relay has no group notion;
// membership lives entirely on the devices.
type Group struct {
	ID   string
	Name string

	mu      sync.Mutex
	members map[string]struct{}
}

// New creates a group with the given members. The local account is
// tracked like any other member but never receives its own fan-out.
func New(id, name string, members []string) *Group {
	g := &Group{ID: id, Name: name, members: make(map[string]struct{}, len(members))}
	for _, m := range members {
		g.members[m] = struct{}{}
	}
	return g
}

// AddMember adds an account to the member list.
func (g *Group) AddMember(accountID string) error {
	if err := identity.ValidateAccountID(accountID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[accountID] = struct{}{}
	return nil
}

// RemoveMember drops an account from the member list.
func (g *Group) RemoveMember(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, accountID)
}

// Members returns a snapshot of the member list.
func (g *Group) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.members))
	for m := range g.members {
		out = append(out, m)
	}
	return out
}

// FanOut builds one envelope per member, excluding selfID. A member
// that cannot be addressed is skipped and recorded; the rest of the
// fan-out always proceeds. ErrNoRecipients is returned only when no
// envelope could be built at all.
func FanOut(sealer Sealer, selfID, groupID string, members []string, plaintext []byte) (*FanOutResult, error) {
	result := &FanOutResult{}

	for _, member := range members {
		if member == selfID {
			continue
		}
		env, err := sealer.Seal(codec.TypeGroupText, member, groupID, plaintext)
		if err != nil {
			result.Skipped = append(result.Skipped, Skipped{AccountID: member, Reason: err})
			logrus.WithFields(logrus.Fields{
				"function": "FanOut",
				"group_id": groupID,
				"member":   member,
				"error":    err.Error(),
			}).Warn("Group member skipped during fan-out")
			continue
		}
		result.Envelopes = append(result.Envelopes, env)
	}

	if len(result.Envelopes) == 0 && len(result.Skipped) > 0 {
		return result, ErrNoRecipients
	}

	logrus.WithFields(logrus.Fields{
		"function":  "FanOut",
		"group_id":  groupID,
		"envelopes": len(result.Envelopes),
		"skipped":   len(result.Skipped),
	}).Debug("Group fan-out built")
	return result, nil
}
