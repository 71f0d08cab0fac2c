package watch

import (
	"strings"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// ContactLookup resolves a phone number to a display name. Implementations
// talk to the host's address book; lookup failures are treated as no match.
type ContactLookup interface {
	LookupName(number string) (string, error)
}

// PhonebookService answers the device's caller-id queries. The privacy mode
// is applied before any lookup happens, so masked and hidden modes never
// touch the address book.
type PhonebookService struct {
	session *Session
	lookup  ContactLookup
}

// NewPhonebookService creates the phonebook service
func NewPhonebookService(session *Session, lookup ContactLookup) *PhonebookService {
	return &PhonebookService{session: session, lookup: lookup}
}

func (s *PhonebookService) Name() string        { return "phonebook" }
func (s *PhonebookService) CommandType() uint32 { return wire.TypePhonebook }

// Initialize has nothing to probe; the device drives this service
func (s *PhonebookService) Initialize() {}

// HandleCommand processes phonebook frames
func (s *PhonebookService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.ContactQuery:
		s.handleQuery(cmd)
	default:
		logger.Warn(s.session.Name(), "unknown phonebook subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *PhonebookService) handleQuery(cmd *wire.Command) {
	var query wire.ContactQueryPayload
	if err := wire.UnmarshalPayload(cmd.Payload, &query); err != nil {
		logger.Warn(s.session.Name(), "bad contact query: %v", err)
		return
	}

	mode := s.session.Prefs().GetString(PrefContactsPrivacyMode, PrivacyOff)
	reply := wire.ContactReply{Number: query.Number}

	switch mode {
	case PrivacyMask:
		reply.Number = maskNumber(query.Number)
	case PrivacyHideName:
		// Number passes through, name stays empty
	default:
		name := ""
		if s.lookup != nil {
			n, err := s.lookup.LookupName(query.Number)
			if err != nil {
				logger.Debug(s.session.Name(), "contact lookup for %s failed: %v", query.Number, err)
			} else {
				name = n
			}
		}
		reply.Name = name
		if mode == PrivacyHideNumberUnnamed && name == "" {
			reply.Number = ""
		}
	}

	out, err := wire.NewCommand(wire.TypePhonebook, wire.ContactQuery, reply)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build contact reply: %v", err)
		return
	}
	s.session.SendCommand("contact reply", out)
}

// maskNumber hides all but the last two characters
func maskNumber(number string) string {
	if len(number) <= 2 {
		return number
	}
	return strings.Repeat("*", len(number)-2) + number[len(number)-2:]
}

// OnSendConfiguration has no phonebook preferences to push; privacy mode is
// read per query
func (s *PhonebookService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose has no state to clear
func (s *PhonebookService) Dispose() {}
