package quest

import (
	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
)

// Subject is what rewards and requirements apply to. It is a value and may be
// used off the main loop; it carries no reference to the account itself.
type Subject struct {
	Identity uuid.UUID `json:"identity"`
	Name     string    `json:"name"`
	QuestID  int       `json:"quest_id"`
	Stage    StageRef  `json:"stage"`

	session account.Session
}

func newSubject(acc *account.Account, questID int, ref StageRef) Subject {
	s := Subject{Identity: acc.Identity(), QuestID: questID, Stage: ref, session: acc.Session()}
	if s.session != nil {
		s.Name = s.session.Name()
	}
	return s
}

// Online reports whether the subject's session is connected.
func (s Subject) Online() bool {
	return s.session != nil && s.session.Online()
}

// Notify sends msg to the subject if connected.
func (s Subject) Notify(msg string) {
	if s.Online() {
		s.session.Notify(msg)
	}
}
