package access

// Label names the kind of a controlled model. Every stored controlled
// model is keyed by (label, id).
type Label string

const (
	LabelLocation  Label = "LOCATION"
	LabelLayout    Label = "LAYOUT"
	LabelUnit      Label = "UNIT"
	LabelDataset   Label = "DATASET"
	LabelGermplasm Label = "GERMPLASM"
	LabelTerm      Label = "TERM"
	LabelProgram   Label = "PROGRAM"
	LabelTrial     Label = "TRIAL"
	LabelStudy     Label = "STUDY"
	LabelReference Label = "REFERENCE"
)

// Key identifies a controlled model.
type Key struct {
	Label Label
	ID    int64
}

// ControlledModel is any stored domain entity under controller discipline.
type ControlledModel interface {
	Label() Label
	ID() int64
}

// ControllerMap indexes controllers by label then id, the shape returned
// by batched controller lookups.
type ControllerMap map[Label]map[int64]*Controller

func (m ControllerMap) Get(key Key) (*Controller, bool) {
	byID, ok := m[key.Label]
	if !ok {
		return nil, false
	}
	c, ok := byID[key.ID]
	return c, ok
}

func (m ControllerMap) Put(key Key, c *Controller) {
	byID, ok := m[key.Label]
	if !ok {
		byID = make(map[int64]*Controller)
		m[key.Label] = byID
	}
	byID[key.ID] = c
}

// UserContext is the resolved access-team set of the acting user: for
// each access level, the teams through which the user is authorised.
type UserContext struct {
	UserID int64
	Teams  map[Access][]int64
}

func NewUserContext(userID int64) *UserContext {
	return &UserContext{UserID: userID, Teams: make(map[Access][]int64)}
}

// TeamsFor returns the user's access-team set at the given level.
func (u *UserContext) TeamsFor(level Access) []int64 {
	if u == nil {
		return nil
	}
	return u.Teams[level]
}

// ControlledAggregate is the granularity at which controlled models are
// loaded, mutated and saved.
type ControlledAggregate interface {
	// ControlledModels enumerates every contained controlled model.
	ControlledModels() []ControlledModel
	// Redacted produces a copy visible to the viewer, hiding or removing
	// inaccessible parts; ok is false when nothing remains visible.
	Redacted(controllers ControllerMap, userID int64, readTeams []int64) (ControlledAggregate, bool)
	// Protected is non-empty when the aggregate must not be removed,
	// naming the reason.
	Protected() string
}
