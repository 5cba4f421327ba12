package plan

import "errors"

// ErrInvalidSelection is returned when a FinalizedPlan selects zero, or
// more than three, entities.
var ErrInvalidSelection = errors.New("selected_entities must contain between 1 and 3 entities")
