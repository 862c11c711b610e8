package reputation

// ActionName identifies a reputation-earning event
type ActionName string

const (
	CreateTheory         ActionName = "CREATE_THEORY"
	ReceiveUpvote        ActionName = "RECEIVE_UPVOTE"
	ReceiveDownvote      ActionName = "RECEIVE_DOWNVOTE"
	ReceiveForStance     ActionName = "RECEIVE_FOR_STANCE"
	ReceiveAgainstStance ActionName = "RECEIVE_AGAINST_STANCE"
	TakeStance           ActionName = "TAKE_STANCE"
	PostComment          ActionName = "POST_COMMENT"
)

var points = map[ActionName]int{
	CreateTheory:         50,
	ReceiveUpvote:        10,
	ReceiveDownvote:      -5,
	ReceiveForStance:     15,
	ReceiveAgainstStance: 5,
	TakeStance:           5,
	PostComment:          3,
}

// Points returns the delta for an action
func Points(action ActionName) (int, bool) {
	p, ok := points[action]
	return p, ok
}
