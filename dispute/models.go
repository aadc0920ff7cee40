package dispute

import "time"

// IssueCategory classifies what went wrong with a delivery.
type IssueCategory string

const (
	IssueDamagedGoods IssueCategory = "damaged_goods"
	IssueMissingItems IssueCategory = "missing_items"
	IssueWrongItems   IssueCategory = "wrong_items"
	IssueQuality      IssueCategory = "quality"
	IssueOther        IssueCategory = "other"
)

func (c IssueCategory) Valid() bool {
	switch c {
	case IssueDamagedGoods, IssueMissingItems, IssueWrongItems, IssueQuality, IssueOther:
		return true
	default:
		return false
	}
}

// MaxPhotoRefs caps the number of photo references per dispute. The refs are
// opaque to this package; validating the files behind them is a collaborator
// concern.
const MaxPhotoRefs = 5

// Record mirrors the disputes table. At most one exists per order, and
// creating it is itself the order's terminal transition to disputed.
type Record struct {
	ID          string
	OrderID     string
	Issue       IssueCategory
	Description string
	PhotoRefs   []string
	CreatedAt   time.Time
}
