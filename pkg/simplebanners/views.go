package simplebanners

import (
	"time"

	"github.com/google/uuid"
)

// PageView is the page as exposed to banner consumers.
type PageView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// SlotView is the slot as exposed to banner consumers.
type SlotView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Page PageView  `json:"page"`
}

// BannerView is the read-side representation of one published snapshot.
type BannerView struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Priority    int        `json:"priority"`
	Countries   []string   `json:"countries"`
	Languages   []string   `json:"languages"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Dismissible bool       `json:"dismissible"`
	Stopped     bool       `json:"stopped"`
	Body        string     `json:"body"`
	Slot        SlotView   `json:"slot"`
	Segments    []string   `json:"segments"`
}

// NewBannerView renders a snapshot for consumers. Lists are never null.
func NewBannerView(s *Snapshot) BannerView {
	return BannerView{
		ID:          s.ID,
		Name:        s.Name,
		Priority:    s.Priority,
		Countries:   nonNil(s.Countries),
		Languages:   nonNil(s.Languages),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Dismissible: s.Dismissible,
		Stopped:     s.Stopped,
		Body:        s.Body,
		Slot: SlotView{
			ID:   s.Slot.ID,
			Name: s.Slot.Name,
			Page: PageView{ID: s.Slot.Page.ID, Name: s.Slot.Page.Name},
		},
		Segments: nonNil(s.Segments),
	}
}

// NewBannerViews renders snapshots in order.
func NewBannerViews(snapshots []*Snapshot) []BannerView {
	views := make([]BannerView, 0, len(snapshots))
	for _, s := range snapshots {
		views = append(views, NewBannerView(s))
	}
	return views
}
