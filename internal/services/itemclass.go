package services

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/models"
)

type itemClassSource interface {
	ItemClassIndex(ctx context.Context) (*blizzard.ItemClassIndexResponse, error)
	ItemClass(ctx context.Context, classID int64) (*blizzard.ItemClassResponse, error)
}

type itemClassStore interface {
	UpsertItemClass(ctx context.Context, class models.ItemClass) error
}

// ItemClassCollector refreshes the item taxonomy: the class index plus each
// class's subclasses. Runs rarely; the taxonomy changes once per game patch.
type ItemClassCollector struct {
	client itemClassSource
	store  itemClassStore
	log    *logrus.Entry
}

func NewItemClassCollector(client itemClassSource, store itemClassStore, log *logrus.Entry) *ItemClassCollector {
	return &ItemClassCollector{client: client, store: store, log: log}
}

// Collect fetches and stores every item class. A failed class is logged and
// skipped; the count of stored classes is returned.
func (c *ItemClassCollector) Collect(ctx context.Context) (int, error) {
	index, err := c.client.ItemClassIndex(ctx)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, ref := range index.ItemClasses {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		detail, err := c.client.ItemClass(ctx, ref.ID)
		if err != nil {
			c.log.WithField("class_id", ref.ID).WithError(err).Warn("item class fetch failed")
			continue
		}
		names := make([]string, 0, len(detail.ItemSubclasses))
		for _, sub := range detail.ItemSubclasses {
			names = append(names, sub.Name)
		}
		subclasses, _ := json.Marshal(names)
		class := models.ItemClass{
			ClassID:    detail.ClassID,
			Name:       detail.Name,
			Subclasses: string(subclasses),
		}
		if class.ClassID == 0 {
			class.ClassID = ref.ID
		}
		if err := c.store.UpsertItemClass(ctx, class); err != nil {
			c.log.WithField("class_id", ref.ID).WithError(err).Warn("item class store failed")
			continue
		}
		stored++
	}
	c.log.WithField("classes", stored).Info("item class taxonomy refreshed")
	return stored, nil
}
