package query

import (
	"context"
	"sort"
	"time"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

func init() {
	Register("churn_features", &ChurnFeaturesBuilder{
		Users:  "churn_users",
		Orders: "churn_orders",
		Events: "churn_events",
	})
}

// ChurnFeaturesBuilder joins the curated user, order and event tables into one
// feature row per user: order and spend aggregates, event and session counts,
// recency day counts and the user's primary platform, keyed by user_id and
// labeled with churn.
type ChurnFeaturesBuilder struct {
	Users  string
	Orders string
	Events string

	// Now supplies the reference time for the recency features. Nil means
	// time.Now.
	Now func() time.Time
}

var _ FeatureBuilder = (*ChurnFeaturesBuilder)(nil)

type userFeatures struct {
	ageGroup     interface{}
	gender       interface{}
	churn        interface{}
	creation     time.Time
	lastActivity time.Time
	orderCount   int64
	amount       int64
	items        int64
	events       int64
	sessions     map[string]bool
	platform     interface{}
	lastEvent    time.Time
}

// Build reads the three upstream tables in full and aggregates them per user.
// Users without orders or events keep zero counts; orders and events without a
// matching user are left out, as the feature table is keyed by known users.
func (b *ChurnFeaturesBuilder) Build(ctx context.Context, store port.TableStore, target string) (*model.TypedBatch, error) {
	users, usersSeq, err := readTable(ctx, store, b.Users)
	if err != nil {
		return nil, err
	}
	orders, ordersSeq, err := readTable(ctx, store, b.Orders)
	if err != nil {
		return nil, err
	}
	events, eventsSeq, err := readTable(ctx, store, b.Events)
	if err != nil {
		return nil, err
	}

	features := make(map[string]*userFeatures, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		id, ok := asString(u["user_id"])
		if !ok {
			continue
		}
		if _, dup := features[id]; dup {
			continue
		}
		f := &userFeatures{
			ageGroup: u["age_group"],
			gender:   u["gender"],
			churn:    u["churn"],
			sessions: make(map[string]bool),
		}
		if ts, ok := asTime(u["creation_date"]); ok {
			f.creation = ts
		}
		if ts, ok := asTime(u["last_activity_date"]); ok {
			f.lastActivity = ts
		}
		features[id] = f
		ids = append(ids, id)
	}

	for _, o := range orders {
		id, ok := asString(o["user_id"])
		if !ok {
			continue
		}
		f, ok := features[id]
		if !ok {
			continue
		}
		f.orderCount++
		if amount, ok := asInt64(o["amount"]); ok {
			f.amount += amount
		}
		if items, ok := asInt64(o["item_count"]); ok {
			f.items += items
		}
	}

	for _, e := range events {
		id, ok := asString(e["user_id"])
		if !ok {
			continue
		}
		f, ok := features[id]
		if !ok {
			continue
		}
		f.events++
		if session, ok := asString(e["session_id"]); ok {
			f.sessions[session] = true
		}
		if f.platform == nil && e["platform"] != nil {
			f.platform = e["platform"]
		}
		if ts, ok := asTime(e["date"]); ok && ts.After(f.lastEvent) {
			f.lastEvent = ts
		}
	}

	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}

	sort.Strings(ids)
	batch := &model.TypedBatch{
		Target: target,
		Schema: model.NewSchema(target, []model.Field{
			{Name: "user_id", Type: model.FieldTypeString},
			{Name: "age_group", Type: model.FieldTypeInt},
			{Name: "gender", Type: model.FieldTypeInt},
			{Name: "churn", Type: model.FieldTypeInt},
			{Name: "order_count", Type: model.FieldTypeInt},
			{Name: "total_amount", Type: model.FieldTypeInt},
			{Name: "total_item", Type: model.FieldTypeInt},
			{Name: "event_count", Type: model.FieldTypeInt},
			{Name: "session_count", Type: model.FieldTypeInt},
			{Name: "platform", Type: model.FieldTypeString},
			{Name: "last_event", Type: model.FieldTypeTimestamp},
			{Name: "days_since_creation", Type: model.FieldTypeInt},
			{Name: "days_since_last_activity", Type: model.FieldTypeInt},
			{Name: "days_last_event", Type: model.FieldTypeInt},
		}),
		// The mark sums the upstream high-water sequences: it moves whenever any
		// upstream table gains rows, and never moves backwards.
		Origin: model.BatchOrigin{ToSeq: usersSeq + ordersSeq + eventsSeq},
	}
	for _, id := range ids {
		f := features[id]
		row := model.Row{
			"user_id":                  id,
			"age_group":                f.ageGroup,
			"gender":                   f.gender,
			"churn":                    f.churn,
			"order_count":              f.orderCount,
			"total_amount":             f.amount,
			"total_item":               f.items,
			"event_count":              f.events,
			"session_count":            int64(len(f.sessions)),
			"platform":                 f.platform,
			"last_event":               nil,
			"days_since_creation":      daysSince(now, f.creation),
			"days_since_last_activity": daysSince(now, f.lastActivity),
			"days_last_event":          daysSince(now, f.lastEvent),
		}
		if !f.lastEvent.IsZero() {
			row["last_event"] = f.lastEvent
		}
		batch.Rows = append(batch.Rows, model.TypedRow{Values: row})
	}

	logger.Debugf("Built %d feature rows for %s from %d users, %d orders, %d events.",
		len(batch.Rows), target, len(users), len(orders), len(events))
	return batch, nil
}

// daysSince returns the whole days elapsed between ts and now, or nil when the
// source timestamp was never observed.
func daysSince(now, ts time.Time) interface{} {
	if ts.IsZero() {
		return nil
	}
	return int64(now.Sub(ts).Hours() / 24)
}
