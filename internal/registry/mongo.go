package registry

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"horus-core/pkg/types"
)

// Mongo reads the operator-owned collections. Collection names match the
// deployed schema: "clients" and "captain_settings".
type Mongo struct {
	clients  *mongo.Collection
	settings *mongo.Collection
}

// settingsDoc mirrors the captain_settings document with optional fields, so
// documents written before a toggle existed still decode and pick up the
// documented default.
type settingsDoc struct {
	CaptainID         string   `bson:"captain_id"`
	CommissionPercent *float64 `bson:"commission_percent"`
	SpreadLimit       *float64 `bson:"spread_limit"`
	SmartEntry        *bool    `bson:"smart_entry"`
	Notifications     *bool    `bson:"notifications"`
	RiskyMode         *bool    `bson:"risky_mode"`
	AlertEntry        *bool    `bson:"alert_entry"`
	AlertFail         *bool    `bson:"alert_fail"`
	AlertSpread       *bool    `bson:"alert_spread"`
	AlertSmart        *bool    `bson:"alert_smart"`
	AlertWave         *bool    `bson:"alert_wave"`
	AlertNewClient    *bool    `bson:"alert_new_client"`
	AlertClientStop   *bool    `bson:"alert_client_stop"`
}

// NewMongo connects to url and opens the named database.
func NewMongo(ctx context.Context, url, database string) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	return &Mongo{
		clients:  db.Collection("clients"),
		settings: db.Collection("captain_settings"),
	}, nil
}

// Clients returns every client record.
func (m *Mongo) Clients(ctx context.Context) ([]types.Client, error) {
	cur, err := m.clients.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find clients: %w", err)
	}
	defer cur.Close(ctx)

	var out []types.Client
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}
	return out, nil
}

// Client returns one record by id.
func (m *Mongo) Client(ctx context.Context, id string) (types.Client, error) {
	var c types.Client
	err := m.clients.FindOne(ctx, bson.M{"client_id": id}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return types.Client{}, ErrNotFound
	}
	if err != nil {
		return types.Client{}, fmt.Errorf("find client %s: %w", id, err)
	}
	return c, nil
}

// Settings returns the captain settings with defaults applied. A missing
// document yields the full default set.
func (m *Mongo) Settings(ctx context.Context, captainID string) (types.CaptainSettings, error) {
	var doc settingsDoc
	err := m.settings.FindOne(ctx, bson.M{"captain_id": captainID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return types.DefaultSettings(captainID), nil
	}
	if err != nil {
		return types.CaptainSettings{}, fmt.Errorf("find settings %s: %w", captainID, err)
	}

	s := types.DefaultSettings(captainID)
	if doc.CommissionPercent != nil {
		s.CommissionPercent = *doc.CommissionPercent
	}
	if doc.SpreadLimit != nil {
		s.SpreadLimit = *doc.SpreadLimit
	}
	if doc.SmartEntry != nil {
		s.SmartEntry = *doc.SmartEntry
	}
	if doc.Notifications != nil {
		s.Notifications = *doc.Notifications
	}
	if doc.RiskyMode != nil {
		s.RiskyMode = *doc.RiskyMode
	}
	if doc.AlertEntry != nil {
		s.AlertEntry = *doc.AlertEntry
	}
	if doc.AlertFail != nil {
		s.AlertFail = *doc.AlertFail
	}
	if doc.AlertSpread != nil {
		s.AlertSpread = *doc.AlertSpread
	}
	if doc.AlertSmart != nil {
		s.AlertSmart = *doc.AlertSmart
	}
	if doc.AlertWave != nil {
		s.AlertWave = *doc.AlertWave
	}
	if doc.AlertNewClient != nil {
		s.AlertNewClient = *doc.AlertNewClient
	}
	if doc.AlertClientStop != nil {
		s.AlertClientStop = *doc.AlertClientStop
	}
	return s, nil
}
