package adapter

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// registryCollection is the tenant registry collection.
const registryCollection = "_voila_tenants"

func init() {
	Register("mongodb", KindDocument, NewDocument)
	Register("mongodb+srv", KindDocument, NewDocument)
}

// Document is the mongo adapter.
type Document struct {
	reg     *schema.Registry
	mu      sync.Mutex
	clients map[string]*mongoClient
}

// NewDocument creates the document adapter.
func NewDocument(reg *schema.Registry) Adapter {
	return &Document{
		reg:     reg,
		clients: make(map[string]*mongoClient),
	}
}

func (a *Document) Kind() Kind {
	return KindDocument
}

// Client returns the cached client for rawURL, connecting eagerly on first
// use. The database name comes from the URL path, defaulting to "app".
func (a *Document) Client(ctx context.Context, rawURL string) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[rawURL]; ok {
		return c, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apierr.Driver(err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		dbName = "app"
	}

	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(rawURL))
	if err != nil {
		return nil, apierr.Driver(err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		mc.Disconnect(ctx)
		return nil, apierr.Driver(err)
	}

	c := &mongoClient{client: mc, db: mc.Database(dbName), reg: a.reg}
	a.clients[rawURL] = c
	return c, nil
}

// Registry always reports a registry: collections are created on first
// write.
func (a *Document) Registry(c Client) (Registry, bool) {
	dc, ok := Unwrap(c).(*mongoClient)
	if !ok {
		return nil, false
	}
	return &mongoRegistry{c: dc}, true
}

// Evict disconnects and forgets the cached client for url.
func (a *Document) Evict(ctx context.Context, rawURL string) error {
	a.mu.Lock()
	c, ok := a.clients[rawURL]
	delete(a.clients, rawURL)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// Close disconnects every cached client.
func (a *Document) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for url, c := range a.clients {
		if err := c.client.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.clients, url)
	}
	return firstErr
}

type mongoClient struct {
	client *mongo.Client
	db     *mongo.Database
	reg    *schema.Registry
}

func (c *mongoClient) collection(model string) *mongo.Collection {
	name := model
	if m, ok := c.reg.Lookup(model); ok {
		name = m.TableName()
	}
	return c.db.Collection(name)
}

func (c *mongoClient) Execute(ctx context.Context, op *query.Operation) (*query.Result, error) {
	coll := c.collection(op.Model)
	filter := whereToFilter(op.Where)

	switch op.Action {
	case query.ActionFindFirst, query.ActionFindUnique:
		var doc bson.M
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return &query.Result{}, nil
		}
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Rows: []query.Record{query.Record(doc)}, Count: 1}, nil

	case query.ActionFindMany:
		opts := options.Find()
		if op.Limit > 0 {
			opts.SetLimit(int64(op.Limit))
		}
		cur, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		defer cur.Close(ctx)
		var out []query.Record
		for cur.Next(ctx) {
			var doc bson.M
			if err := cur.Decode(&doc); err != nil {
				return nil, apierr.Driver(err)
			}
			out = append(out, query.Record(doc))
		}
		if err := cur.Err(); err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Rows: out, Count: int64(len(out))}, nil

	case query.ActionCount:
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: n}, nil

	case query.ActionCreate:
		if _, err := coll.InsertOne(ctx, bson.M(op.Data)); err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Rows: []query.Record{op.Data}, Count: 1}, nil

	case query.ActionCreateMany:
		docs := make([]any, len(op.Rows))
		for i, row := range op.Rows {
			docs[i] = bson.M(row)
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: int64(len(res.InsertedIDs))}, nil

	case query.ActionUpdate:
		res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M(op.Data)})
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: res.ModifiedCount}, nil

	case query.ActionUpdateMany:
		res, err := coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M(op.Data)})
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: res.ModifiedCount}, nil

	case query.ActionDelete:
		res, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: res.DeletedCount}, nil

	case query.ActionDeleteMany:
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		return &query.Result{Count: res.DeletedCount}, nil

	case query.ActionUpsert:
		set := bson.M(op.Update)
		res, err := coll.UpdateOne(ctx, filter,
			bson.M{"$set": set, "$setOnInsert": setOnInsert(op.Create, op.Update)},
			options.Update().SetUpsert(true))
		if err != nil {
			return nil, apierr.Driver(err)
		}
		n := res.ModifiedCount
		if res.UpsertedCount > 0 {
			n = res.UpsertedCount
		}
		return &query.Result{Count: n}, nil
	}

	return nil, apierr.New(apierr.KindDriver, 500, "unsupported action %q", op.Action)
}

// setOnInsert strips keys already present in $set; mongo rejects updates
// that touch the same path twice.
func setOnInsert(create, update query.Record) bson.M {
	out := bson.M{}
	for k, v := range create {
		if _, dup := update[k]; !dup {
			out[k] = v
		}
	}
	return out
}

// Raw runs a database command given as an extended-JSON document.
func (c *mongoClient) Raw(ctx context.Context, cmd string, args ...any) (*query.Result, error) {
	var command bson.D
	if err := bson.UnmarshalExtJSON([]byte(cmd), true, &command); err != nil {
		return nil, apierr.Driver(err)
	}
	var doc bson.M
	if err := c.db.RunCommand(ctx, command).Decode(&doc); err != nil {
		return nil, apierr.Driver(err)
	}
	return &query.Result{Rows: []query.Record{query.Record(doc)}, Count: 1}, nil
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoClient) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// mongoRegistry implements the tenant registry over a dedicated collection.
type mongoRegistry struct {
	c *mongoClient
}

func (r *mongoRegistry) coll() *mongo.Collection {
	return r.c.db.Collection(registryCollection)
}

func (r *mongoRegistry) EnsureTenant(ctx context.Context, id string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{"_id": id}},
		options.Update().SetUpsert(true))
	if err != nil {
		return apierr.Driver(err)
	}
	return nil
}

func (r *mongoRegistry) RemoveTenant(ctx context.Context, id string) error {
	_, err := r.coll().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apierr.Driver(err)
	}
	return nil
}

func (r *mongoRegistry) TenantExists(ctx context.Context, id string) (bool, error) {
	n, err := r.coll().CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, apierr.Driver(err)
	}
	return n > 0, nil
}

func (r *mongoRegistry) ListTenants(ctx context.Context) ([]string, error) {
	cur, err := r.coll().Find(ctx, bson.M{})
	if err != nil {
		return nil, apierr.Driver(err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, apierr.Driver(err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}
