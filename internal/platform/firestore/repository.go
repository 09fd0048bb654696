package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot with its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder narrows a collection query.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection is a typed view over one Firestore collection. T is encoded and decoded through its
// `firestore` struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds T to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Set overwrites (or merges, with firestore.MergeAll) the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) (time.Time, error) {
	doc, err := c.DocumentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := doc.Set(ctx, value, opts...)
	if err != nil {
		return time.Time{}, WrapError(c.op("set"), err)
	}
	return result.UpdateTime, nil
}

// Create fails with a conflict when the id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) (time.Time, error) {
	doc, err := c.DocumentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := doc.Create(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.op("create"), err)
	}
	return result.UpdateTime, nil
}

// Update applies field updates, guarded by optional preconditions.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, opts ...firestore.Precondition) (time.Time, error) {
	doc, err := c.DocumentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := doc.Update(ctx, updates, opts...)
	if err != nil {
		return time.Time{}, WrapError(c.op("update"), err)
	}
	return result.UpdateTime, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.Decode(snapshot)
}

// Query runs the built query and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := c.Decode(snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
}

// DocumentRef is used by transactional code that reads and writes through *firestore.Transaction.
func (c *Collection[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot; a missing document is a not-found error.
func (c *Collection[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	if snapshot == nil || !snapshot.Exists() {
		return Document[T]{}, NewNotFoundError(c.op("decode"), errors.New("firestore: document does not exist"))
	}
	var value T
	if err := snapshot.DataTo(&value); err != nil {
		return Document[T]{}, fmt.Errorf("%s: %w", c.op("decode"), err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       value,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil || c.name == "" {
		return nil, errors.New("firestore: collection is not configured")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
