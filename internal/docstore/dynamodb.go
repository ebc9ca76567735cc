package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"reel-go/internal/reel"
)

// LookupIndexName is the global secondary index serving indexed queries.
// Its partition key is the string attribute "lookup" and its sort key the
// string attribute "lookupSort"; the projection must be ALL.
const LookupIndexName = "lookup-index"

const (
	attrLookup     = "lookup"
	attrLookupSort = "lookupSort"
)

// LookupIndex declares the query a collection is indexed for: equality on
// Field, ordered by OrderBy.
type LookupIndex struct {
	Collection string
	Field      string
	OrderBy    string
}

// DefaultLookupIndexes covers the change list of a video and the feed.
var DefaultLookupIndexes = []LookupIndex{
	{Collection: reel.ChangesCollection, Field: "videoId", OrderBy: "timestamp"},
	{Collection: reel.VideosCollection, Field: "superseded", OrderBy: "timestamp"},
}

// DynamoStore implements reel.MetadataStore on one DynamoDB table with
// partition key "collection" and sort key "id". Document fields live in a
// map attribute; versions are checked with condition expressions.
//
// A query matching a LookupIndex pages through LookupIndexName with Limit and
// ExclusiveStartKey. Index reads are eventually consistent. Any other query
// reads the collection partition and orders it in memory.
type DynamoStore struct {
	client  *dynamodb.Client
	table   string
	clock   reel.Clock
	idgen   reel.IDGenerator
	indexes map[string]LookupIndex
}

// NewDynamoStore loads the default AWS configuration for region and returns
// a store on table. endpoint overrides the service URL (DynamoDB Local).
func NewDynamoStore(ctx context.Context, table, region, endpoint string, clock reel.Clock, idgen reel.IDGenerator) (*DynamoStore, error) {
	if table == "" {
		return nil, fmt.Errorf("DynamoDB table name cannot be empty")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStoreFromClient(client, table, clock, idgen), nil
}

// NewDynamoStoreFromClient wraps an existing client.
func NewDynamoStoreFromClient(client *dynamodb.Client, table string, clock reel.Clock, idgen reel.IDGenerator) *DynamoStore {
	if clock == nil {
		clock = reel.RealClock{}
	}
	if idgen == nil {
		idgen = reel.UUIDGenerator{}
	}
	indexes := make(map[string]LookupIndex, len(DefaultLookupIndexes))
	for _, idx := range DefaultLookupIndexes {
		indexes[idx.Collection] = idx
	}
	return &DynamoStore{client: client, table: table, clock: clock, idgen: idgen, indexes: indexes}
}

// documentItem is the stored item layout.
type documentItem struct {
	Collection string         `dynamodbav:"collection"`
	ID         string         `dynamodbav:"id"`
	Fields     map[string]any `dynamodbav:"fields"`
	Version    int64          `dynamodbav:"version"`
	CreateTime string         `dynamodbav:"createTime"`
	UpdateTime string         `dynamodbav:"updateTime"`
}

func (s *DynamoStore) Create(ctx context.Context, collection string, fields reel.Document) (string, error) {
	id := s.idgen.New()
	if err := s.CreateWithID(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *DynamoStore) CreateWithID(ctx context.Context, collection, id string, fields reel.Document) error {
	put, err := s.putInput(collection, id, fields, s.clock.Now())
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s/%s already exists: %w", collection, id, reel.ErrConflict)
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, collection, id string) (*reel.Snapshot, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, reel.ErrNotFound)
	}
	return snapshotFromItem(result.Item)
}

func (s *DynamoStore) UpdateFields(ctx context.Context, collection, id string, fields reel.Document, ifVersion int64) (int64, error) {
	upd, err := s.updateInput(collection, id, fields, ifVersion, s.clock.Now())
	if err != nil {
		return 0, err
	}
	upd.ReturnValues = types.ReturnValueUpdatedNew

	out, err := s.client.UpdateItem(ctx, upd)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, s.conditionFailure(ctx, collection, id, ifVersion)
		}
		return 0, fmt.Errorf("failed to update item: %w", err)
	}

	var updated struct {
		Version int64 `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("failed to unmarshal update result: %w", err)
	}
	return updated.Version, nil
}

func (s *DynamoStore) Batch(ctx context.Context, ops []reel.BatchOp) error {
	now := s.clock.Now()
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case reel.BatchCreate:
			put, err := s.putInput(op.Collection, op.ID, op.Fields, now)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:           put.TableName,
				Item:                put.Item,
				ConditionExpression: put.ConditionExpression,
			}})
		case reel.BatchUpdate:
			upd, err := s.updateInput(op.Collection, op.ID, op.Fields, op.IfVersion, now)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 upd.TableName,
				Key:                       upd.Key,
				UpdateExpression:          upd.UpdateExpression,
				ConditionExpression:       upd.ConditionExpression,
				ExpressionAttributeNames:  upd.ExpressionAttributeNames,
				ExpressionAttributeValues: upd.ExpressionAttributeValues,
			}})
		default:
			return fmt.Errorf("unknown batch op kind %d", op.Kind)
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, reason := range tce.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" && i < len(ops) {
					return fmt.Errorf("batch op %d (%s/%s): %w", i, ops[i].Collection, ops[i].ID, reel.ErrConflict)
				}
			}
		}
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

func (s *DynamoStore) Query(ctx context.Context, collection string, q reel.Query) (*reel.Page, error) {
	if idx, ok := s.lookupFor(collection, q); ok {
		return s.queryLookup(ctx, collection, idx, q)
	}
	return s.queryPartition(ctx, collection, q)
}

// lookupFor reports whether q is exactly the query collection is indexed for.
func (s *DynamoStore) lookupFor(collection string, q reel.Query) (LookupIndex, bool) {
	idx, ok := s.indexes[collection]
	if !ok || len(q.Where) != 1 {
		return LookupIndex{}, false
	}
	return idx, q.Where[0].Field == idx.Field && q.OrderBy == idx.OrderBy
}

func (s *DynamoStore) queryLookup(ctx context.Context, collection string, idx LookupIndex, q reel.Query) (*reel.Page, error) {
	input, err := s.lookupInput(collection, idx, q)
	if err != nil {
		return nil, err
	}

	var docs []*reel.Snapshot
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s by %s: %w", collection, idx.Field, err)
		}
		for _, item := range out.Items {
			snap, err := snapshotFromItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, snap)
		}
		if len(out.LastEvaluatedKey) == 0 || (q.Limit > 0 && len(docs) > q.Limit) {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	more := q.Limit > 0 && len(docs) > q.Limit
	if more {
		docs = docs[:q.Limit]
	}
	page := &reel.Page{Docs: docs}
	if len(docs) > 0 {
		if page.NextCursor, err = nextCursor(docs[len(docs)-1], q.OrderBy, more); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// lookupInput builds the index query for q. One extra item is requested so
// the caller can tell whether another page exists.
func (s *DynamoStore) lookupInput(collection string, idx LookupIndex, q reel.Query) (*dynamodb.QueryInput, error) {
	c, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	lookup := lookupKey(collection, idx.Field, q.Where[0].Value)
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(LookupIndexName),
		KeyConditionExpression:    aws.String("#l = :l"),
		ExpressionAttributeNames:  map[string]string{"#l": attrLookup},
		ExpressionAttributeValues: map[string]types.AttributeValue{":l": &types.AttributeValueMemberS{Value: lookup}},
		ScanIndexForward:          aws.Bool(!q.Descending),
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit + 1))
	}
	if c != nil {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"collection":   &types.AttributeValueMemberS{Value: collection},
			"id":           &types.AttributeValueMemberS{Value: c.ID},
			attrLookup:     &types.AttributeValueMemberS{Value: lookup},
			attrLookupSort: &types.AttributeValueMemberS{Value: lookupSortKey(c.Value, c.ID)},
		}
	}
	return input, nil
}

func (s *DynamoStore) queryPartition(ctx context.Context, collection string, q reel.Query) (*reel.Page, error) {
	names := map[string]string{"#c": "collection", "#f": "fields"}
	values := map[string]types.AttributeValue{":c": &types.AttributeValueMemberS{Value: collection}}
	var filters []string
	for i, f := range q.Where {
		if err := checkField(f.Field); err != nil {
			return nil, err
		}
		name, value := "#w"+strconv.Itoa(i), ":w"+strconv.Itoa(i)
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter %s: %w", f.Field, err)
		}
		names[name] = f.Field
		values[value] = av
		filters = append(filters, fmt.Sprintf("#f.%s = %s", name, value))
	}
	if q.OrderBy != "" {
		if err := checkField(q.OrderBy); err != nil {
			return nil, err
		}
	}
	c, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("#c = :c"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
	} else {
		delete(names, "#f")
	}

	var docs []*reel.Snapshot
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", collection, err)
		}
		for _, item := range out.Items {
			snap, err := snapshotFromItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, snap)
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return compareDocs(docs[i], docs[j], q.OrderBy, q.Descending) < 0
	})

	if c != nil {
		marker := &reel.Snapshot{ID: c.ID, Fields: reel.Document{}}
		if q.OrderBy != "" {
			marker.Fields[q.OrderBy] = c.Value
		}
		start := sort.Search(len(docs), func(i int) bool {
			return compareDocs(docs[i], marker, q.OrderBy, q.Descending) > 0
		})
		docs = docs[start:]
	}

	more := q.Limit > 0 && len(docs) > q.Limit
	if more {
		docs = docs[:q.Limit]
	}
	page := &reel.Page{Docs: docs}
	if len(docs) > 0 {
		if page.NextCursor, err = nextCursor(docs[len(docs)-1], q.OrderBy, more); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}

func (s *DynamoStore) putInput(collection, id string, fields reel.Document, now time.Time) (*dynamodb.PutItemInput, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty document id", reel.ErrInvalidReference)
	}
	stamp := reel.FormatTime(now)
	resolved := resolve(fields, now)
	item, err := attributevalue.MarshalMap(documentItem{
		Collection: collection,
		ID:         id,
		Fields:     resolved,
		Version:    1,
		CreateTime: stamp,
		UpdateTime: stamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	if idx, ok := s.indexes[collection]; ok {
		if v, ok := resolved[idx.Field]; ok {
			item[attrLookup] = &types.AttributeValueMemberS{Value: lookupKey(collection, idx.Field, v)}
		}
		if v, ok := resolved[idx.OrderBy]; ok {
			item[attrLookupSort] = &types.AttributeValueMemberS{Value: lookupSortKey(v, id)}
		}
	}
	return &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}, nil
}

func (s *DynamoStore) updateInput(collection, id string, fields reel.Document, ifVersion int64, now time.Time) (*dynamodb.UpdateItemInput, error) {
	names := map[string]string{"#v": "version", "#u": "updateTime"}
	values := map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
		":u":   &types.AttributeValueMemberS{Value: reel.FormatTime(now)},
	}
	sets := []string{"#v = #v + :one", "#u = :u"}

	// Sorted so the expression is stable across calls.
	resolved := resolve(fields, now)
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		names["#f"] = "fields"
	}
	for i, k := range keys {
		if err := checkField(k); err != nil {
			return nil, err
		}
		av, err := attributevalue.Marshal(resolved[k])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", k, err)
		}
		name, value := "#k"+strconv.Itoa(i), ":k"+strconv.Itoa(i)
		names[name] = k
		values[value] = av
		sets = append(sets, fmt.Sprintf("#f.%s = %s", name, value))
	}

	if idx, ok := s.indexes[collection]; ok {
		if v, ok := resolved[idx.Field]; ok {
			names["#lk"] = attrLookup
			values[":lk"] = &types.AttributeValueMemberS{Value: lookupKey(collection, idx.Field, v)}
			sets = append(sets, "#lk = :lk")
		}
		if v, ok := resolved[idx.OrderBy]; ok {
			names["#ls"] = attrLookupSort
			values[":ls"] = &types.AttributeValueMemberS{Value: lookupSortKey(v, id)}
			sets = append(sets, "#ls = :ls")
		}
	}

	cond := "attribute_exists(id)"
	if ifVersion > 0 {
		cond += " AND #v = :expected"
		values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ifVersion, 10)}
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(collection, id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

// conditionFailure tells a missing document apart from a stale version.
func (s *DynamoStore) conditionFailure(ctx context.Context, collection, id string, ifVersion int64) error {
	snap, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s/%s is at version %d, expected %d: %w", collection, id, snap.Version, ifVersion, reel.ErrConflict)
}

// lookupKey is the index partition for documents of collection whose field equals value.
func lookupKey(collection, field string, value any) string {
	return fmt.Sprintf("%s#%s=%v", collection, field, value)
}

// lookupSortKey orders by value, then by id, like compareDocs does for strings.
func lookupSortKey(value any, id string) string {
	return fmt.Sprintf("%v#%s", value, id)
}

func itemKey(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"id":         &types.AttributeValueMemberS{Value: id},
	}
}

func snapshotFromItem(item map[string]types.AttributeValue) (*reel.Snapshot, error) {
	var doc documentItem
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	snap := &reel.Snapshot{ID: doc.ID, Fields: reel.Document(doc.Fields), Version: doc.Version}
	if snap.Fields == nil {
		snap.Fields = reel.Document{}
	}
	var err error
	if snap.CreateTime, err = reel.ParseTime(doc.CreateTime); err != nil {
		return nil, fmt.Errorf("document %s: create time: %w", doc.ID, err)
	}
	if snap.UpdateTime, err = reel.ParseTime(doc.UpdateTime); err != nil {
		return nil, fmt.Errorf("document %s: update time: %w", doc.ID, err)
	}
	return snap, nil
}

// compareDocs orders a and b by the orderBy field, then by ID, honouring desc.
func compareDocs(a, b *reel.Snapshot, orderBy string, desc bool) int {
	cmp := 0
	if orderBy != "" {
		cmp = compareValues(a.Fields[orderBy], b.Fields[orderBy])
	}
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	if desc {
		return -cmp
	}
	return cmp
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

var _ reel.MetadataStore = (*DynamoStore)(nil)
