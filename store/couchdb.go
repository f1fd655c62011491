package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"oip.network/indexd/record"
	"oip.network/indexd/template"
)

// CouchStore implements DocumentRepository over CouchDB, grounded on
// db/repository/couchdb.go's connection-string and get-or-create-DB shape.
// Query selectors are translated to CouchDB's Mango selector syntax.
type CouchStore struct {
	client      *kivik.Client
	recordsDB   *kivik.DB
	templatesDB *kivik.DB
	creatorsDB  *kivik.DB
}

// NewCouchStore connects to url and ensures the records/templates/creators
// databases exist, creating them if absent.
func NewCouchStore(ctx context.Context, url, user, password string) (*CouchStore, error) {
	connectionURL := url
	if user != "" && password != "" && !strings.Contains(connectionURL, "@") {
		parts := strings.SplitN(connectionURL, "://", 2)
		if len(parts) == 2 {
			connectionURL = fmt.Sprintf("%s://%s:%s@%s", parts[0], user, password, parts[1])
		}
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB client: %w", err)
	}

	recordsDB, err := ensureDB(ctx, client, "indexd_records")
	if err != nil {
		return nil, err
	}
	templatesDB, err := ensureDB(ctx, client, "indexd_templates")
	if err != nil {
		return nil, err
	}
	creatorsDB, err := ensureDB(ctx, client, "indexd_creators")
	if err != nil {
		return nil, err
	}

	return &CouchStore{client: client, recordsDB: recordsDB, templatesDB: templatesDB, creatorsDB: creatorsDB}, nil
}

func ensureDB(ctx context.Context, client *kivik.Client, name string) (*kivik.DB, error) {
	db := client.DB(name)
	if err := db.Err(); err != nil {
		if err := client.CreateDB(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to create %s database: %w", name, err)
		}
		db = client.DB(name)
	}
	return db, nil
}

func (s *CouchStore) PutRecord(ctx context.Context, rec *record.Record) error {
	doc := recordToDoc(rec)
	var existing map[string]any
	if err := s.recordsDB.Get(ctx, rec.OIP.Did).ScanDoc(&existing); err == nil {
		if rev, ok := existing["_rev"].(string); ok {
			doc["_rev"] = rev
		}
	}
	_, err := s.recordsDB.Put(ctx, rec.OIP.Did, doc)
	return err
}

func (s *CouchStore) GetRecord(ctx context.Context, did string) (*record.Record, bool, error) {
	var doc map[string]any
	err := s.recordsDB.Get(ctx, did).ScanDoc(&doc)
	if kivik.HTTPStatus(err) == 404 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := docToRecord(doc)
	return rec, true, nil
}

// QueryRecords translates q into a Mango selector and paginates the result.
func (s *CouchStore) QueryRecords(ctx context.Context, q Query) (QueryResult, error) {
	selector := map[string]any{}
	var andTerms []map[string]any

	for _, c := range q.Must {
		andTerms = append(andTerms, clauseToSelector(c))
	}
	if len(q.Should) > 0 {
		var orTerms []map[string]any
		for _, c := range q.Should {
			orTerms = append(orTerms, clauseToSelector(c))
		}
		if q.ShouldMode == ModeAnd {
			andTerms = append(andTerms, orTerms...)
		} else {
			andTerms = append(andTerms, map[string]any{"$or": orTerms})
		}
	}
	if len(andTerms) > 0 {
		selector["$and"] = andTerms
	}

	opts := kivik.Params(map[string]any{"selector": selector, "limit": countMatches(q.Limit, q.Offset)})
	rows := s.recordsDB.Find(ctx, opts)
	defer rows.Close()

	var all []*record.Record
	for rows.Next() {
		var doc map[string]any
		if err := rows.ScanDoc(&doc); err != nil {
			return QueryResult{}, err
		}
		all = append(all, docToRecord(doc))
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}

	sortRecords(all, q.SortBy, q.SortDesc)

	total := len(all)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return QueryResult{Records: all[start:end], Total: total}, nil
}

// countMatches over-fetches generously since Mango doesn't do our full
// scoring/dedup pass; query/ applies the final shape after this returns.
func countMatches(limit, offset int) int {
	if limit <= 0 {
		return 1000
	}
	n := (limit + offset) * 4
	if n < 200 {
		n = 200
	}
	return n
}

func clauseToSelector(c Clause) map[string]any {
	switch c.Op {
	case OpEq:
		return map[string]any{c.Path: map[string]any{"$eq": c.Value}}
	case OpRangeGte:
		return map[string]any{c.Path: map[string]any{"$gte": c.Value}}
	case OpRangeLte:
		return map[string]any{c.Path: map[string]any{"$lte": c.Value}}
	case OpContains:
		return map[string]any{c.Path: map[string]any{"$elemMatch": map[string]any{"$eq": c.Value}}}
	case OpText:
		// Mango has no native tokenized text search; treat as a broad
		// substring candidate filter here and let query/ do the real
		// AND/OR token scoring in memory.
		return map[string]any{c.Path: map[string]any{"$regex": "(?i)" + fmt.Sprint(c.Value)}}
	default:
		return map[string]any{}
	}
}

func sortRecords(recs []*record.Record, sortBy string, desc bool) {
	if sortBy == "" {
		sortBy = "oip.inArweaveBlock"
		desc = true
	}
	less := func(i, j int) bool {
		vi := dottedValue(recs[i], sortBy)
		vj := dottedValue(recs[j], sortBy)
		cmp := compareAny(vi, vj)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	}
	insertionSort(recs, less)
}

func insertionSort(recs []*record.Record, less func(i, j int) bool) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

func compareAny(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprint(a)
	bs := fmt.Sprint(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case *int64:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func dottedValue(rec *record.Record, path string) any {
	switch {
	case path == "did":
		return rec.OIP.Did
	case path == "recordType":
		return rec.OIP.RecordType
	case path == "storage":
		return rec.OIP.Storage
	case path == "inArweaveBlock" || path == "oip.inArweaveBlock":
		return rec.OIP.InArweaveBlock
	case path == "creator.didAddress":
		return rec.OIP.Creator.DidAddress
	case strings.HasPrefix(path, "data."):
		parts := strings.SplitN(strings.TrimPrefix(path, "data."), ".", 2)
		if len(parts) != 2 {
			return nil
		}
		fields, ok := rec.Data[parts[0]]
		if !ok {
			return nil
		}
		return fields[parts[1]]
	default:
		return nil
	}
}

func (s *CouchStore) PutTemplate(ctx context.Context, tmpl *template.Template) error {
	doc := map[string]any{
		"_id":    tmpl.Txid,
		"name":   tmpl.Name,
		"txid":   tmpl.Txid,
		"fields": tmpl.Fields,
		"index":  tmpl.Index,
		"values": tmpl.Values,
	}
	var existing map[string]any
	if err := s.templatesDB.Get(ctx, tmpl.Txid).ScanDoc(&existing); err == nil {
		if rev, ok := existing["_rev"].(string); ok {
			doc["_rev"] = rev
		}
	}
	_, err := s.templatesDB.Put(ctx, tmpl.Txid, doc)
	return err
}

func (s *CouchStore) GetTemplate(ctx context.Context, nameOrTxid string) (*template.Template, bool, error) {
	var doc map[string]any
	err := s.templatesDB.Get(ctx, nameOrTxid).ScanDoc(&doc)
	if kivik.HTTPStatus(err) == 404 {
		found, err := s.findTemplateByName(ctx, nameOrTxid)
		return found, found != nil, err
	}
	if err != nil {
		return nil, false, err
	}
	return docToTemplate(doc), true, nil
}

func (s *CouchStore) findTemplateByName(ctx context.Context, name string) (*template.Template, error) {
	selector := map[string]any{"selector": map[string]any{"name": name}, "limit": 1}
	rows := s.templatesDB.Find(ctx, kivik.Params(selector))
	defer rows.Close()
	if rows.Next() {
		var doc map[string]any
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, err
		}
		return docToTemplate(doc), nil
	}
	return nil, rows.Err()
}

func (s *CouchStore) PutCreator(ctx context.Context, c Creator) error {
	doc := map[string]any{"_id": c.PublicKey, "publicKey": c.PublicKey, "didAddress": c.DidAddress, "handle": c.Handle}
	var existing map[string]any
	if err := s.creatorsDB.Get(ctx, c.PublicKey).ScanDoc(&existing); err == nil {
		if rev, ok := existing["_rev"].(string); ok {
			doc["_rev"] = rev
		}
	}
	_, err := s.creatorsDB.Put(ctx, c.PublicKey, doc)
	return err
}

func (s *CouchStore) GetCreator(ctx context.Context, publicKey string) (Creator, bool, error) {
	var doc map[string]any
	err := s.creatorsDB.Get(ctx, publicKey).ScanDoc(&doc)
	if kivik.HTTPStatus(err) == 404 {
		return Creator{}, false, nil
	}
	if err != nil {
		return Creator{}, false, err
	}
	return Creator{
		PublicKey:  stringField(doc, "publicKey"),
		DidAddress: stringField(doc, "didAddress"),
		Handle:     stringField(doc, "handle"),
	}, true, nil
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func recordToDoc(rec *record.Record) map[string]any {
	return map[string]any{
		"_id":           rec.OIP.Did,
		"data":          rec.Data,
		"oip":           rec.OIP,
		"accessControl": rec.AccessControl,
	}
}

func docToRecord(doc map[string]any) *record.Record {
	rec := &record.Record{Data: record.TemplateData{}}
	if data, ok := doc["data"].(map[string]any); ok {
		for tmpl, raw := range data {
			if fields, ok := raw.(map[string]any); ok {
				rec.Data[tmpl] = fields
			}
		}
	}
	mapToStruct(doc["oip"], &rec.OIP)
	if ac, ok := doc["accessControl"]; ok && ac != nil {
		var accessControl record.AccessControl
		mapToStruct(ac, &accessControl)
		rec.AccessControl = &accessControl
	}
	return rec
}

func docToTemplate(doc map[string]any) *template.Template {
	t := &template.Template{
		Name:   stringField(doc, "name"),
		Txid:   stringField(doc, "txid"),
		Fields: map[string]template.FieldType{},
		Index:  map[string]int{},
		Values: map[string][]string{},
	}
	mapToStruct(doc["fields"], &t.Fields)
	mapToStruct(doc["index"], &t.Index)
	mapToStruct(doc["values"], &t.Values)
	return t
}
