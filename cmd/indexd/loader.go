package main

import (
	"context"

	"oip.network/indexd/adapter"
	"oip.network/indexd/logging"
	"oip.network/indexd/record"
	"oip.network/indexd/store"
	"oip.network/indexd/template"
)

// storeChainLoader is the production template.Loader (spec §4.A "Template
// loading"): index-first, falling back to the Blockchain Adapter and
// re-indexing on a miss. It lives here rather than in template/ because it
// depends on both store/ and adapter/, and template/ is deliberately free
// of a dependency on store/ (store/ already depends on template/ for the
// Template type in its DocumentRepository interface).
type storeChainLoader struct {
	store *store.Store
	chain adapter.Adapter
	log   *logging.Fields
}

func newStoreChainLoader(st *store.Store, chain adapter.Adapter) *storeChainLoader {
	return &storeChainLoader{store: st, chain: chain, log: logging.New("template-loader")}
}

func (l *storeChainLoader) LoadFromIndex(nameOrTxid string) (*template.Template, bool, error) {
	if l.store == nil || l.store.Documents == nil {
		return nil, false, nil
	}
	return l.store.Documents.GetTemplate(context.Background(), nameOrTxid)
}

// LoadFromChain fetches the template record by txid from the blockchain
// and re-indexes it into the store so future LoadFromIndex calls hit.
func (l *storeChainLoader) LoadFromChain(nameOrTxid string) (*template.Template, error) {
	if l.chain == nil {
		return nil, nil
	}
	rec, err := l.chain.Get(context.Background(), "did:arweave:"+nameOrTxid)
	if err != nil {
		return nil, err
	}
	tmpl := templateFromRecord(rec)
	if tmpl == nil {
		return nil, nil
	}
	if l.store != nil && l.store.Documents != nil {
		if err := l.store.Documents.PutTemplate(context.Background(), tmpl); err != nil {
			l.log.Warnf("failed to re-index template %s: %v", tmpl.Name, err)
		}
	}
	return tmpl, nil
}

// templateFromRecord extracts the {name, fieldsJson} payload spec §3.3
// describes from a template record's data.template fields.
func templateFromRecord(rec *record.Record) *template.Template {
	if rec == nil {
		return nil
	}
	fields, ok := rec.Data["template"]
	if !ok {
		return nil
	}
	name, _ := fields["name"].(string)
	if name == "" {
		name = rec.Name()
	}
	raw, _ := fields["fieldsJson"].(map[string]any)
	if raw == nil {
		return nil
	}
	return template.ParseFieldsJSON(name, rec.OIP.Did, template.FieldsJSON(raw))
}
